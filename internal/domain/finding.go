package domain

import (
	"sort"
	"time"
)

// RiskLevel is the qualitative label a detector assigns to its finding.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskBand is the coarse bucket derived from a claim's numeric score.
type RiskBand string

const (
	BandMinimal RiskBand = "MINIMAL"
	BandLow     RiskBand = "LOW"
	BandMedium  RiskBand = "MEDIUM"
	BandHigh    RiskBand = "HIGH"
)

// BandForScore maps a 0-100 fraud score to its risk band.
func BandForScore(score int) RiskBand {
	switch {
	case score >= 70:
		return BandHigh
	case score >= 40:
		return BandMedium
	case score >= 20:
		return BandLow
	default:
		return BandMinimal
	}
}

// Stable detector identifiers keying the per-run findings map.
const (
	DetectorDuplicates = "duplicate_claims"
	DetectorAmounts    = "suspicious_amounts"
	DetectorFrequency  = "excessive_frequency"
	DetectorPatterns   = "suspicious_patterns"
	DetectorGeographic = "geographic_anomalies"
	DetectorVehicleAge = "vehicle_age_anomalies"
	DetectorOutliers   = "statistical_outliers"
)

// DetectorFinding is one detector's immutable output for a run.
type DetectorFinding struct {
	// Detector is the stable identifier the finding is keyed by in the
	// run's result map.
	Detector string `json:"detector"`

	// Method is the human-readable detector name.
	Method string `json:"method"`

	// FlaggedIDs lists flagged claim ids in batch order.
	FlaggedIDs []string `json:"flaggedClaims"`

	TotalFlagged int       `json:"totalFlagged"`
	RiskLevel    RiskLevel `json:"riskLevel"`

	flagged map[string]struct{}
}

// NewFinding builds a finding and indexes the flagged set for lookups.
func NewFinding(detector, method string, flaggedIDs []string, level RiskLevel) DetectorFinding {
	set := make(map[string]struct{}, len(flaggedIDs))
	for _, id := range flaggedIDs {
		set[id] = struct{}{}
	}
	return DetectorFinding{
		Detector:     detector,
		Method:       method,
		FlaggedIDs:   flaggedIDs,
		TotalFlagged: len(flaggedIDs),
		RiskLevel:    level,
		flagged:      set,
	}
}

// Contains reports whether the finding flagged the given claim.
func (f *DetectorFinding) Contains(claimID string) bool {
	if f.flagged != nil {
		_, ok := f.flagged[claimID]
		return ok
	}
	// Findings deserialized from storage carry only the slice.
	for _, id := range f.FlaggedIDs {
		if id == claimID {
			return true
		}
	}
	return false
}

// FraudScore is the final per-claim scoring output of a run.
type FraudScore struct {
	ClaimID      string   `json:"claimId"`
	Score        int      `json:"score"`
	RiskBand     RiskBand `json:"riskLevel"`
	Reasons      []string `json:"reasons"`
	ClaimAmount  float64  `json:"claimAmount"`
	IncidentType string   `json:"incidentType"`
}

// Analysis is the complete result of one batch run: calibrated
// thresholds, per-detector findings, and per-claim scores.
type Analysis struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Thresholds Thresholds                 `json:"thresholds"`
	Findings   map[string]DetectorFinding `json:"findings"`
	Scores     map[string]FraudScore      `json:"scores"`

	// ClaimIDs preserves batch order for deterministic iteration.
	ClaimIDs []string `json:"claimIds"`

	Retained int `json:"retained"`
	Dropped  int `json:"dropped"`

	Timestamp     time.Time `json:"timestamp"`
	ProcessMs     int64     `json:"processMs"`
	EngineVersion string    `json:"engineVersion"`
}

// TopScores returns the n highest-scoring claims, ties broken by batch
// order so results are stable across runs.
func (a *Analysis) TopScores(n int) []FraudScore {
	ranked := make([]FraudScore, 0, len(a.ClaimIDs))
	for _, id := range a.ClaimIDs {
		if s, ok := a.Scores[id]; ok {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// AlertIDs returns the claims whose score landed in the HIGH band.
func (a *Analysis) AlertIDs() []string {
	var ids []string
	for _, id := range a.ClaimIDs {
		if s, ok := a.Scores[id]; ok && s.RiskBand == BandHigh {
			ids = append(ids, id)
		}
	}
	return ids
}
