// Package score aggregates detector findings into bounded per-claim
// fraud scores with reason tracking.
package score

import (
	"github.com/clearclaim/kestrel/internal/domain"
)

// Weight binds a detector to its point value and display reason.
type Weight struct {
	Detector string
	Points   int
	Reason   string
}

// Weights is the immutable scoring table. Order is the canonical reason
// order: detector weights first, the prior-fraud bonus always last.
type Weights struct {
	Detectors []Weight

	PriorFraudPoints int
	PriorFraudReason string

	// MaxScore caps the summed score.
	MaxScore int
}

// DefaultWeights returns the standard scoring table.
func DefaultWeights() Weights {
	return Weights{
		Detectors: []Weight{
			{domain.DetectorDuplicates, 40, "Duplicate claim"},
			{domain.DetectorAmounts, 35, "Suspicious amount"},
			{domain.DetectorFrequency, 25, "Excessive frequency"},
			{domain.DetectorPatterns, 20, "Suspicious pattern"},
			{domain.DetectorGeographic, 15, "Geographic anomaly"},
			{domain.DetectorVehicleAge, 15, "Vehicle age anomaly"},
			{domain.DetectorOutliers, 10, "Statistical outlier"},
		},
		PriorFraudPoints: 50,
		PriorFraudReason: "Previously flagged as fraud",
		MaxScore:         100,
	}
}

// Aggregator computes fraud scores from detector findings.
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an aggregator with the given scoring table.
func NewAggregator(weights Weights) *Aggregator {
	return &Aggregator{weights: weights}
}

// Aggregate produces one FraudScore per retained claim. Detector flag
// sets are additive and order-independent, but the reason list always
// follows the canonical weight order.
func (a *Aggregator) Aggregate(batch *domain.ClaimBatch, findings map[string]domain.DetectorFinding) map[string]domain.FraudScore {
	scores := make(map[string]domain.FraudScore, batch.Len())

	for i := range batch.Claims {
		claim := &batch.Claims[i]
		scores[claim.ID] = a.scoreClaim(claim, findings)
	}

	return scores
}

func (a *Aggregator) scoreClaim(claim *domain.Claim, findings map[string]domain.DetectorFinding) domain.FraudScore {
	score := 0
	reasons := []string{}

	for _, w := range a.weights.Detectors {
		finding, ok := findings[w.Detector]
		if !ok {
			continue
		}
		if finding.Contains(claim.ID) {
			score += w.Points
			reasons = append(reasons, w.Reason)
		}
	}

	if claim.PriorFraud() {
		score += a.weights.PriorFraudPoints
		reasons = append(reasons, a.weights.PriorFraudReason)
	}

	if score > a.weights.MaxScore {
		score = a.weights.MaxScore
	}

	amount, _ := claim.Numeric(domain.ColClaimAmount)
	incidentType := claim.IncidentType
	if incidentType == "" {
		incidentType = "Unknown"
	}

	return domain.FraudScore{
		ClaimID:      claim.ID,
		Score:        score,
		RiskBand:     domain.BandForScore(score),
		Reasons:      reasons,
		ClaimAmount:  amount,
		IncidentType: incidentType,
	}
}
