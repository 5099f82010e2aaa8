package rules

import (
	"fmt"
	"strings"

	"github.com/clearclaim/kestrel/internal/domain"
)

// A detector is a pure function over an immutable batch: it never
// mutates shared state, so the set runs concurrently without locks.
type detector struct {
	id     string
	method string
	run    func(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding
}

// detectorSet lists all detectors in canonical evaluation order.
var detectorSet = []detector{
	{domain.DetectorDuplicates, "Duplicate Claims Detection", detectDuplicates},
	{domain.DetectorAmounts, "Suspicious Amount Detection", detectSuspiciousAmounts},
	{domain.DetectorFrequency, "Excessive Frequency Detection", detectExcessiveFrequency},
	{domain.DetectorPatterns, "Suspicious Pattern Detection", detectSuspiciousPatterns},
	{domain.DetectorGeographic, "Geographic Anomaly Detection", detectGeographicAnomalies},
	{domain.DetectorVehicleAge, "Vehicle Age Anomaly Detection", detectVehicleAgeAnomalies},
	{domain.DetectorOutliers, "Statistical Outlier Detection", detectOutliers},
}

// hasColumns reports whether the batch carries enough of a detector's
// relevant columns: at least 3, or all of them when fewer exist.
func hasColumns(batch *domain.ClaimBatch, cols ...domain.Column) bool {
	need := 3
	if len(cols) < need {
		need = len(cols)
	}
	return batch.CountColumns(cols...) >= need
}

// levelFor returns flagged, the empty-safe risk label for a detector whose
// findings carry the given base severity.
func levelFor(flagged []string, level domain.RiskLevel) domain.RiskLevel {
	if len(flagged) == 0 {
		return domain.RiskLow
	}
	return level
}

// detectDuplicates flags every claim whose grouping tuple of
// (zip, incident date, amount, make, model) appears more than once.
// The tuple shrinks to the columns the batch actually carries.
func detectDuplicates(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{
		domain.ColInsuredZip,
		domain.ColIncidentDate,
		domain.ColClaimAmount,
		domain.ColAutoMake,
		domain.ColAutoModel,
	}

	var available []domain.Column
	for _, col := range cols {
		if batch.HasColumn(col) {
			available = append(available, col)
		}
	}
	if len(available) < 3 {
		return domain.NewFinding(domain.DetectorDuplicates, "Duplicate Claims Detection", nil, domain.RiskLow)
	}

	keys := make([]string, batch.Len())
	multiplicity := make(map[string]int, batch.Len())
	for i := range batch.Claims {
		key := groupingKey(&batch.Claims[i], available)
		keys[i] = key
		multiplicity[key]++
	}

	var flagged []string
	for i := range batch.Claims {
		if multiplicity[keys[i]] > th.DuplicateFloor {
			flagged = append(flagged, batch.Claims[i].ID)
		}
	}

	return domain.NewFinding(domain.DetectorDuplicates, "Duplicate Claims Detection", flagged, levelFor(flagged, domain.RiskHigh))
}

// groupingKey builds the duplicate-detection tuple for one claim over the
// available columns. Absent values get a distinct sentinel so that two
// claims both missing a field still compare equal on it.
func groupingKey(c *domain.Claim, cols []domain.Column) string {
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		if !c.Has(col) {
			parts = append(parts, "\x00")
			continue
		}
		switch col {
		case domain.ColInsuredZip:
			parts = append(parts, c.InsuredZip)
		case domain.ColIncidentDate:
			parts = append(parts, c.IncidentDate.Format("2006-01-02"))
		case domain.ColClaimAmount:
			parts = append(parts, fmt.Sprintf("%.2f", c.ClaimAmount))
		case domain.ColAutoMake:
			parts = append(parts, c.AutoMake)
		case domain.ColAutoModel:
			parts = append(parts, c.AutoModel)
		}
	}
	return strings.Join(parts, "\x1f")
}

// detectSuspiciousAmounts flags claims whose amount exceeds the expected
// amount for their incident type, adjusted by severity and the calibrated
// ratio multiplier. The comparison is strict.
func detectSuspiciousAmounts(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{domain.ColClaimAmount, domain.ColIncidentType, domain.ColIncidentSeverity}
	if !hasColumns(batch, cols...) {
		return domain.NewFinding(domain.DetectorAmounts, "Suspicious Amount Detection", nil, domain.RiskLow)
	}

	var flagged []string
	for i := range batch.Claims {
		c := &batch.Claims[i]

		amount, _ := c.Numeric(domain.ColClaimAmount)
		incidentType := c.IncidentType
		if !c.Has(domain.ColIncidentType) {
			incidentType = "Unknown"
		}
		severity := c.IncidentSeverity
		if !c.Has(domain.ColIncidentSeverity) {
			severity = "Unknown"
		}

		adjusted := cfg.expectedAmount(incidentType) * cfg.severityMultiplier(severity)
		if amount > adjusted*th.AmountRatio {
			flagged = append(flagged, c.ID)
		}
	}

	return domain.NewFinding(domain.DetectorAmounts, "Suspicious Amount Detection", flagged, levelFor(flagged, domain.RiskHigh))
}

// detectExcessiveFrequency flags every claim belonging to a policy whose
// in-window claim count exceeds the calibrated cutoff.
func detectExcessiveFrequency(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{domain.ColPolicyNumber, domain.ColIncidentDate}
	if !hasColumns(batch, cols...) {
		return domain.NewFinding(domain.DetectorFrequency, "Excessive Frequency Detection", nil, domain.RiskLow)
	}

	cutoff := th.AsOf.Add(-th.Window)

	counts := make(map[string]float64)
	for i := range batch.Claims {
		c := &batch.Claims[i]
		if c.IncidentDate.Before(cutoff) {
			continue
		}
		counts[c.PolicyNumber]++
	}

	var flagged []string
	for i := range batch.Claims {
		c := &batch.Claims[i]
		if c.IncidentDate.Before(cutoff) {
			continue
		}
		if counts[c.PolicyNumber] > th.FrequencyCutoff {
			flagged = append(flagged, c.ID)
		}
	}

	return domain.NewFinding(domain.DetectorFrequency, "Excessive Frequency Detection", flagged, levelFor(flagged, domain.RiskMedium))
}

// detectSuspiciousPatterns flags a claim when any of five independent
// red-flag predicates fires.
func detectSuspiciousPatterns(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{
		domain.ColWitnesses,
		domain.ColPoliceReport,
		domain.ColIncidentHour,
		domain.ColVehiclesInvolved,
		domain.ColClaimAmount,
		domain.ColInsuredOccupation,
		domain.ColInsuredHobbies,
	}
	if !hasColumns(batch, cols...) {
		return domain.NewFinding(domain.DetectorPatterns, "Suspicious Pattern Detection", nil, domain.RiskLow)
	}

	var flagged []string
	for i := range batch.Claims {
		c := &batch.Claims[i]
		if suspiciousPattern(cfg, c, th) {
			flagged = append(flagged, c.ID)
		}
	}

	return domain.NewFinding(domain.DetectorPatterns, "Suspicious Pattern Detection", flagged, levelFor(flagged, domain.RiskMedium))
}

func suspiciousPattern(cfg Config, c *domain.Claim, th domain.Thresholds) bool {
	witnesses, ok := c.Numeric(domain.ColWitnesses)
	if !ok {
		witnesses = 0
	}
	if witnesses == 0 && strings.EqualFold(strings.TrimSpace(c.PoliceReport), "no") {
		return true
	}

	hour, ok := c.Numeric(domain.ColIncidentHour)
	if !ok {
		hour = 12
	}
	if hour >= 22 || hour <= 4 {
		return true
	}

	vehicles, ok := c.Numeric(domain.ColVehiclesInvolved)
	if !ok {
		vehicles = 2
	}
	amount, _ := c.Numeric(domain.ColClaimAmount)
	if vehicles == 1 && amount > th.HighRiskAmount {
		return true
	}

	occupation := strings.ToLower(c.InsuredOccupation)
	for _, o := range cfg.SuspiciousOccupations {
		if strings.Contains(occupation, o) {
			return true
		}
	}

	hobbies := strings.ToLower(c.InsuredHobbies)
	for _, h := range cfg.HighRiskHobbies {
		if strings.Contains(hobbies, h) {
			return true
		}
	}

	return false
}

// detectGeographicAnomalies flags claims filed in a different state than
// the policy was bound in. Comparison is case-insensitive.
func detectGeographicAnomalies(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{domain.ColIncidentState, domain.ColPolicyState}
	if !hasColumns(batch, cols...) {
		return domain.NewFinding(domain.DetectorGeographic, "Geographic Anomaly Detection", nil, domain.RiskLow)
	}

	var flagged []string
	for i := range batch.Claims {
		c := &batch.Claims[i]
		if !c.Has(domain.ColIncidentState) || !c.Has(domain.ColPolicyState) {
			continue
		}
		if !strings.EqualFold(c.IncidentState, c.PolicyState) {
			flagged = append(flagged, c.ID)
		}
	}

	return domain.NewFinding(domain.DetectorGeographic, "Geographic Anomaly Detection", flagged, levelFor(flagged, domain.RiskMedium))
}

// detectVehicleAgeAnomalies flags high-value claims on old vehicles.
// Non-numeric manufacture years are skipped, never fatal.
func detectVehicleAgeAnomalies(cfg Config, batch *domain.ClaimBatch, th domain.Thresholds) domain.DetectorFinding {
	cols := []domain.Column{domain.ColAutoYear, domain.ColClaimAmount}
	if !hasColumns(batch, cols...) {
		return domain.NewFinding(domain.DetectorVehicleAge, "Vehicle Age Anomaly Detection", nil, domain.RiskLow)
	}

	var flagged []string
	for i := range batch.Claims {
		c := &batch.Claims[i]
		age, ok := c.VehicleAge(th.AsOf)
		if !ok {
			continue
		}
		amount, _ := c.Numeric(domain.ColClaimAmount)
		if age > cfg.VehicleAgeLimit && amount > cfg.VehicleAgeAmount {
			flagged = append(flagged, c.ID)
		}
	}

	return domain.NewFinding(domain.DetectorVehicleAge, "Vehicle Age Anomaly Detection", flagged, levelFor(flagged, domain.RiskMedium))
}
