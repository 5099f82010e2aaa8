package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotLoaded is returned when calibration or scoring is requested
// against an empty or unloaded batch.
var ErrNotLoaded = errors.New("claim batch is empty or not loaded")

// Incident date layouts accepted at load time, tried in order.
var incidentDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// ClaimBatch is an ordered collection of claims loaded together.
// It is immutable after NewBatch returns: detectors read it concurrently
// without coordination.
type ClaimBatch struct {
	Claims []Claim

	// Retained and Dropped report the load outcome: records without a
	// parseable incident date are excluded from analysis.
	Retained int
	Dropped  int

	LoadedAt time.Time

	columns map[Column]bool
	byID    map[string]int
}

// NewBatch converts ingest records into an analysis-ready batch.
// Records lacking a parseable incident date are dropped. Claims without an
// identifier get a sequential CLAIM_%06d id; duplicate supplied ids are
// suffixed to keep ids unique within the batch.
func NewBatch(records []ClaimRecord, loadedAt time.Time) *ClaimBatch {
	b := &ClaimBatch{
		LoadedAt: loadedAt,
		columns:  make(map[Column]bool),
		byID:     make(map[string]int),
	}

	for i, rec := range records {
		if rec.IncidentDate == nil {
			b.Dropped++
			continue
		}
		date, ok := parseIncidentDate(*rec.IncidentDate)
		if !ok {
			b.Dropped++
			continue
		}

		c := claimFromRecord(rec)
		c.IncidentDate = date

		if c.ID == "" {
			c.ID = fmt.Sprintf("CLAIM_%06d", i)
		}
		if _, taken := b.byID[c.ID]; taken {
			c.ID = fmt.Sprintf("%s_%d", c.ID, i)
		}

		for col := range c.present {
			b.columns[col] = true
		}
		b.byID[c.ID] = len(b.Claims)
		b.Claims = append(b.Claims, c)
	}

	b.Retained = len(b.Claims)
	return b
}

// RestoredBatch rebuilds a batch from claims loaded back out of storage.
// Column availability and id lookup are reconstructed from the claims
// themselves; Retained reflects the restored set and Dropped is zero.
func RestoredBatch(claims []Claim, loadedAt time.Time) *ClaimBatch {
	b := &ClaimBatch{
		Claims:   claims,
		Retained: len(claims),
		LoadedAt: loadedAt,
		columns:  make(map[Column]bool),
		byID:     make(map[string]int, len(claims)),
	}
	for i := range claims {
		for col := range claims[i].present {
			b.columns[col] = true
		}
		b.byID[claims[i].ID] = i
	}
	return b
}

// Len returns the number of retained claims.
func (b *ClaimBatch) Len() int {
	return len(b.Claims)
}

// HasColumn reports whether any retained record supplied the column.
func (b *ClaimBatch) HasColumn(col Column) bool {
	return b.columns[col]
}

// CountColumns returns how many of the given columns the batch carries.
func (b *ClaimBatch) CountColumns(cols ...Column) int {
	n := 0
	for _, col := range cols {
		if b.columns[col] {
			n++
		}
	}
	return n
}

// Claim returns the retained claim with the given id.
func (b *ClaimBatch) Claim(id string) (*Claim, bool) {
	idx, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return &b.Claims[idx], true
}

func parseIncidentDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range incidentDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func claimFromRecord(rec ClaimRecord) Claim {
	c := Claim{present: make(map[Column]bool)}

	setStr := func(col Column, p *string, dst *string) {
		if p != nil {
			*dst = *p
			c.present[col] = true
		}
	}
	setFlex := func(col Column, p *FlexString, dst *string) {
		if p != nil {
			*dst = string(*p)
			c.present[col] = true
		}
	}
	setNum := func(col Column, p *float64, dst *float64) {
		if p != nil {
			*dst = *p
			c.present[col] = true
		}
	}

	setFlex(ColClaimID, rec.ClaimID, &c.ID)
	setFlex(ColPolicyNumber, rec.PolicyNumber, &c.PolicyNumber)
	if rec.IncidentDate != nil {
		c.present[ColIncidentDate] = true
	}
	setStr(ColIncidentType, rec.IncidentType, &c.IncidentType)
	setStr(ColIncidentSeverity, rec.IncidentSeverity, &c.IncidentSeverity)
	setStr(ColIncidentState, rec.IncidentState, &c.IncidentState)
	setStr(ColPolicyState, rec.PolicyState, &c.PolicyState)
	setFlex(ColInsuredZip, rec.InsuredZip, &c.InsuredZip)
	setStr(ColInsuredOccupation, rec.InsuredOccupation, &c.InsuredOccupation)
	setStr(ColInsuredHobbies, rec.InsuredHobbies, &c.InsuredHobbies)
	setStr(ColAutoMake, rec.AutoMake, &c.AutoMake)
	setStr(ColAutoModel, rec.AutoModel, &c.AutoModel)
	setFlex(ColAutoYear, rec.AutoYear, &c.AutoYear)
	setNum(ColClaimAmount, rec.TotalClaimAmount, &c.ClaimAmount)
	setNum(ColMonthsAsCustomer, rec.MonthsAsCustomer, &c.MonthsAsCustomer)
	setNum(ColAge, rec.Age, &c.Age)
	setNum(ColAnnualPremium, rec.PolicyAnnualPremium, &c.AnnualPremium)
	setNum(ColIncidentHour, rec.IncidentHour, &c.IncidentHour)
	setNum(ColVehiclesInvolved, rec.VehiclesInvolved, &c.VehiclesInvolved)
	setNum(ColWitnesses, rec.Witnesses, &c.Witnesses)
	setStr(ColPoliceReport, rec.PoliceReportAvailable, &c.PoliceReport)
	setStr(ColPropertyDamage, rec.PropertyDamage, &c.PropertyDamage)
	setStr(ColFraudReported, rec.FraudReported, &c.FraudReported)

	return c
}
