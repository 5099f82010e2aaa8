package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Column identifies a claim attribute by its canonical dataset name.
// Detectors declare the columns they need; a batch tracks which columns
// its records actually carried.
type Column string

const (
	ColClaimID           Column = "claim_id"
	ColPolicyNumber      Column = "policy_number"
	ColIncidentDate      Column = "incident_date"
	ColIncidentType      Column = "incident_type"
	ColIncidentSeverity  Column = "incident_severity"
	ColIncidentState     Column = "incident_state"
	ColPolicyState       Column = "policy_state"
	ColInsuredZip        Column = "insured_zip"
	ColInsuredOccupation Column = "insured_occupation"
	ColInsuredHobbies    Column = "insured_hobbies"
	ColAutoMake          Column = "auto_make"
	ColAutoModel         Column = "auto_model"
	ColAutoYear          Column = "auto_year"
	ColClaimAmount       Column = "total_claim_amount"
	ColMonthsAsCustomer  Column = "months_as_customer"
	ColAge               Column = "age"
	ColAnnualPremium     Column = "policy_annual_premium"
	ColIncidentHour      Column = "incident_hour_of_the_day"
	ColVehiclesInvolved  Column = "number_of_vehicles_involved"
	ColWitnesses         Column = "witnesses"
	ColPoliceReport      Column = "police_report_available"
	ColPropertyDamage    Column = "property_damage"
	ColFraudReported     Column = "fraud_reported"
)

// Claim is one insurance incident record retained in a batch.
// IncidentDate is always valid for a retained claim; records without a
// parseable incident date are dropped at load time.
type Claim struct {
	ID           string `json:"claimId"`
	PolicyNumber string `json:"policyNumber"`

	IncidentDate     time.Time `json:"incidentDate"`
	IncidentType     string    `json:"incidentType"`
	IncidentSeverity string    `json:"incidentSeverity"`
	IncidentState    string    `json:"incidentState"`
	PolicyState      string    `json:"policyState"`

	InsuredZip        string `json:"insuredZip"`
	InsuredOccupation string `json:"insuredOccupation"`
	InsuredHobbies    string `json:"insuredHobbies"`

	AutoMake  string `json:"autoMake"`
	AutoModel string `json:"autoModel"`
	// AutoYear is kept raw; non-numeric values are tolerated and simply
	// skipped by the vehicle-age detector.
	AutoYear string `json:"autoYear"`

	ClaimAmount      float64 `json:"totalClaimAmount"`
	MonthsAsCustomer float64 `json:"monthsAsCustomer"`
	Age              float64 `json:"age"`
	AnnualPremium    float64 `json:"policyAnnualPremium"`
	IncidentHour     float64 `json:"incidentHour"`
	VehiclesInvolved float64 `json:"vehiclesInvolved"`
	Witnesses        float64 `json:"witnesses"`

	PoliceReport   string `json:"policeReportAvailable"`
	PropertyDamage string `json:"propertyDamage"`
	FraudReported  string `json:"fraudReported"`

	present map[Column]bool
}

// Has reports whether the record supplied a value for col.
func (c *Claim) Has(col Column) bool {
	return c.present[col]
}

// Numeric returns the claim's value for a numeric column and whether the
// record supplied it. Used by the statistical outlier model.
func (c *Claim) Numeric(col Column) (float64, bool) {
	if !c.present[col] {
		return 0, false
	}
	switch col {
	case ColClaimAmount:
		return c.ClaimAmount, true
	case ColMonthsAsCustomer:
		return c.MonthsAsCustomer, true
	case ColAge:
		return c.Age, true
	case ColAnnualPremium:
		return c.AnnualPremium, true
	case ColIncidentHour:
		return c.IncidentHour, true
	case ColVehiclesInvolved:
		return c.VehiclesInvolved, true
	case ColWitnesses:
		return c.Witnesses, true
	default:
		return 0, false
	}
}

// VehicleAge computes the vehicle age in years relative to asOf.
// Returns false when the manufacture year is absent or not numeric.
func (c *Claim) VehicleAge(asOf time.Time) (int, bool) {
	if !c.present[ColAutoYear] {
		return 0, false
	}
	year, err := strconv.Atoi(strings.TrimSpace(c.AutoYear))
	if err != nil {
		return 0, false
	}
	return asOf.Year() - year, true
}

// Columns returns the columns the source record supplied, sorted.
func (c *Claim) Columns() []Column {
	cols := make([]Column, 0, len(c.present))
	for col := range c.present {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols
}

// MarshalJSON includes the column availability set so that a claim
// restored from storage still knows which fields its record supplied.
func (c Claim) MarshalJSON() ([]byte, error) {
	type alias Claim
	return json.Marshal(struct {
		alias
		Columns []Column `json:"columns,omitempty"`
	}{alias(c), c.Columns()})
}

func (c *Claim) UnmarshalJSON(data []byte) error {
	type alias Claim
	aux := struct {
		*alias
		Columns []Column `json:"columns,omitempty"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.present = make(map[Column]bool, len(aux.Columns))
	for _, col := range aux.Columns {
		c.present[col] = true
	}
	return nil
}

// PriorFraud reports whether the claim carries a confirmed historical
// fraud flag.
func (c *Claim) PriorFraud() bool {
	return strings.EqualFold(strings.TrimSpace(c.FraudReported), "y") ||
		strings.EqualFold(strings.TrimSpace(c.FraudReported), "yes")
}

// FlexString decodes a JSON string or bare number into a string, since
// insurer exports routinely carry policy numbers and zip codes as either.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	// Bare number: normalize trailing ".0" from float-typed exports.
	s := string(data)
	if n, err := strconv.ParseFloat(s, 64); err == nil && n == float64(int64(n)) {
		s = strconv.FormatInt(int64(n), 10)
	}
	*f = FlexString(s)
	return nil
}

// ClaimRecord is the ingest payload for one claim. Pointer fields
// distinguish "absent" from zero so that column availability survives the
// trip through JSON.
type ClaimRecord struct {
	ClaimID          *FlexString `json:"claim_id,omitempty"`
	PolicyNumber     *FlexString `json:"policy_number,omitempty"`
	IncidentDate     *string     `json:"incident_date,omitempty"`
	IncidentType     *string     `json:"incident_type,omitempty"`
	IncidentSeverity *string     `json:"incident_severity,omitempty"`
	IncidentState    *string     `json:"incident_state,omitempty"`
	PolicyState      *string     `json:"policy_state,omitempty"`

	InsuredZip        *FlexString `json:"insured_zip,omitempty"`
	InsuredOccupation *string     `json:"insured_occupation,omitempty"`
	InsuredHobbies    *string     `json:"insured_hobbies,omitempty"`

	AutoMake  *string     `json:"auto_make,omitempty"`
	AutoModel *string     `json:"auto_model,omitempty"`
	AutoYear  *FlexString `json:"auto_year,omitempty"`

	TotalClaimAmount    *float64 `json:"total_claim_amount,omitempty"`
	MonthsAsCustomer    *float64 `json:"months_as_customer,omitempty"`
	Age                 *float64 `json:"age,omitempty"`
	PolicyAnnualPremium *float64 `json:"policy_annual_premium,omitempty"`
	IncidentHour        *float64 `json:"incident_hour_of_the_day,omitempty"`
	VehiclesInvolved    *float64 `json:"number_of_vehicles_involved,omitempty"`
	Witnesses           *float64 `json:"witnesses,omitempty"`

	PoliceReportAvailable *string `json:"police_report_available,omitempty"`
	PropertyDamage        *string `json:"property_damage,omitempty"`
	FraudReported         *string `json:"fraud_reported,omitempty"`
}

// FeatureRow flattens a claim into the feature map consumed by the ML
// probability oracle, using the original dataset's column names.
func (c *Claim) FeatureRow() map[string]any {
	row := make(map[string]any)
	put := func(col Column, v any) {
		if c.present[col] {
			row[string(col)] = v
		}
	}
	put(ColPolicyNumber, c.PolicyNumber)
	put(ColIncidentType, c.IncidentType)
	put(ColIncidentSeverity, c.IncidentSeverity)
	put(ColIncidentState, c.IncidentState)
	put(ColPolicyState, c.PolicyState)
	put(ColInsuredZip, c.InsuredZip)
	put(ColInsuredOccupation, c.InsuredOccupation)
	put(ColInsuredHobbies, c.InsuredHobbies)
	put(ColAutoMake, c.AutoMake)
	put(ColAutoModel, c.AutoModel)
	put(ColAutoYear, c.AutoYear)
	put(ColClaimAmount, c.ClaimAmount)
	put(ColMonthsAsCustomer, c.MonthsAsCustomer)
	put(ColAge, c.Age)
	put(ColAnnualPremium, c.AnnualPremium)
	put(ColIncidentHour, c.IncidentHour)
	put(ColVehiclesInvolved, c.VehiclesInvolved)
	put(ColWitnesses, c.Witnesses)
	put(ColPoliceReport, c.PoliceReport)
	put(ColPropertyDamage, c.PropertyDamage)
	if c.present[ColIncidentDate] {
		row[string(ColIncidentDate)] = c.IncidentDate.Format("2006-01-02")
	}
	return row
}
