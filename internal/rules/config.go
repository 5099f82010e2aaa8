package rules

// Config holds the immutable detection tables and tunables. Injected
// into the engine so tests can override any table deterministically.
type Config struct {
	// ExpectedAmounts maps incident type to its expected claim amount.
	ExpectedAmounts map[string]float64

	// DefaultExpected is used for incident types missing from the table.
	DefaultExpected float64

	// SeverityMultipliers scale the expected amount by incident severity.
	SeverityMultipliers map[string]float64

	// Substring-matched, case-insensitive pattern lists.
	SuspiciousOccupations []string
	HighRiskHobbies       []string

	// WindowMonths is the trailing lookback for frequency calibration
	// and detection, in 30-day months.
	WindowMonths int

	// Fallbacks for degenerate batches.
	FallbackHighRiskAmount float64
	FallbackAmountRatio    float64
	FallbackFrequency      float64

	// Vehicle age anomaly cutoffs.
	VehicleAgeLimit  int
	VehicleAgeAmount float64

	// Outlier model settings.
	Contamination float64
	Seed          int64
	Trees         int
}

// DefaultConfig returns the standard detection configuration.
func DefaultConfig() Config {
	return Config{
		ExpectedAmounts: map[string]float64{
			"Multi-vehicle Collision":  25000,
			"Single Vehicle Collision": 15000,
			"Vehicle Theft":            30000,
			"Parked Car":               8000,
			"Property Damage":          5000,
			"Bodily Injury":            35000,
		},
		DefaultExpected: 20000,
		SeverityMultipliers: map[string]float64{
			"Minor Damage": 0.5,
			"Major Damage": 1.5,
			"Total Loss":   2.0,
		},
		SuspiciousOccupations: []string{"unemployed", "student", "retired"},
		HighRiskHobbies:       []string{"racing", "extreme sports", "motorcycling"},

		WindowMonths: 6,

		FallbackHighRiskAmount: 50000,
		FallbackAmountRatio:    2.5,
		FallbackFrequency:      3,

		VehicleAgeLimit:  15,
		VehicleAgeAmount: 30000,

		Contamination: 0.05,
		Seed:          42,
		Trees:         100,
	}
}

// severityMultiplier looks up the multiplier for a severity label,
// defaulting to 1.0 for unknown severities.
func (c Config) severityMultiplier(severity string) float64 {
	if m, ok := c.SeverityMultipliers[severity]; ok {
		return m
	}
	return 1.0
}

// expectedAmount looks up the expected claim amount for an incident type.
func (c Config) expectedAmount(incidentType string) float64 {
	if a, ok := c.ExpectedAmounts[incidentType]; ok {
		return a
	}
	return c.DefaultExpected
}
