package domain

import "time"

// Thresholds holds the data-dependent cutoffs calibrated from one batch.
// They are owned by the batch that produced them and are never mutated
// after calibration.
type Thresholds struct {
	// HighRiskAmount is the 95th percentile of claimed amounts.
	HighRiskAmount float64 `json:"highRiskAmount"`

	// AmountRatio scales the incident-type expected amount:
	// (mean + 2*stddev) / mean, with a fixed fallback for degenerate
	// batches.
	AmountRatio float64 `json:"amountRatio"`

	// FrequencyCutoff is the 95th percentile of per-policy claim counts
	// within the trailing window.
	FrequencyCutoff float64 `json:"frequencyCutoff"`

	// DuplicateFloor is the multiplicity above which a grouping tuple
	// counts as duplicated. More than one occurrence is a duplicate.
	DuplicateFloor int `json:"duplicateFloor"`

	// Window is the trailing lookback used by frequency calibration and
	// detection.
	Window time.Duration `json:"windowSeconds"`

	// AsOf anchors the trailing window. Callers pass ingestion time for
	// live scoring or a data-relative time for reproducible backtests.
	AsOf time.Time `json:"asOf"`
}
