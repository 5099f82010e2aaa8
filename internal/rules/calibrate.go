package rules

import (
	"time"

	"github.com/montanaflynn/stats"

	"github.com/clearclaim/kestrel/internal/domain"
)

// Calibrate derives data-dependent thresholds from a loaded batch.
// It is deterministic: the same batch and asOf always yield the same
// thresholds. asOf anchors the trailing frequency window; pass ingestion
// time for live scoring or a data-relative time for backtests.
func Calibrate(batch *domain.ClaimBatch, cfg Config, asOf time.Time) (domain.Thresholds, error) {
	if batch == nil || batch.Len() == 0 {
		return domain.Thresholds{}, domain.ErrNotLoaded
	}

	window := time.Duration(cfg.WindowMonths) * 30 * 24 * time.Hour

	th := domain.Thresholds{
		HighRiskAmount:  cfg.FallbackHighRiskAmount,
		AmountRatio:     cfg.FallbackAmountRatio,
		FrequencyCutoff: cfg.FallbackFrequency,
		DuplicateFloor:  1,
		Window:          window,
		AsOf:            asOf,
	}

	if batch.HasColumn(domain.ColClaimAmount) {
		amounts := make([]float64, 0, batch.Len())
		for i := range batch.Claims {
			amt, _ := batch.Claims[i].Numeric(domain.ColClaimAmount)
			amounts = append(amounts, amt)
		}

		if p95, err := stats.Percentile(amounts, 95); err == nil {
			th.HighRiskAmount = p95
		}

		mean, meanErr := stats.Mean(amounts)
		std, stdErr := stats.StandardDeviationSample(amounts)
		if meanErr == nil && stdErr == nil && mean > 0 {
			th.AmountRatio = (mean + 2*std) / mean
		}
	}

	if batch.HasColumn(domain.ColPolicyNumber) {
		cutoff := asOf.Add(-window)

		counts := make(map[string]float64)
		for i := range batch.Claims {
			c := &batch.Claims[i]
			if c.IncidentDate.Before(cutoff) {
				continue
			}
			counts[c.PolicyNumber]++
		}

		if len(counts) > 0 {
			perPolicy := make([]float64, 0, len(counts))
			for _, n := range counts {
				perPolicy = append(perPolicy, n)
			}
			if p95, err := stats.Percentile(perPolicy, 95); err == nil {
				th.FrequencyCutoff = p95
			}
		}
	}

	return th, nil
}
