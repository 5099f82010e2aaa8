// Package rules implements the multi-signal fraud detection engine:
// threshold calibration, the detector set, and batch analysis.
package rules

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/score"
)

// EngineVersion is stamped into every analysis result.
const EngineVersion = "kestrel-1.0"

// ErrUnknownClaim is returned when a score is requested for a claim id
// the analysis does not contain.
var ErrUnknownClaim = errors.New("claim id not present in analysis")

// Engine runs calibration, the detector set, and score aggregation over
// claim batches. Safe for concurrent use: each run owns its batch and
// thresholds, and detectors share nothing mutable.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	scorer     *score.Aggregator
	maxWorkers int
}

// NewEngine creates an analysis engine.
func NewEngine(cfg Config, weights score.Weights, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = len(detectorSet)
	}
	return &Engine{
		cfg:        cfg,
		scorer:     score.NewAggregator(weights),
		maxWorkers: maxWorkers,
	}
}

// Config returns the engine's detection configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Reconfigure swaps the detection tables. In-flight runs keep the config
// they started with.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Analyze calibrates thresholds from the batch, runs all detectors, and
// aggregates per-claim fraud scores. Calibration completes before any
// detector starts. asOf anchors the trailing frequency window and the
// vehicle-age computation.
func (e *Engine) Analyze(ctx context.Context, tenantID string, batch *domain.ClaimBatch, asOf time.Time) (*domain.Analysis, error) {
	start := time.Now()

	e.mu.RLock()
	cfg := e.cfg
	maxWorkers := e.maxWorkers
	e.mu.RUnlock()

	// Calibration is a strict barrier: every detector reads the same
	// immutable thresholds.
	thresholds, err := Calibrate(batch, cfg, asOf)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]domain.DetectorFinding, len(detectorSet))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, d := range detectorSet {
		wg.Add(1)
		go func(idx int, d detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = d.run(cfg, batch, thresholds)
		}(i, d)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := make(map[string]domain.DetectorFinding, len(results))
	for _, f := range results {
		findings[f.Detector] = f
	}

	scores := e.scorer.Aggregate(batch, findings)

	claimIDs := make([]string, 0, batch.Len())
	for i := range batch.Claims {
		claimIDs = append(claimIDs, batch.Claims[i].ID)
	}

	return &domain.Analysis{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Thresholds:    thresholds,
		Findings:      findings,
		Scores:        scores,
		ClaimIDs:      claimIDs,
		Retained:      batch.Retained,
		Dropped:       batch.Dropped,
		Timestamp:     time.Now().UTC(),
		ProcessMs:     time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}, nil
}

// ScoreOne returns one claim's score from a completed analysis. It is a
// pure lookup: population-relative detectors only produce meaningful
// results against the full batch, so single-claim scoring always reads
// from precomputed batch results rather than re-running detection on a
// singleton.
func ScoreOne(analysis *domain.Analysis, claimID string) (domain.FraudScore, error) {
	if analysis == nil || len(analysis.Scores) == 0 {
		return domain.FraudScore{}, domain.ErrNotLoaded
	}
	s, ok := analysis.Scores[claimID]
	if !ok {
		return domain.FraudScore{}, ErrUnknownClaim
	}
	return s, nil
}
