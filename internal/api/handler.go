package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/history"
	"github.com/clearclaim/kestrel/internal/hybrid"
	"github.com/clearclaim/kestrel/internal/repository"
	"github.com/clearclaim/kestrel/internal/rules"
	"github.com/clearclaim/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	analyzer *hybrid.Analyzer
	history  *history.Service
	version  string
	mode     domain.ScoringMode
	scoreTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, analyzer *hybrid.Analyzer, version string, mode domain.ScoringMode) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		analyzer: analyzer,
		history:  history.NewService(repo, cache),
		version:  version,
		mode:     mode,
		scoreTTL: time.Hour,
	}
}

// BatchRequest is the request body for POST /analyses.
type BatchRequest struct {
	// AsOf anchors the trailing frequency window and vehicle-age checks.
	// Accepts "2006-01-02" or RFC 3339; defaults to the current time.
	AsOf   string               `json:"asOf,omitempty"`
	Claims []domain.ClaimRecord `json:"claims"`
}

// AnalysisResponse is the response for POST /analyses.
type AnalysisResponse struct {
	AnalysisID string              `json:"analysisId"`
	Retained   int                 `json:"retained"`
	Dropped    int                 `json:"dropped"`
	Alerts     []string            `json:"alerts,omitempty"`
	TopScores  []domain.FraudScore `json:"topScores,omitempty"`
	Metadata   struct {
		TraceID       string `json:"traceId"`
		IngestMs      int64  `json:"ingestMs"`
		TotalMs       int64  `json:"totalMs"`
		Version       string `json:"version"`
		EngineVersion string `json:"engineVersion"`
	} `json:"metadata"`
}

// CreateAnalysis handles POST /analyses: it loads the claim batch,
// calibrates thresholds, runs the detector set, and returns the scored
// result. With ?async=true the batch is published to the scoring worker
// instead and a 202 is returned immediately.
func (h *Handler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Claims) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claims must not be empty",
		})
		return
	}

	asOf, ok := parseAsOf(req.AsOf)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "asOf must be YYYY-MM-DD or RFC 3339",
		})
		return
	}

	// Async mode hands the batch to the scoring worker over the bus.
	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, _ := json.Marshal(worker.BatchMessage{
			TenantID: tenantID,
			TraceID:  traceID,
			AsOf:     asOf,
			Records:  req.Claims,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchIngested, payload); err != nil {
			slog.Error("failed to publish batch", "trace_id", traceID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue batch",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"traceId": traceID,
		})
		return
	}

	batch := domain.NewBatch(req.Claims, start.UTC())
	ingestMs := time.Since(start).Milliseconds()

	analysis, err := h.engine.Analyze(ctx, tenantID, batch, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrNotLoaded) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "no analyzable claims: every record lacked a parseable incident date",
			})
			return
		}
		slog.Error("batch analysis failed", "trace_id", traceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch analysis failed",
		})
		return
	}

	h.persistAnalysis(ctx, tenantID, batch, analysis)

	if h.bus != nil {
		resultPayload, _ := json.Marshal(analysis)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchScored, resultPayload); err != nil {
			slog.Error("failed to publish scored batch", "analysis_id", analysis.ID, "error", err)
		}
		if alertIDs := analysis.AlertIDs(); len(alertIDs) > 0 {
			alertPayload, _ := json.Marshal(map[string]any{
				"analysisId": analysis.ID,
				"claimIds":   alertIDs,
			})
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, alertPayload); err != nil {
				slog.Error("failed to publish alert", "analysis_id", analysis.ID, "error", err)
			}
		}
	}

	resp := AnalysisResponse{
		AnalysisID: analysis.ID,
		Retained:   analysis.Retained,
		Dropped:    analysis.Dropped,
		Alerts:     analysis.AlertIDs(),
		TopScores:  analysis.TopScores(10),
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.IngestMs = ingestMs
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	resp.Metadata.EngineVersion = analysis.EngineVersion

	writeJSON(w, http.StatusCreated, resp)
}

// persistAnalysis saves the claims and analysis, warms the score cache,
// and bumps the per-policy frequency counters. Persistence failures are
// logged, not surfaced: the caller already holds the scored result.
func (h *Handler) persistAnalysis(ctx context.Context, tenantID string, batch *domain.ClaimBatch, analysis *domain.Analysis) {
	if h.repo != nil {
		for i := range batch.Claims {
			if err := h.repo.SaveClaim(ctx, tenantID, &batch.Claims[i]); err != nil {
				slog.Error("failed to save claim", "claim_id", batch.Claims[i].ID, "error", err)
			}
		}
		if err := h.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis", "analysis_id", analysis.ID, "error", err)
		}
	}

	for i := range batch.Claims {
		c := &batch.Claims[i]
		if !c.Has(domain.ColPolicyNumber) {
			continue
		}
		if _, err := h.history.RecordClaim(ctx, tenantID, c.PolicyNumber, analysis.Thresholds.Window); err != nil {
			slog.Debug("failed to record claim frequency", "policy", c.PolicyNumber, "error", err)
		}
	}

	if h.cache != nil {
		for claimID, s := range analysis.Scores {
			sc := &domain.ScoreCache{
				ClaimID:     s.ClaimID,
				Score:       s.Score,
				RiskBand:    string(s.RiskBand),
				Reasons:     s.Reasons,
				ClaimAmount: s.ClaimAmount,
				Timestamp:   analysis.Timestamp.Format(time.RFC3339),
			}
			if err := h.cache.SetScore(ctx, tenantID, analysis.ID, claimID, sc, h.scoreTTL); err != nil {
				slog.Debug("failed to cache score", "claim_id", claimID, "error", err)
			}
		}
	}
}

// GetAnalysis retrieves an analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetScore retrieves one claim's fraud score from a completed analysis.
// The score cache is consulted first; a miss falls back to the stored
// analysis and rewarms the cache.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")
	claimID := chi.URLParam(r, "claimID")

	if analysisID == "" || claimID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id and claim id are required",
		})
		return
	}

	if h.cache != nil {
		if sc, err := h.cache.GetScore(ctx, tenantID, analysisID, claimID); err == nil && sc != nil {
			writeJSON(w, http.StatusOK, sc)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	score, err := rules.ScoreOne(analysis, claimID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not present in analysis",
		})
		return
	}

	sc := &domain.ScoreCache{
		ClaimID:     score.ClaimID,
		Score:       score.Score,
		RiskBand:    string(score.RiskBand),
		Reasons:     score.Reasons,
		ClaimAmount: score.ClaimAmount,
		Timestamp:   analysis.Timestamp.Format(time.RFC3339),
	}
	if h.cache != nil {
		if err := h.cache.SetScore(ctx, tenantID, analysisID, claimID, sc, h.scoreTTL); err != nil {
			slog.Debug("failed to rewarm score cache", "claim_id", claimID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, sc)
}

// HybridReview handles POST /analyses/{id}/hybrid/{claimID}: it blends
// the claim's rule score with the ML oracle probability and asks the
// advisory oracle for a verdict. The verdict is persisted and published.
func (h *Handler) HybridReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")
	claimID := chi.URLParam(r, "claimID")

	if analysisID == "" || claimID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id and claim id are required",
		})
		return
	}

	if h.analyzer == nil || h.mode != domain.ModeHybrid {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "hybrid scoring not enabled",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not found",
		})
		return
	}

	// The rule score is a pure lookup from the stored analysis, so a
	// single-claim batch is enough for the oracle round.
	batch := domain.RestoredBatch([]domain.Claim{*claim}, time.Now().UTC())

	result, err := h.analyzer.AnalyzeClaim(ctx, batch, analysis, claimID)
	if err != nil {
		if errors.Is(err, rules.ErrUnknownClaim) || errors.Is(err, domain.ErrNotLoaded) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not present in analysis",
			})
			return
		}
		slog.Error("hybrid review failed", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "hybrid review failed",
		})
		return
	}

	rec := result.ToRecord(analysisID, time.Now().UTC())
	if err := h.repo.SaveVerdict(ctx, tenantID, rec); err != nil {
		slog.Error("failed to save verdict", "claim_id", claimID, "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(rec)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicVerdict, payload); err != nil {
			slog.Error("failed to publish verdict", "claim_id", claimID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetVerdict retrieves a stored hybrid verdict.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")
	claimID := chi.URLParam(r, "claimID")

	if analysisID == "" || claimID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id and claim id are required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetVerdict(ctx, tenantID, analysisID, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "verdict not found",
			})
			return
		}
		slog.Error("failed to get verdict", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get verdict",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetClaim retrieves a claim by ID.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	if claimID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claim id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		slog.Error("failed to get claim", "id", claimID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// GetPolicyHistory returns a policy's stored claim count within the
// trailing window. Window and asOf accept the same formats as batch
// analysis: ?months=6 and ?asOf=2015-03-01.
func (h *Handler) GetPolicyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyNumber := chi.URLParam(r, "policyNumber")

	if policyNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy number is required",
		})
		return
	}

	months := h.engine.Config().WindowMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "months must be a positive integer",
			})
			return
		}
		months = n
	}

	asOf, ok := parseAsOf(r.URL.Query().Get("asOf"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "asOf must be YYYY-MM-DD or RFC 3339",
		})
		return
	}

	window := time.Duration(months) * 30 * 24 * time.Hour
	count, err := h.history.ClaimCount(ctx, tenantID, policyNumber, window, asOf)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "claim history not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"policyNumber": policyNumber,
		"windowMonths": months,
		"asOf":         asOf.Format(time.RFC3339),
		"claimCount":   count,
	})
}

// GetEngineConfig returns the detection configuration currently loaded
// in the engine.
func (h *Handler) GetEngineConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// UpdateEngineConfig replaces the engine's detection tables. In-flight
// analyses keep the configuration they started with.
func (h *Handler) UpdateEngineConfig(w http.ResponseWriter, r *http.Request) {
	var cfg rules.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "contamination must be between 0 and 1 exclusive",
		})
		return
	}
	if cfg.WindowMonths <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "windowMonths must be positive",
		})
		return
	}

	h.engine.Reconfigure(cfg)

	slog.Info("engine reconfigured",
		"expected_amounts", len(cfg.ExpectedAmounts),
		"window_months", cfg.WindowMonths,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "engine configuration updated",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func parseAsOf(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC(), true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
