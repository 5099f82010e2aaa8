// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/rules"
)

// Worker processes claim batches asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *rules.Engine

	scoreTTL time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// ScoreTTL is how long per-claim scores stay cached after a batch run.
	ScoreTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		engine:   engine,
		scoreTTL: time.Hour,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing batches for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.ScoreTTL > 0 {
		w.scoreTTL = cfg.ScoreTTL
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the message payload for batch analysis.
type BatchMessage struct {
	TenantID string               `json:"tenantId"`
	TraceID  string               `json:"traceId"`
	AsOf     time.Time            `json:"asOf,omitempty"`
	Records  []domain.ClaimRecord `json:"records"`
}

// processBatch runs a full analysis over an ingested claim batch.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	traceID := batchMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	asOf := batchMsg.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	slog.Debug("processing claim batch",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"records", len(batchMsg.Records),
	)

	// 1. Load the batch (drops records without a parseable incident date)
	batch := domain.NewBatch(batchMsg.Records, start)

	// 2. Calibrate and run the detector set
	analysis, err := w.engine.Analyze(ctx, tenantID, batch, asOf)
	if err != nil {
		slog.Error("batch analysis failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	// 3. Persist claims and the analysis
	if w.repo != nil {
		for i := range batch.Claims {
			if err := w.repo.SaveClaim(ctx, tenantID, &batch.Claims[i]); err != nil {
				slog.Error("failed to save claim",
					"claim_id", batch.Claims[i].ID,
					"error", err,
				)
			}
		}
		if err := w.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis",
				"analysis_id", analysis.ID,
				"error", err,
			)
		}
	}

	// 4. Warm the score cache for the read path
	if w.cache != nil {
		for claimID, s := range analysis.Scores {
			sc := &domain.ScoreCache{
				ClaimID:     s.ClaimID,
				Score:       s.Score,
				RiskBand:    string(s.RiskBand),
				Reasons:     s.Reasons,
				ClaimAmount: s.ClaimAmount,
				Timestamp:   analysis.Timestamp.Format(time.RFC3339),
			}
			if err := w.cache.SetScore(ctx, tenantID, analysis.ID, claimID, sc, w.scoreTTL); err != nil {
				slog.Debug("failed to cache score", "claim_id", claimID, "error", err)
			}
		}
	}

	// 5. Publish the scored result
	resultPayload, _ := json.Marshal(analysis)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicBatchScored, resultPayload); err != nil {
		slog.Error("failed to publish scored batch",
			"analysis_id", analysis.ID,
			"error", err,
		)
	}

	// 6. Publish an alert for every HIGH band claim
	alertIDs := analysis.AlertIDs()
	if len(alertIDs) > 0 {
		alertPayload, _ := json.Marshal(map[string]any{
			"analysisId": analysis.ID,
			"claimIds":   alertIDs,
		})
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, alertPayload); err != nil {
			slog.Error("failed to publish alert",
				"analysis_id", analysis.ID,
				"error", err,
			)
		}
	}

	slog.Info("claim batch processed",
		"analysis_id", analysis.ID,
		"tenant_id", tenantID,
		"retained", analysis.Retained,
		"dropped", analysis.Dropped,
		"alerts", len(alertIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
