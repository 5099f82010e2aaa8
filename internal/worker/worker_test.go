package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clearclaim/kestrel/internal/bus"
	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/rules"
	"github.com/clearclaim/kestrel/internal/score"
)

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }
func flexPtr(s string) *domain.FlexString {
	f := domain.FlexString(s)
	return &f
}

func testRecord(id, policy, date string, amount float64) domain.ClaimRecord {
	return domain.ClaimRecord{
		ClaimID:          flexPtr(id),
		PolicyNumber:     flexPtr(policy),
		IncidentDate:     strPtr(date),
		IncidentType:     strPtr("Parked Car"),
		InsuredZip:       flexPtr("43210"),
		AutoMake:         strPtr("Honda"),
		AutoModel:        strPtr("Civic"),
		TotalClaimAmount: numPtr(amount),
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	engine := rules.NewEngine(rules.DefaultConfig(), score.DefaultWeights(), 4)

	worker := NewWorker(eventBus, nil, nil, engine)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessBatch", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, engine)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		var scoredReceived atomic.Bool
		var scoredPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
			scoredPayload = msg.Payload
			scoredReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		batchMsg := BatchMessage{
			TenantID: "tenant-test",
			TraceID:  "trace-001",
			AsOf:     time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
			Records: []domain.ClaimRecord{
				testRecord("C1", "P-100", "2015-01-10", 8000),
				testRecord("C2", "P-101", "2015-01-15", 9500),
				testRecord("C3", "P-102", "2015-02-01", 7200),
			},
		}

		payload, _ := json.Marshal(batchMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicBatchIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if !scoredReceived.Load() {
			t.Fatal("expected scored batch to be published")
		}

		var analysis domain.Analysis
		if err := json.Unmarshal(scoredPayload, &analysis); err != nil {
			t.Fatalf("failed to parse scored batch: %v", err)
		}

		if analysis.ID == "" {
			t.Error("expected analysis id")
		}
		if analysis.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", analysis.TenantID)
		}
		if analysis.Retained != 3 {
			t.Errorf("expected 3 retained claims, got %d", analysis.Retained)
		}
		if len(analysis.Scores) != 3 {
			t.Errorf("expected 3 scores, got %d", len(analysis.Scores))
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, engine)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// A duplicated claim with a confirmed fraud history lands in the
		// HIGH band.
		dup1 := testRecord("A1", "P-200", "2015-01-20", 12000)
		dup1.FraudReported = strPtr("Y")
		dup2 := testRecord("A2", "P-201", "2015-01-20", 12000)
		dup2.FraudReported = strPtr("Y")

		batchMsg := BatchMessage{
			TenantID: "tenant-alert",
			AsOf:     time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
			Records: []domain.ClaimRecord{
				dup1, dup2,
				testRecord("A3", "P-202", "2015-02-05", 6000),
			},
		}

		payload, _ := json.Marshal(batchMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicBatchIngested, payload)

		time.Sleep(200 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert for HIGH band claims")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, engine)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestBatchMessageParsing(t *testing.T) {
	msg := BatchMessage{
		TenantID: "tenant-001",
		TraceID:  "trace-456",
		AsOf:     time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
		Records: []domain.ClaimRecord{
			testRecord("C1", "P-100", "2015-01-10", 1234.56),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed BatchMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.TenantID != msg.TenantID {
		t.Errorf("expected TenantID '%s', got '%s'", msg.TenantID, parsed.TenantID)
	}
	if len(parsed.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(parsed.Records))
	}
	if *parsed.Records[0].TotalClaimAmount != 1234.56 {
		t.Errorf("expected amount 1234.56, got %.2f", *parsed.Records[0].TotalClaimAmount)
	}
	if !parsed.AsOf.Equal(msg.AsOf) {
		t.Errorf("expected AsOf %v, got %v", msg.AsOf, parsed.AsOf)
	}
}
