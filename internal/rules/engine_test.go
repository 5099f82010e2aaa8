package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/score"
)

func engineBatch() *domain.ClaimBatch {
	return domain.NewBatch([]domain.ClaimRecord{
		incidentRecord("E1", "43210", "2015-01-20", 6400, "Toyota", "Camry"),
		incidentRecord("E2", "43210", "2015-01-20", 6400, "Toyota", "Camry"),
		incidentRecord("E3", "44114", "2015-02-10", 5000, "Honda", "Accord"),
		incidentRecord("E4", "45202", "2015-02-18", 4100, "Ford", "Focus"),
	}, time.Now())
}

func TestEngineAnalyze(t *testing.T) {
	engine := NewEngine(DefaultConfig(), score.DefaultWeights(), 4)

	t.Run("FullRun", func(t *testing.T) {
		batch := engineBatch()
		analysis, err := engine.Analyze(context.Background(), "tenant-001", batch, testAsOf)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}

		if analysis.ID == "" {
			t.Error("expected analysis id")
		}
		if analysis.TenantID != "tenant-001" {
			t.Errorf("expected tenant 'tenant-001', got %s", analysis.TenantID)
		}
		if analysis.EngineVersion != EngineVersion {
			t.Errorf("expected engine version %s, got %s", EngineVersion, analysis.EngineVersion)
		}
		if analysis.Retained != 4 {
			t.Errorf("expected 4 retained, got %d", analysis.Retained)
		}
		if len(analysis.Findings) != len(detectorSet) {
			t.Errorf("expected %d findings, got %d", len(detectorSet), len(analysis.Findings))
		}
		if len(analysis.Scores) != 4 {
			t.Errorf("expected 4 scores, got %d", len(analysis.Scores))
		}

		want := []string{"E1", "E2", "E3", "E4"}
		if len(analysis.ClaimIDs) != len(want) {
			t.Fatalf("expected claim ids %v, got %v", want, analysis.ClaimIDs)
		}
		for i, id := range want {
			if analysis.ClaimIDs[i] != id {
				t.Errorf("claim id %d: expected %s, got %s", i, id, analysis.ClaimIDs[i])
			}
		}
	})

	t.Run("DuplicatesShareScore", func(t *testing.T) {
		analysis, err := engine.Analyze(context.Background(), "tenant-001", engineBatch(), testAsOf)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}

		s1 := analysis.Scores["E1"]
		s2 := analysis.Scores["E2"]
		if s1.Score != s2.Score {
			t.Errorf("duplicate pair should score identically, got %d and %d", s1.Score, s2.Score)
		}
		if s1.Score < 40 {
			t.Errorf("expected duplicate weight in score, got %d", s1.Score)
		}

		hasDup := false
		for _, r := range s1.Reasons {
			if r == "Duplicate claim" {
				hasDup = true
			}
		}
		if !hasDup {
			t.Errorf("expected duplicate reason, got %v", s1.Reasons)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		empty := domain.NewBatch(nil, time.Now())
		_, err := engine.Analyze(context.Background(), "tenant-001", empty, testAsOf)
		if !errors.Is(err, domain.ErrNotLoaded) {
			t.Errorf("expected ErrNotLoaded, got %v", err)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := engine.Analyze(ctx, "tenant-001", engineBatch(), testAsOf)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestEngineReconfigure(t *testing.T) {
	engine := NewEngine(DefaultConfig(), score.DefaultWeights(), 2)

	cfg := engine.Config()
	if cfg.WindowMonths != 6 {
		t.Errorf("expected default window of 6 months, got %d", cfg.WindowMonths)
	}

	cfg.WindowMonths = 3
	cfg.Contamination = 0.1
	engine.Reconfigure(cfg)

	got := engine.Config()
	if got.WindowMonths != 3 {
		t.Errorf("expected window 3 after reconfigure, got %d", got.WindowMonths)
	}
	if got.Contamination != 0.1 {
		t.Errorf("expected contamination 0.1 after reconfigure, got %f", got.Contamination)
	}
}

func TestScoreOne(t *testing.T) {
	engine := NewEngine(DefaultConfig(), score.DefaultWeights(), 0)

	analysis, err := engine.Analyze(context.Background(), "tenant-001", engineBatch(), testAsOf)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	t.Run("KnownClaim", func(t *testing.T) {
		s, err := ScoreOne(analysis, "E1")
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if s.ClaimID != "E1" {
			t.Errorf("expected claim E1, got %s", s.ClaimID)
		}
	})

	t.Run("UnknownClaim", func(t *testing.T) {
		_, err := ScoreOne(analysis, "NOPE")
		if !errors.Is(err, ErrUnknownClaim) {
			t.Errorf("expected ErrUnknownClaim, got %v", err)
		}
	})

	t.Run("NilAnalysis", func(t *testing.T) {
		_, err := ScoreOne(nil, "E1")
		if !errors.Is(err, domain.ErrNotLoaded) {
			t.Errorf("expected ErrNotLoaded, got %v", err)
		}
	})
}
