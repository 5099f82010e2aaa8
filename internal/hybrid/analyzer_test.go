package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/rules"
)

type fakeML struct {
	prediction domain.MLPrediction
	err        error
	calls      int
}

func (f *fakeML) Predict(ctx context.Context, row map[string]any) (domain.MLPrediction, error) {
	f.calls++
	if f.err != nil {
		return domain.MLPrediction{}, f.err
	}
	return f.prediction, nil
}

type fakeAdvisor struct {
	verdicts []domain.Verdict
	err      error
	calls    int
	evidence []domain.Evidence
}

func (f *fakeAdvisor) Review(ctx context.Context, ev domain.Evidence) (domain.Verdict, error) {
	f.evidence = append(f.evidence, ev)
	idx := f.calls
	f.calls++
	if f.err != nil {
		return domain.Verdict{}, f.err
	}
	if idx >= len(f.verdicts) {
		idx = len(f.verdicts) - 1
	}
	return f.verdicts[idx], nil
}

type fakeDocs struct {
	docs []domain.Document
	err  error
}

func (f *fakeDocs) Documents(ctx context.Context, claimID string) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func strPtr(s string) *string { return &s }
func flexPtr(s string) *domain.FlexString {
	f := domain.FlexString(s)
	return &f
}

func reviewBatch(ids ...string) *domain.ClaimBatch {
	records := make([]domain.ClaimRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, domain.ClaimRecord{
			ClaimID:      flexPtr(id),
			IncidentDate: strPtr("2015-01-15"),
			IncidentType: strPtr("Parked Car"),
		})
	}
	return domain.NewBatch(records, time.Now())
}

func reviewAnalysis(scores map[string]int) *domain.Analysis {
	a := &domain.Analysis{Scores: make(map[string]domain.FraudScore, len(scores))}
	for id, s := range scores {
		a.Scores[id] = domain.FraudScore{ClaimID: id, Score: s, RiskBand: domain.BandForScore(s)}
		a.ClaimIDs = append(a.ClaimIDs, id)
	}
	return a
}

func acceptVerdict(score float64) domain.Verdict {
	return domain.Verdict{
		FraudScore:        &score,
		Explanation:       "consistent with reported incident",
		Action:            domain.ActionAccept,
		FollowUpQuestions: []string{},
	}
}

func TestAnalyzeClaim(t *testing.T) {
	batch := reviewBatch("C1")
	analysis := reviewAnalysis(map[string]int{"C1": 40})

	t.Run("FullReview", func(t *testing.T) {
		ml := &fakeML{prediction: domain.MLPrediction{Prediction: "y", Probability: 0.5}}
		advisor := &fakeAdvisor{verdicts: []domain.Verdict{acceptVerdict(99)}}
		analyzer := NewAnalyzer(ml, advisor, nil, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if result.RuleScore != 40 {
			t.Errorf("expected rule score 40, got %d", result.RuleScore)
		}
		if result.CombinedScore != 44 {
			t.Errorf("expected combined score 44, got %.2f", result.CombinedScore)
		}
		if result.Verdict.Action != domain.ActionAccept {
			t.Errorf("expected accept action, got %s", result.Verdict.Action)
		}

		// The advisor's own number never reaches the caller.
		if result.Verdict.FraudScore == nil || *result.Verdict.FraudScore != 44 {
			t.Errorf("expected verdict fraud score pinned to the blend, got %v", result.Verdict.FraudScore)
		}

		if ml.calls != 1 || advisor.calls != 1 {
			t.Errorf("expected one call per oracle, got ml=%d advisor=%d", ml.calls, advisor.calls)
		}
	})

	t.Run("UnknownClaim", func(t *testing.T) {
		analyzer := NewAnalyzer(nil, nil, nil, nil)
		_, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "NOPE")
		if !errors.Is(err, rules.ErrUnknownClaim) {
			t.Errorf("expected ErrUnknownClaim, got %v", err)
		}
	})

	t.Run("NilAnalysis", func(t *testing.T) {
		analyzer := NewAnalyzer(nil, nil, nil, nil)
		_, err := analyzer.AnalyzeClaim(context.Background(), batch, nil, "C1")
		if !errors.Is(err, domain.ErrNotLoaded) {
			t.Errorf("expected ErrNotLoaded, got %v", err)
		}
	})

	t.Run("MLFailureFallsBack", func(t *testing.T) {
		ml := &fakeML{err: errors.New("connection refused")}
		advisor := &fakeAdvisor{verdicts: []domain.Verdict{acceptVerdict(10)}}
		analyzer := NewAnalyzer(ml, advisor, nil, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("expected fallback, not error: %v", err)
		}

		if result.ML.Probability != 0 || result.ML.Prediction != "n" {
			t.Errorf("expected never-fraud fallback, got %+v", result.ML)
		}
		if result.CombinedScore != 24 {
			t.Errorf("expected rules-only blend 24, got %.2f", result.CombinedScore)
		}
	})

	t.Run("AdvisorFailureFallsBack", func(t *testing.T) {
		ml := &fakeML{prediction: domain.MLPrediction{Prediction: "n", Probability: 0.1}}
		advisor := &fakeAdvisor{err: errors.New("rate limited")}
		analyzer := NewAnalyzer(ml, advisor, nil, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("expected fallback, not error: %v", err)
		}

		if result.Verdict.Action != domain.ActionEscalate {
			t.Errorf("expected escalate fallback, got %s", result.Verdict.Action)
		}
		if result.Verdict.FraudScore == nil || *result.Verdict.FraudScore != result.CombinedScore {
			t.Errorf("expected fraud score pinned to blend even on fallback, got %v", result.Verdict.FraudScore)
		}
	})

	t.Run("NoOraclesConfigured", func(t *testing.T) {
		analyzer := NewAnalyzer(nil, nil, nil, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if result.ML.Prediction != "n" {
			t.Errorf("expected never-fraud prediction, got %s", result.ML.Prediction)
		}
		if result.Verdict.Action != domain.ActionEscalate {
			t.Errorf("expected escalate without an advisor, got %s", result.Verdict.Action)
		}
	})
}

func TestDocumentResubmission(t *testing.T) {
	batch := reviewBatch("C1")
	analysis := reviewAnalysis(map[string]int{"C1": 40})

	requestDocs := domain.Verdict{
		Explanation:       "need the repair invoice",
		Action:            domain.ActionRequestDocuments,
		FollowUpQuestions: []string{"Where was the vehicle repaired?"},
	}

	t.Run("SecondRoundIsFinal", func(t *testing.T) {
		final := acceptVerdict(30)
		final.FollowUpQuestions = []string{"leftover question"}

		advisor := &fakeAdvisor{verdicts: []domain.Verdict{requestDocs, final}}
		docs := &fakeDocs{docs: []domain.Document{{Filename: "invoice.pdf", ContentType: "application/pdf", Content: "aGVsbG8="}}}
		analyzer := NewAnalyzer(nil, advisor, docs, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if advisor.calls != 2 {
			t.Fatalf("expected two review rounds, got %d", advisor.calls)
		}
		if result.Verdict.Action != domain.ActionAccept {
			t.Errorf("expected second-round action, got %s", result.Verdict.Action)
		}
		if len(result.Verdict.FollowUpQuestions) != 0 {
			t.Errorf("final verdict must clear follow-ups, got %v", result.Verdict.FollowUpQuestions)
		}

		second := advisor.evidence[1]
		if len(second.Documents) != 1 || second.Documents[0].Filename != "invoice.pdf" {
			t.Errorf("expected documents attached to second round, got %v", second.Documents)
		}
		if len(second.PriorQuestions) != 1 || second.PriorQuestions[0] != requestDocs.FollowUpQuestions[0] {
			t.Errorf("expected first-round questions carried forward, got %v", second.PriorQuestions)
		}
	})

	t.Run("FetchFailureKeepsFirstVerdict", func(t *testing.T) {
		advisor := &fakeAdvisor{verdicts: []domain.Verdict{requestDocs}}
		docs := &fakeDocs{err: errors.New("store unavailable")}
		analyzer := NewAnalyzer(nil, advisor, docs, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if advisor.calls != 1 {
			t.Errorf("expected single review round, got %d", advisor.calls)
		}
		if result.Verdict.Action != domain.ActionRequestDocuments {
			t.Errorf("expected first verdict kept, got %s", result.Verdict.Action)
		}
		if len(result.Verdict.FollowUpQuestions) != 1 {
			t.Errorf("expected follow-ups kept on fetch failure, got %v", result.Verdict.FollowUpQuestions)
		}
	})

	t.Run("NoDocumentsAvailable", func(t *testing.T) {
		advisor := &fakeAdvisor{verdicts: []domain.Verdict{requestDocs}}
		analyzer := NewAnalyzer(nil, advisor, &fakeDocs{}, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if advisor.calls != 1 {
			t.Errorf("expected single review round, got %d", advisor.calls)
		}
		if result.Verdict.Action != domain.ActionRequestDocuments {
			t.Errorf("expected document request to stand, got %s", result.Verdict.Action)
		}
	})

	t.Run("NoProviderConfigured", func(t *testing.T) {
		advisor := &fakeAdvisor{verdicts: []domain.Verdict{requestDocs}}
		analyzer := NewAnalyzer(nil, advisor, nil, nil)

		result, err := analyzer.AnalyzeClaim(context.Background(), batch, analysis, "C1")
		if err != nil {
			t.Fatalf("AnalyzeClaim failed: %v", err)
		}

		if advisor.calls != 1 {
			t.Errorf("expected single review round without a provider, got %d", advisor.calls)
		}
		if result.Verdict.Action != domain.ActionRequestDocuments {
			t.Errorf("expected document request to stand, got %s", result.Verdict.Action)
		}
	})
}

func TestAnalyzeBatch(t *testing.T) {
	batch := reviewBatch("C1", "C2", "C3")
	analysis := &domain.Analysis{
		Scores: map[string]domain.FraudScore{
			"C1": {ClaimID: "C1", Score: 40},
			"C2": {ClaimID: "C2", Score: 0},
			"C3": {ClaimID: "C3", Score: 90},
		},
		ClaimIDs: []string{"C1", "C2", "C3"},
	}

	ml := &fakeML{prediction: domain.MLPrediction{Prediction: "n", Probability: 0.2}}
	advisor := &fakeAdvisor{verdicts: []domain.Verdict{acceptVerdict(10)}}
	analyzer := NewAnalyzer(ml, advisor, nil, nil)

	var got []string
	for res := range analyzer.AnalyzeBatch(context.Background(), batch, analysis) {
		got = append(got, res.ClaimID)
	}

	want := []string{"C1", "C2", "C3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if ml.calls != 3 {
		t.Errorf("expected one prediction per claim, got %d", ml.calls)
	}
}

func TestResultToRecord(t *testing.T) {
	score := 58.8
	result := &Result{
		ClaimID:       "C1",
		RuleScore:     40,
		ML:            domain.MLPrediction{Prediction: "y", Probability: 0.87},
		CombinedScore: 58.8,
		Verdict: domain.Verdict{
			FraudScore:        &score,
			Action:            domain.ActionEscalate,
			Explanation:       "amount far above expected for a parked car",
			FollowUpQuestions: []string{},
		},
	}

	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rec := result.ToRecord("an-123", at)

	if rec.AnalysisID != "an-123" {
		t.Errorf("expected analysis id an-123, got %s", rec.AnalysisID)
	}
	if rec.ClaimID != "C1" || rec.RuleScore != 40 {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if rec.MLProbability != 0.87 {
		t.Errorf("expected ml probability 0.87, got %.2f", rec.MLProbability)
	}
	if rec.CombinedScore != 58.8 {
		t.Errorf("expected combined score 58.8, got %.2f", rec.CombinedScore)
	}
	if rec.CreatedAt != at.Unix() {
		t.Errorf("expected created at %d, got %d", at.Unix(), rec.CreatedAt)
	}
}
