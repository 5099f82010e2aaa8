package hybrid

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/oracle"
	"github.com/clearclaim/kestrel/internal/rules"
)

var errNoAdvisor = errors.New("no advisory oracle configured")

// DocumentProvider supplies supporting documents when the advisor asks
// for them. Returning an empty slice means none are available.
type DocumentProvider interface {
	Documents(ctx context.Context, claimID string) ([]domain.Document, error)
}

// Analyzer runs hybrid reviews: rule score lookup, ML probability,
// linear blend, then an advisory verdict with one document-resubmission
// round.
type Analyzer struct {
	ml      domain.MLOracle
	advisor domain.Advisor
	docs    DocumentProvider
	logger  *slog.Logger
}

// NewAnalyzer creates a hybrid analyzer. docs may be nil when no
// document source exists; the advisor's document requests then stand as
// the final verdict.
func NewAnalyzer(ml domain.MLOracle, advisor domain.Advisor, docs DocumentProvider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{ml: ml, advisor: advisor, docs: docs, logger: logger}
}

// Result is the outcome of one hybrid claim review.
type Result struct {
	ClaimID       string              `json:"claimId"`
	RuleScore     int                 `json:"ruleScore"`
	ML            domain.MLPrediction `json:"ml"`
	CombinedScore float64             `json:"combinedScore"`
	Verdict       domain.Verdict      `json:"verdict"`
}

// AnalyzeClaim reviews one claim against a completed batch analysis.
// The rule score is a pure lookup from the precomputed analysis:
// population-relative detectors are never re-run against a singleton.
// Oracle failures degrade to fixed fallbacks, never to an error.
func (a *Analyzer) AnalyzeClaim(ctx context.Context, batch *domain.ClaimBatch, analysis *domain.Analysis, claimID string) (*Result, error) {
	ruleScore, err := rules.ScoreOne(analysis, claimID)
	if err != nil {
		return nil, err
	}

	claim, ok := batch.Claim(claimID)
	if !ok {
		return nil, rules.ErrUnknownClaim
	}

	ml := a.predict(ctx, claim)
	combined := Combine(ruleScore.Score, ml.Probability)

	ev := domain.Evidence{
		Claim:         claim,
		RuleScore:     ruleScore,
		ML:            ml,
		CombinedScore: combined,
	}

	verdict := a.review(ctx, claimID, ev)

	// Document resubmission round: when the advisor asks for documents
	// and a source exists, re-review with them attached. The second
	// verdict is final, so pending questions are cleared.
	if verdict.Action == domain.ActionRequestDocuments && a.docs != nil {
		docs, docErr := a.docs.Documents(ctx, claimID)
		if docErr != nil {
			a.logger.Warn("document fetch failed, keeping first verdict",
				"claimId", claimID, "error", docErr)
		} else if len(docs) > 0 {
			ev.Documents = docs
			ev.PriorQuestions = verdict.FollowUpQuestions
			verdict = a.review(ctx, claimID, ev)
			verdict.FollowUpQuestions = []string{}
		}
	}

	// The reported fraud score is always the deterministic blend, not
	// whatever number the advisor produced.
	verdict.FraudScore = &combined

	return &Result{
		ClaimID:       claimID,
		RuleScore:     ruleScore.Score,
		ML:            ml,
		CombinedScore: combined,
		Verdict:       verdict,
	}, nil
}

// AnalyzeBatch streams one hybrid result per retained claim, in batch
// order, over the returned channel. Rule scores come from the single
// precomputed analysis; only the oracles run per claim. The channel is
// closed when the batch is exhausted or ctx is cancelled.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, batch *domain.ClaimBatch, analysis *domain.Analysis) <-chan *Result {
	out := make(chan *Result)

	go func() {
		defer close(out)
		for _, claimID := range analysis.ClaimIDs {
			res, err := a.AnalyzeClaim(ctx, batch, analysis, claimID)
			if err != nil {
				a.logger.Error("hybrid review failed", "claimId", claimID, "error", err)
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// predict calls the ML oracle, substituting the never-fraud fallback on
// any failure.
func (a *Analyzer) predict(ctx context.Context, claim *domain.Claim) domain.MLPrediction {
	if a.ml == nil {
		return domain.MLPrediction{Prediction: "n", Probability: 0.0}
	}
	ml, err := a.ml.Predict(ctx, claim.FeatureRow())
	if err != nil {
		a.logger.Warn("ml oracle failed, using fallback probability",
			"claimId", claim.ID, "error", err)
		return domain.MLPrediction{Prediction: "n", Probability: 0.0}
	}
	return ml
}

// review calls the advisory oracle, substituting the escalate-by-default
// fallback verdict on any failure.
func (a *Analyzer) review(ctx context.Context, claimID string, ev domain.Evidence) domain.Verdict {
	if a.advisor == nil {
		return oracle.FallbackVerdict(errNoAdvisor)
	}
	verdict, err := a.advisor.Review(ctx, ev)
	if err != nil {
		a.logger.Warn("advisory oracle failed, using fallback verdict",
			"claimId", claimID, "error", err)
		return oracle.FallbackVerdict(err)
	}
	return verdict
}

// ToRecord converts a result into its persisted form.
func (r *Result) ToRecord(analysisID string, at time.Time) *domain.HybridRecord {
	return &domain.HybridRecord{
		AnalysisID:    analysisID,
		ClaimID:       r.ClaimID,
		RuleScore:     r.RuleScore,
		MLProbability: r.ML.Probability,
		CombinedScore: r.CombinedScore,
		Verdict:       r.Verdict,
		CreatedAt:     at.Unix(),
	}
}
