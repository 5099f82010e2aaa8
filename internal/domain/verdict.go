package domain

import "context"

// MLPrediction is the binary fraud prediction from the model oracle.
type MLPrediction struct {
	// Prediction is "y" or "n".
	Prediction  string  `json:"prediction"`
	Probability float64 `json:"probability"`
}

// Verdict actions, in escalating order of severity.
const (
	ActionAccept           = "accept"
	ActionRequestDocuments = "request_documents"
	ActionEscalate         = "escalate_investigation"
	ActionReject           = "reject"
)

// Verdict is the advisory oracle's structured judgement on a claim.
type Verdict struct {
	// FraudScore is nil when the advisor could not be reached or
	// returned malformed output.
	FraudScore        *float64 `json:"fraud_score"`
	Explanation       string   `json:"explanation"`
	Action            string   `json:"action"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Document is supporting evidence attached to a hybrid review, content
// base64-encoded.
type Document struct {
	Filename    string `json:"filename"`
	ContentType string `json:"type"`
	Content     string `json:"content"`
}

// Evidence bundles everything the advisor sees for one claim.
type Evidence struct {
	Claim         *Claim
	RuleScore     FraudScore
	ML            MLPrediction
	CombinedScore float64
	Documents     []Document

	// PriorQuestions carries unanswered follow-ups from an earlier
	// review round, if any.
	PriorQuestions []string
}

// MLOracle predicts fraud likelihood from raw claim features.
type MLOracle interface {
	Predict(ctx context.Context, row map[string]any) (MLPrediction, error)
}

// Advisor produces a structured verdict from blended evidence.
type Advisor interface {
	Review(ctx context.Context, ev Evidence) (Verdict, error)
}

// HybridRecord is the persisted outcome of one hybrid review.
type HybridRecord struct {
	AnalysisID    string  `json:"analysisId"`
	ClaimID       string  `json:"claimId"`
	RuleScore     int     `json:"ruleScore"`
	MLProbability float64 `json:"mlProbability"`
	CombinedScore float64 `json:"combinedScore"`
	Verdict       Verdict `json:"verdict"`
	CreatedAt     int64   `json:"createdAt"`
}
