package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clearclaim/kestrel/internal/domain"
)

const advisorSystemPrompt = `You are an expert insurance fraud investigation assistant.

You receive:
- Claim details (reported by user)
- Rule engine fraud score with reasons
- ML fraud prediction
- Extra documents (photos, FIR, receipts, etc.)

Your tasks:
1. Decide if current information is enough to conclude fraud analysis.
   - If enough: give fraud_score (0-100), explanation, and action.
   - If not enough: set action = "request_documents" and ask for at most two specific, useful extra proofs.
2. Extra questions must directly help conclude the claim's validity.
3. After extra documents are provided, always give the FINAL fraud score and action.
4. Fraud score scale: 0 = clearly genuine, 100 = very likely fraud.

Output strictly in JSON with this schema:
{
  "fraud_score": number or null,
  "explanation": string,
  "action": one of ["accept", "request_documents", "escalate_investigation", "reject"],
  "follow_up_questions": [ up to 2 short strings ]
}`

// AdvisorConfig holds settings for the advisory oracle client.
type AdvisorConfig struct {
	APIKey  string
	BaseURL string // Perplexity-compatible chat completions endpoint
	Model   string
	Timeout time.Duration
}

// AdvisorClient calls a chat-completions API for structured fraud
// verdicts. Implements domain.Advisor.
type AdvisorClient struct {
	client *openai.Client
	cfg    AdvisorConfig
}

// NewAdvisorClient creates an advisory oracle client.
func NewAdvisorClient(cfg AdvisorConfig) (*AdvisorClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("advisor API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &AdvisorClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// advisorEvidence is the user-message payload the model reasons over.
type advisorEvidence struct {
	ClaimDetails   map[string]any    `json:"CLAIM_DETAILS"`
	RuleResult     domain.FraudScore `json:"RULE_RESULT"`
	MLResult       map[string]any    `json:"ML_RESULT"`
	CombinedScore  float64           `json:"COMBINED_SCORE"`
	ExtraDocuments []domain.Document `json:"EXTRA_DOCUMENTS"`
	PriorQuestions []string          `json:"PRIOR_QUESTIONS,omitempty"`
}

// Review asks the advisory oracle for a verdict on blended evidence.
// A non-nil error means the caller must substitute FallbackVerdict.
func (a *AdvisorClient) Review(ctx context.Context, ev domain.Evidence) (domain.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	payload := advisorEvidence{
		RuleResult: ev.RuleScore,
		MLResult: map[string]any{
			"fraud_prediction":  ev.ML.Prediction,
			"fraud_probability": ev.ML.Probability,
		},
		CombinedScore:  ev.CombinedScore,
		ExtraDocuments: ev.Documents,
		PriorQuestions: ev.PriorQuestions,
	}
	if ev.Claim != nil {
		payload.ClaimDetails = ev.Claim.FeatureRow()
	}
	if payload.ExtraDocuments == nil {
		payload.ExtraDocuments = []domain.Document{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("encode evidence: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: advisorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
		Temperature: 0.0,
		MaxTokens:   600,
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("advisor call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Verdict{}, fmt.Errorf("advisor returned no choices")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict decodes the model's JSON verdict, tolerating markdown
// code fences, and normalizes it to the contract.
func parseVerdict(content string) (domain.Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v domain.Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return domain.Verdict{}, fmt.Errorf("parse advisor verdict: %w", err)
	}

	switch v.Action {
	case domain.ActionAccept, domain.ActionRequestDocuments, domain.ActionEscalate, domain.ActionReject:
	default:
		return domain.Verdict{}, fmt.Errorf("advisor returned unknown action %q", v.Action)
	}

	if len(v.FollowUpQuestions) > 2 {
		v.FollowUpQuestions = v.FollowUpQuestions[:2]
	}
	if v.FollowUpQuestions == nil {
		v.FollowUpQuestions = []string{}
	}

	return v, nil
}

// FallbackVerdict is the deterministic substitute applied on any oracle
// failure: escalate by default, never crash the pipeline.
func FallbackVerdict(err error) domain.Verdict {
	return domain.Verdict{
		FraudScore:        nil,
		Explanation:       fmt.Sprintf("Failed to get response from advisor: %v", err),
		Action:            domain.ActionEscalate,
		FollowUpQuestions: []string{},
	}
}
