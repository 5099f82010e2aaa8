package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
)

func TestNewAdvisorClient(t *testing.T) {
	t.Run("RequiresAPIKey", func(t *testing.T) {
		_, err := NewAdvisorClient(AdvisorConfig{})
		if err == nil {
			t.Fatal("expected error without API key")
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		client, err := NewAdvisorClient(AdvisorConfig{APIKey: "test-key"})
		if err != nil {
			t.Fatalf("NewAdvisorClient failed: %v", err)
		}
		if client.cfg.Model != "sonar" {
			t.Errorf("expected default model 'sonar', got %s", client.cfg.Model)
		}
		if client.cfg.Timeout != 30*time.Second {
			t.Errorf("expected default timeout 30s, got %v", client.cfg.Timeout)
		}
	})
}

func TestParseVerdict(t *testing.T) {
	t.Run("PlainJSON", func(t *testing.T) {
		v, err := parseVerdict(`{"fraud_score": 72, "explanation": "amount inconsistency", "action": "escalate_investigation", "follow_up_questions": []}`)
		if err != nil {
			t.Fatalf("parseVerdict failed: %v", err)
		}
		if v.FraudScore == nil || *v.FraudScore != 72 {
			t.Errorf("expected fraud score 72, got %v", v.FraudScore)
		}
		if v.Action != domain.ActionEscalate {
			t.Errorf("expected escalate action, got %s", v.Action)
		}
	})

	t.Run("MarkdownFenced", func(t *testing.T) {
		content := "```json\n{\"fraud_score\": null, \"explanation\": \"need proof\", \"action\": \"request_documents\", \"follow_up_questions\": [\"Provide the police report\"]}\n```"
		v, err := parseVerdict(content)
		if err != nil {
			t.Fatalf("parseVerdict failed: %v", err)
		}
		if v.FraudScore != nil {
			t.Errorf("expected nil fraud score, got %v", *v.FraudScore)
		}
		if v.Action != domain.ActionRequestDocuments {
			t.Errorf("expected request_documents, got %s", v.Action)
		}
		if len(v.FollowUpQuestions) != 1 {
			t.Errorf("expected one follow-up, got %v", v.FollowUpQuestions)
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		_, err := parseVerdict(`{"fraud_score": 10, "explanation": "", "action": "shrug", "follow_up_questions": []}`)
		if err == nil {
			t.Fatal("expected error for unknown action")
		}
	})

	t.Run("TruncatesFollowUps", func(t *testing.T) {
		v, err := parseVerdict(`{"fraud_score": null, "explanation": "", "action": "request_documents", "follow_up_questions": ["a", "b", "c", "d"]}`)
		if err != nil {
			t.Fatalf("parseVerdict failed: %v", err)
		}
		if len(v.FollowUpQuestions) != 2 {
			t.Errorf("expected follow-ups capped at 2, got %v", v.FollowUpQuestions)
		}
	})

	t.Run("NilFollowUpsNormalized", func(t *testing.T) {
		v, err := parseVerdict(`{"fraud_score": 5, "explanation": "fine", "action": "accept"}`)
		if err != nil {
			t.Fatalf("parseVerdict failed: %v", err)
		}
		if v.FollowUpQuestions == nil {
			t.Error("expected empty slice, got nil follow-ups")
		}
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := parseVerdict("I think this claim looks suspicious.")
		if err == nil {
			t.Fatal("expected error for prose output")
		}
	})
}

func TestAdvisorReview(t *testing.T) {
	verdictJSON := `{"fraud_score": 55, "explanation": "late-night solo incident", "action": "escalate_investigation", "follow_up_questions": []}`

	var gotBody struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": verdictJSON}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewAdvisorClient(AdvisorConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAdvisorClient failed: %v", err)
	}

	score := domain.FraudScore{ClaimID: "C1", Score: 40, Reasons: []string{"Duplicate claim"}}
	verdict, err := client.Review(context.Background(), domain.Evidence{
		RuleScore:     score,
		ML:            domain.MLPrediction{Prediction: "y", Probability: 0.6},
		CombinedScore: 48,
	})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if verdict.Action != domain.ActionEscalate {
		t.Errorf("expected escalate action, got %s", verdict.Action)
	}
	if verdict.FraudScore == nil || *verdict.FraudScore != 55 {
		t.Errorf("expected fraud score 55, got %v", verdict.FraudScore)
	}

	if len(gotBody.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" {
		t.Errorf("expected system message first, got %s", gotBody.Messages[0].Role)
	}
	if !strings.Contains(gotBody.Messages[1].Content, "Duplicate claim") {
		t.Error("expected rule reasons in the evidence payload")
	}
	if !strings.Contains(gotBody.Messages[1].Content, "COMBINED_SCORE") {
		t.Error("expected combined score in the evidence payload")
	}
}

func TestFallbackVerdict(t *testing.T) {
	v := FallbackVerdict(errors.New("timeout"))

	if v.Action != domain.ActionEscalate {
		t.Errorf("expected escalate fallback, got %s", v.Action)
	}
	if v.FraudScore != nil {
		t.Errorf("expected nil fraud score, got %v", *v.FraudScore)
	}
	if !strings.Contains(v.Explanation, "timeout") {
		t.Errorf("expected cause in explanation, got %s", v.Explanation)
	}
	if v.FollowUpQuestions == nil {
		t.Error("expected empty follow-ups slice, got nil")
	}
}
