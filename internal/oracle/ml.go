// Package oracle implements clients for the two external scoring
// oracles: the ML probability service and the advisory service.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
)

// FeatureSchema describes the fields the ML model requires. Missing
// categorical fields are substituted with "Unknown", missing numeric
// fields with their training median, or 0 when no median is known.
type FeatureSchema struct {
	Categorical []string           `json:"categorical"`
	Numeric     []string           `json:"numeric"`
	Medians     map[string]float64 `json:"medians,omitempty"`
}

// DefaultFeatureSchema matches the insurance claim dataset the model
// service is trained on.
func DefaultFeatureSchema() FeatureSchema {
	return FeatureSchema{
		Categorical: []string{
			"incident_type", "incident_severity", "incident_state",
			"policy_state", "insured_occupation", "insured_hobbies",
			"auto_make", "auto_model", "police_report_available",
			"property_damage",
		},
		Numeric: []string{
			"total_claim_amount", "months_as_customer", "age",
			"policy_annual_premium", "incident_hour_of_the_day",
			"number_of_vehicles_involved", "witnesses",
		},
	}
}

// MLClient calls the model service over HTTP. Implements domain.MLOracle.
type MLClient struct {
	baseURL string
	schema  FeatureSchema
	client  *http.Client
}

// NewMLClient creates a probability oracle client.
func NewMLClient(baseURL string, schema FeatureSchema, timeout time.Duration) *MLClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MLClient{
		baseURL: baseURL,
		schema:  schema,
		client:  &http.Client{Timeout: timeout},
	}
}

type mlResponse struct {
	Prediction  string  `json:"prediction"`
	Probability float64 `json:"probability"`
}

// Predict posts one claim's feature row to the model service and returns
// its fraud probability with the thresholded binary label.
func (m *MLClient) Predict(ctx context.Context, row map[string]any) (domain.MLPrediction, error) {
	payload, err := json.Marshal(m.prepareRow(row))
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("encode feature row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.MLPrediction{}, fmt.Errorf("call model service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.MLPrediction{}, fmt.Errorf("model service returned status %d", resp.StatusCode)
	}

	var out mlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.MLPrediction{}, fmt.Errorf("decode model response: %w", err)
	}

	if out.Prediction == "" {
		// Apply the fixed 0.5 decision threshold when the service only
		// returns a probability.
		out.Prediction = "n"
		if out.Probability >= 0.5 {
			out.Prediction = "y"
		}
	}

	return domain.MLPrediction{Prediction: out.Prediction, Probability: out.Probability}, nil
}

// prepareRow fills in every model-required field missing from the raw
// feature row.
func (m *MLClient) prepareRow(row map[string]any) map[string]any {
	prepared := make(map[string]any, len(m.schema.Categorical)+len(m.schema.Numeric))

	for _, col := range m.schema.Categorical {
		v, ok := row[col]
		if !ok || v == nil {
			v = "Unknown"
		}
		prepared[col] = fmt.Sprintf("%v", v)
	}

	for _, col := range m.schema.Numeric {
		if v, ok := row[col].(float64); ok {
			prepared[col] = v
			continue
		}
		if median, ok := m.schema.Medians[col]; ok {
			prepared[col] = median
			continue
		}
		prepared[col] = 0.0
	}

	// Pass through any additional fields the caller supplied.
	for k, v := range row {
		if _, ok := prepared[k]; !ok {
			prepared[k] = v
		}
	}

	return prepared
}
