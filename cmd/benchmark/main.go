// Benchmark tool for testing Kestrel against labeled insurance claim data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/insurance_claims.csv -url http://localhost:8080
//
// This tool:
//   1. Reads insurance claim data (with fraud_reported labels)
//   2. Sends the claims to Kestrel in batches for scoring
//   3. Compares Kestrel's HIGH band alerts with the actual fraud labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// numericColumns are the CSV columns sent as JSON numbers.
var numericColumns = map[string]bool{
	"months_as_customer":          true,
	"age":                         true,
	"policy_annual_premium":       true,
	"total_claim_amount":          true,
	"incident_hour_of_the_day":    true,
	"number_of_vehicles_involved": true,
	"witnesses":                   true,
}

// LabeledClaim is one CSV row: the feature map sent to Kestrel plus the
// held-out fraud label.
type LabeledClaim struct {
	ID      string
	Record  map[string]any
	IsFraud bool
}

// BatchResponse is the Kestrel API response format for POST /analyses.
type BatchResponse struct {
	AnalysisID string   `json:"analysisId"`
	Retained   int      `json:"retained"`
	Dropped    int      `json:"dropped"`
	Alerts     []string `json:"alerts"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int // Fraud claims in the HIGH band
	FalsePositives int // Non-fraud claims in the HIGH band
	TrueNegatives  int // Non-fraud claims below the HIGH band
	FalseNegatives int // Fraud claims below the HIGH band (missed fraud!)

	TotalProcessed int
	TotalFraud     int
	TotalNonFraud  int
	TotalDropped   int
	TotalErrors    int
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labeled insurance claims CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum claims to process (0 = all)")
	batchSize := flag.Int("batch", 500, "Claims per analysis batch")
	asOf := flag.String("as-of", "", "Analysis anchor date (YYYY-MM-DD, default now)")
	verbose := flag.Bool("verbose", false, "Print each mislabeled claim")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/insurance_claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Claim Fraud Detection             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading claim data from %s...\n", *csvPath)
	claims, err := readClaimsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d claims\n", len(claims))

	fraudCount := 0
	for _, c := range claims {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	fmt.Printf("\nRunning benchmark in batches of %d...\n", *batchSize)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *asOf, *batchSize, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readClaimsCSV(path string, limit int) ([]LabeledClaim, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(strings.ToLower(col))
	}

	var claims []LabeledClaim
	rowNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		rowNum++

		row := make(map[string]any, len(header))
		isFraud := false
		for i, col := range header {
			if i >= len(record) {
				break
			}
			val := strings.TrimSpace(record[i])
			if val == "" || val == "?" {
				continue
			}
			if col == "fraud_reported" {
				// Held out: the label must never reach the scorer.
				isFraud = strings.EqualFold(val, "y") || strings.EqualFold(val, "yes")
				continue
			}
			if numericColumns[col] {
				if n, err := strconv.ParseFloat(val, 64); err == nil {
					row[col] = n
				}
				continue
			}
			row[col] = val
		}

		id := fmt.Sprintf("BENCH_%06d", rowNum)
		row["claim_id"] = id

		claims = append(claims, LabeledClaim{ID: id, Record: row, IsFraud: isFraud})

		if limit > 0 && len(claims) >= limit {
			break
		}
	}

	return claims, nil
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID, asOf string, batchSize int, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 120 * time.Second}

	labels := make(map[string]bool, len(claims))
	for _, c := range claims {
		labels[c.ID] = c.IsFraud
	}

	for start := 0; start < len(claims); start += batchSize {
		end := start + batchSize
		if end > len(claims) {
			end = len(claims)
		}
		batch := claims[start:end]

		resp, err := scoreBatch(client, baseURL, tenantID, asOf, batch)
		if err != nil {
			metrics.TotalErrors += len(batch)
			fmt.Printf("ERROR: batch %d-%d failed: %v\n", start, end, err)
			continue
		}

		alerted := make(map[string]bool, len(resp.Alerts))
		for _, id := range resp.Alerts {
			alerted[id] = true
		}

		metrics.TotalProcessed += resp.Retained
		metrics.TotalDropped += resp.Dropped

		for _, c := range batch {
			actual := labels[c.ID]
			predicted := alerted[c.ID]

			if actual {
				metrics.TotalFraud++
			} else {
				metrics.TotalNonFraud++
			}

			switch {
			case predicted && actual:
				metrics.TruePositives++
			case predicted && !actual:
				metrics.FalsePositives++
			case !predicted && !actual:
				metrics.TrueNegatives++
			default:
				metrics.FalseNegatives++
			}

			if verbose && predicted != actual {
				fmt.Printf("✗ %-12s | Fraud: %-5v | Alerted: %v\n", c.ID, actual, predicted)
			}
		}
	}

	return metrics
}

func scoreBatch(client *http.Client, baseURL, tenantID, asOf string, batch []LabeledClaim) (*BatchResponse, error) {
	records := make([]map[string]any, 0, len(batch))
	for _, c := range batch {
		records = append(records, c.Record)
	}

	body, err := json.Marshal(map[string]any{
		"asOf":   asOf,
		"claims": records,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Dropped:          %d\n", m.TotalDropped)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH       other")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f claims/sec\n", cps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
