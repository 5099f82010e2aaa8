// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearclaim/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClaim stores a claim with tenant isolation. Existing claims with
// the same id are replaced, so re-ingesting a batch is idempotent.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if claim == nil || claim.ID == "" {
		return fmt.Errorf("%w: claim with id is required", ErrInvalidInput)
	}

	record, _ := json.Marshal(claim)

	query := `
		INSERT INTO claims (
			id, tenant_id, policy_number, incident_date, incident_type,
			incident_state, total_claim_amount, fraud_reported,
			record, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			policy_number = excluded.policy_number,
			incident_date = excluded.incident_date,
			incident_type = excluded.incident_type,
			incident_state = excluded.incident_state,
			total_claim_amount = excluded.total_claim_amount,
			fraud_reported = excluded.fraud_reported,
			record = excluded.record
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.PolicyNumber,
		claim.IncidentDate, claim.IncidentType, claim.IncidentState,
		claim.ClaimAmount, claim.FraudReported,
		string(record), time.Now().UTC(),
	)
	return err
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT record
		FROM claims
		WHERE tenant_id = ? AND id = ?
	`

	var record string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID).Scan(&record)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var claim domain.Claim
	if err := json.Unmarshal([]byte(record), &claim); err != nil {
		return nil, fmt.Errorf("failed to parse claim record: %w", err)
	}

	return &claim, nil
}

// CountClaimsByPolicy counts stored claims for a policy since the given
// time, with tenant isolation.
func (r *SQLRepository) CountClaimsByPolicy(ctx context.Context, tenantID string, policyNumber string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM claims
		WHERE tenant_id = ?
		  AND policy_number = ?
		  AND incident_date >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyNumber, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}

	return count, nil
}

// SaveAnalysis stores a batch analysis result with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, analysis *domain.Analysis) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	thresholds, _ := json.Marshal(analysis.Thresholds)
	findings, _ := json.Marshal(analysis.Findings)
	scores, _ := json.Marshal(analysis.Scores)
	claimIDs, _ := json.Marshal(analysis.ClaimIDs)

	query := `
		INSERT INTO analyses (
			id, tenant_id, thresholds, findings, scores, claim_ids,
			retained, dropped, timestamp, process_ms, engine_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, tenantID,
		string(thresholds), string(findings), string(scores), string(claimIDs),
		analysis.Retained, analysis.Dropped,
		analysis.Timestamp, analysis.ProcessMs, analysis.EngineVersion,
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, thresholds, findings, scores, claim_ids,
			   retained, dropped, timestamp, process_ms, engine_version
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var analysis domain.Analysis
	var thresholds, findings, scores, claimIDs string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&analysis.ID, &analysis.TenantID,
		&thresholds, &findings, &scores, &claimIDs,
		&analysis.Retained, &analysis.Dropped,
		&analysis.Timestamp, &analysis.ProcessMs, &analysis.EngineVersion,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(thresholds), &analysis.Thresholds)
	json.Unmarshal([]byte(findings), &analysis.Findings)
	json.Unmarshal([]byte(scores), &analysis.Scores)
	json.Unmarshal([]byte(claimIDs), &analysis.ClaimIDs)

	return &analysis, nil
}

// SaveVerdict stores a hybrid review outcome with tenant isolation.
// Re-reviews of the same claim replace the earlier verdict.
func (r *SQLRepository) SaveVerdict(ctx context.Context, tenantID string, rec *domain.HybridRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	verdict, _ := json.Marshal(rec.Verdict)

	query := `
		INSERT INTO verdicts (
			analysis_id, claim_id, tenant_id, rule_score, ml_probability,
			combined_score, verdict, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(analysis_id, claim_id, tenant_id) DO UPDATE SET
			rule_score = excluded.rule_score,
			ml_probability = excluded.ml_probability,
			combined_score = excluded.combined_score,
			verdict = excluded.verdict,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.AnalysisID, rec.ClaimID, tenantID,
		rec.RuleScore, rec.MLProbability, rec.CombinedScore,
		string(verdict), time.Unix(rec.CreatedAt, 0).UTC(),
	)
	return err
}

// GetVerdict retrieves a hybrid review outcome with tenant isolation.
func (r *SQLRepository) GetVerdict(ctx context.Context, tenantID string, analysisID, claimID string) (*domain.HybridRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT analysis_id, claim_id, rule_score, ml_probability,
			   combined_score, verdict, created_at
		FROM verdicts
		WHERE tenant_id = ? AND analysis_id = ? AND claim_id = ?
	`

	var rec domain.HybridRecord
	var verdict string
	var createdAt time.Time

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID, claimID).Scan(
		&rec.AnalysisID, &rec.ClaimID, &rec.RuleScore, &rec.MLProbability,
		&rec.CombinedScore, &verdict, &createdAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(verdict), &rec.Verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict: %w", err)
	}
	rec.CreatedAt = createdAt.Unix()

	return &rec, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
