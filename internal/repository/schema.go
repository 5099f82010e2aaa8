package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    policy_number TEXT NOT NULL,
    incident_date TIMESTAMP NOT NULL,
    incident_type TEXT,
    incident_state TEXT,
    total_claim_amount REAL NOT NULL DEFAULT 0,
    fraud_reported TEXT,
    record TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant ON claims(tenant_id);
CREATE INDEX IF NOT EXISTS idx_claims_policy ON claims(tenant_id, policy_number);
CREATE INDEX IF NOT EXISTS idx_claims_incident_date ON claims(tenant_id, incident_date);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    thresholds TEXT NOT NULL,
    findings TEXT NOT NULL,
    scores TEXT NOT NULL,
    claim_ids TEXT NOT NULL,
    retained INTEGER NOT NULL,
    dropped INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    process_ms INTEGER NOT NULL DEFAULT 0,
    engine_version TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(tenant_id, timestamp);
`

// schemaVerdicts stores hybrid review outcomes, one row per reviewed
// claim per analysis.
const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    analysis_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    rule_score INTEGER NOT NULL,
    ml_probability REAL NOT NULL,
    combined_score REAL NOT NULL,
    verdict TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (analysis_id, claim_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_verdicts_tenant ON verdicts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_analysis ON verdicts(tenant_id, analysis_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaAnalyses,
		schemaVerdicts,
	}
}
