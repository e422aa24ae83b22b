package repository

// Schema definitions for the run report store.
// Compatible with both SQLite and PostgreSQL.

const schemaRunReports = `
CREATE TABLE IF NOT EXISTS run_reports (
    id TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    source_digest TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    raw_rows INTEGER NOT NULL,
    clean_rows INTEGER NOT NULL,
    scored_rows INTEGER NOT NULL,
    avg_risk REAL NOT NULL,
    fraud_rate REAL NOT NULL,
    high_risk_count INTEGER NOT NULL,
    snapshot TEXT NOT NULL,
    insights TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_reports_digest ON run_reports(source_digest, completed_at);
CREATE INDEX IF NOT EXISTS idx_run_reports_started ON run_reports(started_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRunReports,
	}
}
