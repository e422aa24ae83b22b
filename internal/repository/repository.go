// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != ":memory:" {
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

	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRunReport stores a run report. Scalar KPIs get their own columns so
// history can be listed without decoding the snapshot.
func (r *SQLRepository) SaveRunReport(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report ID is required", ErrInvalidInput)
	}

	snapshot, err := json.Marshal(report.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	insights, err := json.Marshal(report.Insights)
	if err != nil {
		return fmt.Errorf("failed to encode insights: %w", err)
	}
	metadata, err := json.Marshal(report.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO run_reports (
			id, source_path, source_digest, started_at, completed_at,
			raw_rows, clean_rows, scored_rows,
			avg_risk, fraud_rate, high_risk_count,
			snapshot, insights, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, report.SourcePath, report.SourceDigest,
		report.StartedAt.UTC(), report.CompletedAt.UTC(),
		report.RawRows, report.CleanRows, report.ScoredRows,
		report.Snapshot.AvgRisk, report.Snapshot.FraudRate, report.Snapshot.HighRiskCount,
		string(snapshot), string(insights), string(metadata),
	)
	return err
}

const selectRunReport = `
	SELECT id, source_path, source_digest, started_at, completed_at,
		   raw_rows, clean_rows, scored_rows,
		   snapshot, insights, metadata
	FROM run_reports
`

// GetRunReport retrieves a run report by ID.
func (r *SQLRepository) GetRunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	row := r.db.QueryRowContext(ctx, r.rebind(selectRunReport+` WHERE id = ?`), runID)
	return scanRunReport(row)
}

// LatestRunReport returns the most recently completed report for a source digest.
func (r *SQLRepository) LatestRunReport(ctx context.Context, sourceDigest string) (*domain.RunReport, error) {
	if sourceDigest == "" {
		return nil, fmt.Errorf("%w: sourceDigest is required", ErrInvalidInput)
	}

	query := selectRunReport + ` WHERE source_digest = ? ORDER BY completed_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, r.rebind(query), sourceDigest)
	return scanRunReport(row)
}

// ListRunReports lists reports, newest first.
func (r *SQLRepository) ListRunReports(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectRunReport + ` ORDER BY started_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.RunReport
	for rows.Next() {
		report, err := scanRunReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRunReport(s scanner) (*domain.RunReport, error) {
	var report domain.RunReport
	var snapshot, insights, metadata string

	err := s.Scan(
		&report.ID, &report.SourcePath, &report.SourceDigest,
		&report.StartedAt, &report.CompletedAt,
		&report.RawRows, &report.CleanRows, &report.ScoredRows,
		&snapshot, &insights, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(snapshot), &report.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot of run %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(insights), &report.Insights); err != nil {
		return nil, fmt.Errorf("failed to decode insights of run %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &report.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of run %s: %w", report.ID, err)
	}

	return &report, nil
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

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
