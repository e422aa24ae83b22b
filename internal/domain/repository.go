// Package domain defines the core interfaces and types for riskcenter.
package domain

import (
	"context"
	"time"
)

// Repository stores run reports so the presentation layer can browse history.
type Repository interface {
	SaveRunReport(ctx context.Context, report *RunReport) error
	GetRunReport(ctx context.Context, runID string) (*RunReport, error)
	LatestRunReport(ctx context.Context, sourceDigest string) (*RunReport, error)
	ListRunReports(ctx context.Context, limit int) ([]*RunReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
