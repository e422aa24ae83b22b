package domain

import (
	"context"
	"time"
)

// Cache memoises run outputs by source identity.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetRunReport retrieves the cached report for a source digest.
	GetRunReport(ctx context.Context, digest string) (*RunReport, error)

	// SetRunReport caches the report of a run under its source digest.
	SetRunReport(ctx context.Context, digest string, report *RunReport, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// ReportTTL bounds how long a memoised run stays valid.
	ReportTTL time.Duration
}
