package domain

import "time"

// RunReport is the persisted outcome of one pipeline invocation.
// It stores outputs only; the trained classifier is never persisted.
type RunReport struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"sourcePath"`
	SourceDigest string    `json:"sourceDigest"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt"`

	RawRows    int `json:"rawRows"`
	CleanRows  int `json:"cleanRows"`
	ScoredRows int `json:"scoredRows"`

	Snapshot MetricsSnapshot `json:"snapshot"`
	Insights []Insight       `json:"insights"`
	Metadata RunMetadata     `json:"metadata"`
}

// RunMetadata contains stage timings.
type RunMetadata struct {
	TraceID       string `json:"traceId"`
	GovernanceMs  int64  `json:"governanceMs"`
	EnrichMs      int64  `json:"enrichMs"`
	ModelMs       int64  `json:"modelMs"`
	RulesMs       int64  `json:"rulesMs"`
	ScoringMs     int64  `json:"scoringMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// RunRequest asks a worker to score a source file.
type RunRequest struct {
	RunID      string  `json:"runId"`
	SourcePath string  `json:"sourcePath"`
	Threshold  float64 `json:"threshold,omitempty"`
}

// RunEvent is published on the run.completed and run.failed topics.
type RunEvent struct {
	RunID        string   `json:"runId"`
	SourcePath   string   `json:"sourcePath"`
	SourceDigest string   `json:"sourceDigest,omitempty"`
	Cached       bool     `json:"cached"`
	ScoredRows   int      `json:"scoredRows,omitempty"`
	HighRisk     int      `json:"highRiskCount,omitempty"`
	FraudRate    float64  `json:"fraudRate,omitempty"`
	AvgRisk      float64  `json:"avgRisk,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// InsightAlert is published when a run produces at least one ALERT insight.
type InsightAlert struct {
	RunID    string    `json:"runId"`
	Insights []Insight `json:"insights"`
}
