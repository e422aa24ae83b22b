package domain

import "time"

// Config holds every tunable of one scoring run.
// It is passed by value into each component; nothing reads thresholds from globals.
type Config struct {
	Governance GovernanceConfig `json:"governance"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	Model      ModelConfig      `json:"model"`
	Rules      RulesConfig      `json:"rules"`
	Scoring    ScoringConfig    `json:"scoring"`
	Insight    InsightConfig    `json:"insight"`

	// DefaultHighRiskThreshold is used by metric accessors when the caller supplies none.
	DefaultHighRiskThreshold float64 `json:"defaultHighRiskThreshold"`
}

// GovernanceConfig holds the row-level business limits.
type GovernanceConfig struct {
	AmountMin float64 `json:"amountMin"`
	AmountMax float64 `json:"amountMax"`
}

// EnrichmentConfig controls synthetic identifier assignment.
type EnrichmentConfig struct {
	Seed      uint64    `json:"seed"`
	Merchants int       `json:"merchants"`
	Customers int       `json:"customers"`
	BaseTime  time.Time `json:"baseTime"` // time_offset is added to this instant
}

// ModelConfig controls classifier training.
type ModelConfig struct {
	MaxIter   int     `json:"maxIter"`
	Tolerance float64 `json:"tolerance"`
	C         float64 `json:"c"` // inverse L2 regularisation strength
}

// RulesConfig holds the rule engine thresholds and partial scores.
type RulesConfig struct {
	AmountModerate      float64 `json:"amountModerate"`
	AmountHigh          float64 `json:"amountHigh"`
	AmountVeryHigh      float64 `json:"amountVeryHigh"`
	AmountModerateScore float64 `json:"amountModerateScore"`
	AmountHighScore     float64 `json:"amountHighScore"`
	AmountVeryHighScore float64 `json:"amountVeryHighScore"`

	// Customers with at least VelocityCutoff rows in the scored batch are flagged.
	VelocityCutoff int     `json:"velocityCutoff"`
	VelocityScore  float64 `json:"velocityScore"`

	// Inclusive hour-of-day window.
	OffHoursStart int     `json:"offHoursStart"`
	OffHoursEnd   int     `json:"offHoursEnd"`
	OffHoursScore float64 `json:"offHoursScore"`

	MaxWorkers int `json:"maxWorkers"`
}

// ScoringConfig holds the hybrid fusion weights and tier thresholds.
type ScoringConfig struct {
	RuleWeight      float64 `json:"ruleWeight"`
	MLWeight        float64 `json:"mlWeight"`
	HighThreshold   float64 `json:"highThreshold"`
	MediumThreshold float64 `json:"mediumThreshold"`
}

// InsightConfig holds the severity thresholds of the insight agent.
type InsightConfig struct {
	FraudAlert     float64 `json:"fraudAlert"`
	FraudWarning   float64 `json:"fraudWarning"`
	RiskAlert      float64 `json:"riskAlert"`
	RiskWarning    float64 `json:"riskWarning"`
	TrendWindow    int     `json:"trendWindow"`
	TrendTolerance float64 `json:"trendTolerance"`
}

// ReferenceTime is the instant time_offset values are measured from.
var ReferenceTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Governance: GovernanceConfig{
			AmountMin: 0,
			AmountMax: 50000,
		},
		Enrichment: EnrichmentConfig{
			Seed:      42,
			Merchants: 20,
			Customers: 200,
			BaseTime:  ReferenceTime,
		},
		Model: ModelConfig{
			MaxIter:   100,
			Tolerance: 1e-8,
			C:         1.0,
		},
		Rules: RulesConfig{
			AmountModerate:      200,
			AmountHigh:          1000,
			AmountVeryHigh:      3000,
			AmountModerateScore: 0.2,
			AmountHighScore:     0.4,
			AmountVeryHighScore: 0.6,
			VelocityCutoff:      10,
			VelocityScore:       0.2,
			OffHoursStart:       0,
			OffHoursEnd:         5,
			OffHoursScore:       0.2,
			MaxWorkers:          8,
		},
		Scoring: ScoringConfig{
			RuleWeight:      0.35,
			MLWeight:        0.65,
			HighThreshold:   0.70,
			MediumThreshold: 0.40,
		},
		Insight: InsightConfig{
			FraudAlert:     0.05,
			FraudWarning:   0.01,
			RiskAlert:      0.70,
			RiskWarning:    0.40,
			TrendWindow:    3,
			TrendTolerance: 0.10,
		},
		DefaultHighRiskThreshold: 0.70,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}
