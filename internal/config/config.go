// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/rules"
)

// Prefix is prepended to every environment variable name.
const Prefix = "RISKCENTER"

// DefaultEnvFile is read, if present, before the environment is processed.
const DefaultEnvFile = "riskcenter.env"

// Settings holds process-level configuration. Scoring tunables live in
// domain.Config; only the handful an operator needs to change are exposed here.
type Settings struct {
	DataPath  string  `split_words:"true" default:"data/raw/creditcard.csv"`
	Threshold float64 `default:"0.7"`
	Seed      uint64  `default:"42"`

	// RulesFile names a JSON array of rule configs that replaces the
	// default rule set.
	RulesFile string `split_words:"true"`

	Server     ServerSettings
	Log        LogSettings
	Tracing    TracingSettings
	Repository RepositorySettings `envconfig:"DB"`
	Cache      CacheSettings
	Bus        BusSettings
	Worker     WorkerSettings
}

type ServerSettings struct {
	Host         string        `default:"0.0.0.0"`
	Port         int           `default:"8080"`
	ReadTimeout  time.Duration `split_words:"true" default:"30s"`
	WriteTimeout time.Duration `split_words:"true" default:"60s"`
}

type LogSettings struct {
	Level  string `default:"info"`
	Format string `default:"json"`
}

type TracingSettings struct {
	Enabled     bool   `default:"false"`
	ServiceName string `split_words:"true" default:"riskcenter"`
}

// RepositorySettings is read from RISKCENTER_DB_*.
type RepositorySettings struct {
	Driver     string `default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./riskcenter.db"`

	Host     string `default:"localhost"`
	Port     int    `default:"5432"`
	User     string
	Password string
	Name     string `default:"riskcenter"`
	SSLMode  string `split_words:"true" default:"disable"`

	MaxOpenConns    int           `split_words:"true" default:"10"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"5m"`
}

type CacheSettings struct {
	Type          string        `default:"memory"`
	LocalMaxSize  int           `split_words:"true" default:"64"`
	LocalTTL      time.Duration `envconfig:"LOCAL_TTL" default:"1h"`
	RedisAddr     string        `split_words:"true" default:"localhost:6379"`
	RedisPassword string        `split_words:"true"`
	RedisDB       int           `split_words:"true" default:"0"`
	TwoPhase      bool          `split_words:"true" default:"true"`
	ReportTTL     time.Duration `envconfig:"REPORT_TTL" default:"24h"`
}

type BusSettings struct {
	Type              string        `default:"channel"`
	BufferSize        int           `split_words:"true" default:"1000"`
	NATSUrl           string        `split_words:"true" default:"nats://localhost:4222"`
	NATSToken         string        `split_words:"true"`
	NATSMaxReconnects int           `split_words:"true" default:"10"`
	NATSReconnectWait time.Duration `split_words:"true" default:"5s"`
}

type WorkerSettings struct {
	Enabled bool `default:"false"`
	Count   int  `default:"1"`
}

// Load reads envFile (if it exists) into the environment and then processes
// RISKCENTER_* variables. Variables already set win over the file.
func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		switch {
		case err == nil:
			slog.Debug("environment file loaded", "path", envFile)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings no component can run with.
func (s *Settings) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", s.Threshold)
	}
	switch s.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", s.Repository.Driver)
	}
	switch s.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", s.Cache.Type)
	}
	switch s.Bus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", s.Bus.Type)
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

// Pipeline returns the scoring configuration with operator overrides applied.
func (s *Settings) Pipeline() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.DefaultHighRiskThreshold = s.Threshold
	cfg.Enrichment.Seed = s.Seed
	return cfg
}

// NewRunner builds the pipeline runner, loading RulesFile when it is set.
func (s *Settings) NewRunner(opts ...pipeline.Option) (*pipeline.Runner, error) {
	cfg := s.Pipeline()
	if s.RulesFile != "" {
		engine, err := rules.LoadFile(s.RulesFile, cfg.Rules.MaxWorkers)
		if err != nil {
			return nil, err
		}
		slog.Info("custom rules loaded", "path", s.RulesFile, "rules", engine.RulesCount())
		opts = append([]pipeline.Option{pipeline.WithRuleEngine(engine)}, opts...)
	}
	return pipeline.NewRunner(cfg, opts...)
}

func (s *Settings) ServerConfig() domain.ServerConfig {
	return domain.ServerConfig{
		Host:         s.Server.Host,
		Port:         s.Server.Port,
		ReadTimeout:  int(s.Server.ReadTimeout.Seconds()),
		WriteTimeout: int(s.Server.WriteTimeout.Seconds()),
	}
}

func (s *Settings) RepositoryConfig() domain.RepositoryConfig {
	r := s.Repository
	return domain.RepositoryConfig{
		Driver:           r.Driver,
		SQLitePath:       r.SQLitePath,
		PostgresHost:     r.Host,
		PostgresPort:     r.Port,
		PostgresUser:     r.User,
		PostgresPassword: r.Password,
		PostgresDB:       r.Name,
		PostgresSSLMode:  r.SSLMode,
		MaxOpenConns:     r.MaxOpenConns,
		MaxIdleConns:     r.MaxIdleConns,
		ConnMaxLifetime:  r.ConnMaxLifetime,
	}
}

func (s *Settings) CacheConfig() domain.CacheConfig {
	c := s.Cache
	return domain.CacheConfig{
		Type:           c.Type,
		LocalMaxSize:   c.LocalMaxSize,
		LocalTTL:       c.LocalTTL,
		RedisAddr:      c.RedisAddr,
		RedisPassword:  c.RedisPassword,
		RedisDB:        c.RedisDB,
		EnableTwoPhase: c.TwoPhase,
		ReportTTL:      c.ReportTTL,
	}
}

func (s *Settings) EventBusConfig() domain.EventBusConfig {
	b := s.Bus
	return domain.EventBusConfig{
		Type:              b.Type,
		ChannelBufferSize: b.BufferSize,
		NATSUrl:           b.NATSUrl,
		NATSToken:         b.NATSToken,
		NATSMaxReconnects: b.NATSMaxReconnects,
		NATSReconnectWait: int(b.NATSReconnectWait.Seconds()),
	}
}

func (s *Settings) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: s.Log.Level, Format: s.Log.Format}
}

func (s *Settings) TracingConfig() domain.TracingConfig {
	return domain.TracingConfig{Enabled: s.Tracing.Enabled, ServiceName: s.Tracing.ServiceName}
}

// NewLogger builds the process logger. Unknown formats fall back to JSON.
func NewLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
