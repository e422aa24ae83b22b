// Package service is the calling layer around the pipeline: it loads the
// source, memoises results by source identity, persists run reports and
// announces them on the event bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/riskcenter/internal/bus"
	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/insight"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/source"
)

// ErrNoRun is returned by accessors before the first run has completed.
var ErrNoRun = errors.New("no run has completed yet")

// historySize bounds the in-process report history kept when no repository
// is configured.
const historySize = 50

// Run is one scored source. Result holds the scored rows; it is nil when
// the report was served from the shared cache without re-scoring.
type Run struct {
	Report *domain.RunReport
	Result *pipeline.Result
	Digest string
	Cached bool
}

// Service runs the batch job.
type Service struct {
	runner    *pipeline.Runner
	cache     domain.Cache
	repo      domain.Repository
	bus       domain.EventBus
	reportTTL time.Duration

	load   func(path string) (domain.RawTable, error)
	digest func(path string) (string, error)

	group singleflight.Group

	mu      sync.RWMutex
	latest  *Run
	history []*domain.RunReport // newest first; only without a repository
}

// Option configures a Service.
type Option func(*Service)

func WithCache(c domain.Cache) Option { return func(s *Service) { s.cache = c } }

func WithRepository(r domain.Repository) Option { return func(s *Service) { s.repo = r } }

func WithEventBus(b domain.EventBus) Option { return func(s *Service) { s.bus = b } }

// WithReportTTL bounds how long a cached report is served.
func WithReportTTL(ttl time.Duration) Option { return func(s *Service) { s.reportTTL = ttl } }

// WithLoader replaces the CSV loader and digest. Used by tests and by
// callers that already hold the table.
func WithLoader(load func(string) (domain.RawTable, error), digest func(string) (string, error)) Option {
	return func(s *Service) {
		s.load = load
		s.digest = digest
	}
}

// New creates a service. Cache, repository and bus are optional.
func New(runner *pipeline.Runner, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		reportTTL: 24 * time.Hour,
		load:      source.LoadCSV,
		digest:    source.Digest,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scores the source named by req and makes it the latest run. A source
// whose digest matches the latest run is not re-scored.
func (s *Service) Run(ctx context.Context, req domain.RunRequest) (*Run, error) {
	digest, err := s.digest(req.SourcePath)
	if err != nil {
		s.publishFailed(ctx, req, err)
		return nil, err
	}

	if latest := s.Latest(); latest != nil && latest.Digest == digest && latest.Result != nil {
		slog.Debug("source unchanged, reusing latest run",
			"run_id", latest.Report.ID,
			"digest", digest,
		)
		run := s.reuse(ctx, s.reportAt(latest, req), req)
		s.publishCompleted(ctx, run)
		return run, nil
	}

	v, err, _ := s.group.Do(digest, func() (any, error) {
		return s.execute(ctx, req, digest)
	})
	if err != nil {
		s.publishFailed(ctx, req, err)
		return nil, err
	}

	run := v.(*Run)
	s.mu.Lock()
	s.latest = run
	s.mu.Unlock()

	run = s.reportAt(run, req)
	s.publishCompleted(ctx, run)
	return run, nil
}

// Report returns the report of the source named by req. A report cached for
// the same source and threshold is returned without scoring.
func (s *Service) Report(ctx context.Context, req domain.RunRequest) (*Run, error) {
	digest, err := s.digest(req.SourcePath)
	if err != nil {
		s.publishFailed(ctx, req, err)
		return nil, err
	}

	if s.cache != nil {
		report, err := s.cache.GetRunReport(ctx, memoKey(digest, s.threshold(req)))
		if err != nil {
			slog.Warn("cache lookup failed", "digest", digest, "error", err)
		}
		if report != nil {
			run := s.reuse(ctx, &Run{Report: report, Digest: digest}, req)
			s.publishCompleted(ctx, run)
			return run, nil
		}
	}

	return s.Run(ctx, req)
}

// Latest returns the most recent run scored by this process, or nil.
func (s *Service) Latest() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Result returns the scored rows of the latest run.
func (s *Service) Result() (*pipeline.Result, error) {
	latest := s.Latest()
	if latest == nil || latest.Result == nil {
		return nil, ErrNoRun
	}
	return latest.Result, nil
}

// GetReport looks up a report by ID, falling back to the in-process history
// when no repository is configured.
func (s *Service) GetReport(ctx context.Context, id string) (*domain.RunReport, error) {
	if s.repo != nil {
		return s.repo.GetRunReport(ctx, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, report := range s.history {
		if report.ID == id {
			return report, nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrNoRun)
}

// ListReports returns persisted reports, newest first.
func (s *Service) ListReports(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	if s.repo != nil {
		return s.repo.ListRunReports(ctx, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]*domain.RunReport, limit)
	copy(out, s.history)
	return out, nil
}

// Ping checks every configured backend.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := make(map[string]error)
	if s.repo != nil {
		checks["repository"] = s.repo.Ping(ctx)
	}
	if s.cache != nil {
		checks["cache"] = s.cache.Ping(ctx)
	}
	if s.bus != nil {
		checks["eventbus"] = s.bus.Ping(ctx)
	}
	return checks
}

// Config returns the pipeline configuration.
func (s *Service) Config() domain.Config {
	return s.runner.Config()
}

// Rules returns the rules applied by the pipeline.
func (s *Service) Rules() []*domain.RuleConfig {
	return s.runner.Rules()
}

func (s *Service) execute(ctx context.Context, req domain.RunRequest, digest string) (*Run, error) {
	started := time.Now().UTC()

	table, err := s.load(req.SourcePath)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("run failed for %s: %w", req.SourcePath, err)
	}

	id := req.RunID
	if id == "" {
		id = uuid.New().String()
	}

	threshold := res.DefaultThreshold()
	report := &domain.RunReport{
		ID:           id,
		SourcePath:   req.SourcePath,
		SourceDigest: digest,
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
		RawRows:      res.Governance.InputRows,
		CleanRows:    res.Governance.CleanRows,
		ScoredRows:   len(res.Rows),
		Snapshot:     res.Metrics(threshold),
		Insights:     res.Insights(threshold),
		Metadata:     res.Metadata,
	}

	s.record(ctx, report)
	s.remember(ctx, digest, threshold, report)

	slog.Info("run completed",
		"run_id", id,
		"source", req.SourcePath,
		"scored_rows", report.ScoredRows,
		"high_risk", report.Snapshot.HighRiskCount,
		"duration_ms", report.CompletedAt.Sub(started).Milliseconds(),
	)

	return &Run{Report: report, Result: res, Digest: digest}, nil
}

// reportAt re-derives the report of run at the requested threshold. The
// stored report is always at the configured default.
func (s *Service) reportAt(run *Run, req domain.RunRequest) *Run {
	threshold := s.threshold(req)
	if run.Result == nil || threshold == run.Report.Snapshot.Threshold {
		return run
	}

	report := *run.Report
	report.Snapshot = run.Result.Metrics(threshold)
	report.Insights = run.Result.Insights(threshold)

	out := *run
	out.Report = &report
	return &out
}

// reuse answers req with an already scored run. A caller-supplied run ID
// gets its own report record so it can be looked up and announced.
func (s *Service) reuse(ctx context.Context, run *Run, req domain.RunRequest) *Run {
	out := *run
	out.Cached = true
	if req.RunID == "" || req.RunID == run.Report.ID {
		return &out
	}

	now := time.Now().UTC()
	report := *run.Report
	report.ID = req.RunID
	report.StartedAt = now
	report.CompletedAt = now
	out.Report = &report

	s.record(ctx, &report)
	slog.Info("run served from an earlier result",
		"run_id", report.ID,
		"source_run_id", run.Report.ID,
		"digest", run.Digest,
	)
	return &out
}

// record persists report, or keeps it in the in-process history when no
// repository is configured.
func (s *Service) record(ctx context.Context, report *domain.RunReport) {
	if s.repo != nil {
		if err := s.repo.SaveRunReport(ctx, report); err != nil {
			slog.Error("failed to save run report", "run_id", report.ID, "error", err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]*domain.RunReport{report}, s.history...)
	if len(s.history) > historySize {
		s.history = s.history[:historySize]
	}
}

func (s *Service) remember(ctx context.Context, digest string, threshold float64, report *domain.RunReport) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRunReport(ctx, memoKey(digest, threshold), report, s.reportTTL); err != nil {
		slog.Warn("failed to cache run report", "run_id", report.ID, "error", err)
	}
}

func (s *Service) threshold(req domain.RunRequest) float64 {
	if req.Threshold > 0 {
		return req.Threshold
	}
	return s.runner.Config().DefaultHighRiskThreshold
}

func (s *Service) publishCompleted(ctx context.Context, run *Run) {
	if s.bus == nil {
		return
	}

	report := run.Report
	event := domain.RunEvent{
		RunID:        report.ID,
		SourcePath:   report.SourcePath,
		SourceDigest: report.SourceDigest,
		Cached:       run.Cached,
		ScoredRows:   report.ScoredRows,
		HighRisk:     report.Snapshot.HighRiskCount,
		FraudRate:    report.Snapshot.FraudRate,
		AvgRisk:      report.Snapshot.AvgRisk,
		Severity:     insight.Highest(report.Insights),
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicRunCompleted, event); err != nil {
		slog.Error("failed to publish run completion", "run_id", report.ID, "error", err)
	}

	if event.Severity != domain.SeverityAlert {
		return
	}

	alert := domain.InsightAlert{RunID: report.ID}
	for _, in := range report.Insights {
		if in.Severity == domain.SeverityAlert {
			alert.Insights = append(alert.Insights, in)
		}
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicInsightAlert, alert); err != nil {
		slog.Error("failed to publish insight alert", "run_id", report.ID, "error", err)
	}
}

func (s *Service) publishFailed(ctx context.Context, req domain.RunRequest, cause error) {
	slog.Error("run failed", "run_id", req.RunID, "source", req.SourcePath, "error", cause)
	if s.bus == nil {
		return
	}

	event := domain.RunEvent{
		RunID:      req.RunID,
		SourcePath: req.SourcePath,
		Error:      cause.Error(),
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicRunFailed, event); err != nil {
		slog.Error("failed to publish run failure", "run_id", req.RunID, "error", err)
	}
}

func memoKey(digest string, threshold float64) string {
	return digest + "@" + strconv.FormatFloat(threshold, 'f', 4, 64)
}
