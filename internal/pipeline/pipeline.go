// Package pipeline sequences the scoring stages over one raw table.
//
// A run is a pure function of (table, config): nothing is carried between
// runs and nothing is cached here. Callers that want memoisation key it on
// the source identity (see the service package).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/enrich"
	"github.com/opensource-finance/riskcenter/internal/features"
	"github.com/opensource-finance/riskcenter/internal/governance"
	"github.com/opensource-finance/riskcenter/internal/insight"
	"github.com/opensource-finance/riskcenter/internal/metrics"
	"github.com/opensource-finance/riskcenter/internal/model"
	"github.com/opensource-finance/riskcenter/internal/rules"
	"github.com/opensource-finance/riskcenter/internal/scoring"
	"github.com/opensource-finance/riskcenter/internal/velocity"
)

// EngineVersion is stamped on every run's metadata.
const EngineVersion = "riskcenter-1.0"

var tracer = otel.Tracer("riskcenter-pipeline")

// Classifier fits on (x, y) and returns P(fraud) for every row of x.
type Classifier func(x *mat.Dense, y []float64) ([]float64, error)

// Runner executes the pipeline.
type Runner struct {
	cfg        domain.Config
	engine     *rules.Engine
	processor  *scoring.Processor
	classifier Classifier
}

// Option configures a Runner.
type Option func(*Runner)

// WithClassifier replaces the logistic regression classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Runner) {
		r.classifier = c
	}
}

// WithRuleEngine replaces the default rule set.
func WithRuleEngine(e *rules.Engine) Option {
	return func(r *Runner) {
		r.engine = e
	}
}

// NewRunner creates a runner from cfg.
func NewRunner(cfg domain.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:       cfg,
		processor: scoring.NewProcessor(cfg.Scoring),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.engine == nil {
		engine, err := rules.NewDefaultEngine(cfg.Rules)
		if err != nil {
			return nil, fmt.Errorf("pipeline: failed to build rule engine: %w", err)
		}
		r.engine = engine
	}
	if r.classifier == nil {
		modelCfg := cfg.Model
		r.classifier = func(x *mat.Dense, y []float64) ([]float64, error) {
			_, probs, err := model.TrainAndScore(x, y, modelCfg)
			return probs, err
		}
	}

	return r, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() domain.Config {
	return r.cfg
}

// Rules returns the rules the engine applies.
func (r *Runner) Rules() []*domain.RuleConfig {
	return r.engine.GetLoadedRules()
}

// Result is the output of one run.
type Result struct {
	Rows       []domain.ScoredTransaction
	Governance governance.Report
	Metadata   domain.RunMetadata

	cfg domain.Config
}

// Run scores table. Only schema violations are fatal; row-level data quality
// problems are dropped by governance and counted in Result.Governance.
func (r *Runner) Run(ctx context.Context, table domain.RawTable) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.Int("pipeline.raw_rows", table.Len())),
	)
	defer span.End()

	res := &Result{cfg: r.cfg}
	res.Metadata.EngineVersion = EngineVersion
	if span.SpanContext().TraceID().IsValid() {
		res.Metadata.TraceID = span.SpanContext().TraceID().String()
	}

	// Govern
	stageStart := time.Now()
	_, govSpan := tracer.Start(ctx, "pipeline.governance")
	cleaned, report, err := governance.ValidateAndClean(table, r.cfg.Governance)
	govSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Governance = report
	res.Metadata.GovernanceMs = time.Since(stageStart).Milliseconds()

	// Enrich
	stageStart = time.Now()
	_, enrichSpan := tracer.Start(ctx, "pipeline.enrich")
	txs, err := enrich.Enrich(cleaned, r.cfg.Enrichment)
	enrichSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Metadata.EnrichMs = time.Since(stageStart).Milliseconds()

	if len(txs) == 0 {
		slog.Warn("no rows survived governance; nothing to score",
			"raw_rows", report.InputRows,
		)
		res.Rows = []domain.ScoredTransaction{}
		res.Metadata.TotalMs = time.Since(start).Milliseconds()
		return res, nil
	}

	// Classifier and rules depend only on the enriched rows, so they run
	// concurrently. Each writes its own slice.
	var probs, ruleRisk []float64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stageStart := time.Now()
		_, s := tracer.Start(gctx, "pipeline.classifier")
		defer s.End()

		x, y := features.Build(txs)
		p, err := r.classifier(x, y)
		if err != nil {
			return fmt.Errorf("pipeline: classifier failed: %w", err)
		}
		if len(p) != len(txs) {
			return fmt.Errorf("pipeline: classifier returned %d probabilities for %d rows", len(p), len(txs))
		}
		probs = p
		res.Metadata.ModelMs = time.Since(stageStart).Milliseconds()
		return nil
	})

	g.Go(func() error {
		stageStart := time.Now()
		rctx, s := tracer.Start(gctx, "pipeline.rules")
		defer s.End()

		risk, err := r.engine.Apply(rctx, txs)
		if err != nil {
			return fmt.Errorf("pipeline: rule engine failed: %w", err)
		}
		ruleRisk = risk
		res.Metadata.RulesMs = time.Since(stageStart).Milliseconds()
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Score
	stageStart = time.Now()
	scored, err := r.processor.Score(txs, ruleRisk, probs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Rows = scored
	res.Metadata.ScoringMs = time.Since(stageStart).Milliseconds()
	res.Metadata.TotalMs = time.Since(start).Milliseconds()

	tiers := scoring.TierCounts(scored)
	counter := velocity.NewCounter(txs)
	span.SetAttributes(
		attribute.Int("pipeline.scored_rows", len(scored)),
		attribute.Int("pipeline.high_tier", tiers[domain.TierHigh]),
	)

	slog.Info("pipeline completed",
		"trace_id", res.Metadata.TraceID,
		"raw_rows", report.InputRows,
		"scored_rows", len(scored),
		"tier_high", tiers[domain.TierHigh],
		"tier_medium", tiers[domain.TierMedium],
		"tier_low", tiers[domain.TierLow],
		"customers", counter.Customers(),
		"velocity_customers", counter.AtLeast(r.cfg.Rules.VelocityCutoff),
		"total_ms", res.Metadata.TotalMs,
	)

	return res, nil
}

// Metrics computes the metrics snapshot at threshold.
func (res *Result) Metrics(threshold float64) domain.MetricsSnapshot {
	return metrics.Compute(res.Rows, threshold)
}

// Insights generates the four insights for the snapshot at threshold.
func (res *Result) Insights(threshold float64) []domain.Insight {
	return insight.Generate(res.Metrics(threshold), res.cfg.Insight)
}

// Confusion compares high-risk flags at threshold against ground truth.
func (res *Result) Confusion(threshold float64) metrics.Confusion {
	return metrics.ConfusionAt(res.Rows, threshold)
}

// Contributions breaks a row's final score down by source.
func (res *Result) Contributions(ruleRisk, mlProbability float64) []domain.Contribution {
	return scoring.NewProcessor(res.cfg.Scoring).Contributions(ruleRisk, mlProbability)
}

// DefaultThreshold returns the configured high-risk threshold.
func (res *Result) DefaultThreshold() float64 {
	return res.cfg.DefaultHighRiskThreshold
}
