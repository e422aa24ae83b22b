// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/velocity"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with no rules loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("has_time", cel.BoolType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// NewDefaultEngine creates an engine loaded with DefaultRules(cfg).
func NewDefaultEngine(cfg domain.RulesConfig) (*Engine, error) {
	e, err := NewEngine(cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}
	if err := e.LoadRules(DefaultRules(cfg)); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it, or replaces the loaded rule with the same ID.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	for i, r := range e.compiledRules {
		if r.Config.ID == cfg.ID {
			e.compiledRules[i] = compiled
			return nil
		}
	}
	e.compiledRules = append(e.compiledRules, compiled)

	return nil
}

// LoadRules compiles and loads multiple rules in order.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the per-row variables exposed to rule expressions.
type EvaluateInput struct {
	Transaction   domain.Transaction
	VelocityCount int
}

// Apply returns the rule risk of every row: the sum of all rule scores,
// clamped to [0, 1]. Customer velocity is the customer's row count in rows.
// Rows are split across the worker pool; the output is aligned with rows.
func (e *Engine) Apply(ctx context.Context, rows []domain.Transaction) ([]float64, error) {
	out := make([]float64, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	rules := e.snapshot()
	if len(rules) == 0 {
		return out, nil
	}
	counter := velocity.NewCounter(rows)

	workers := e.maxWorkers
	if workers > len(rows) {
		workers = len(rows)
	}
	chunk := (len(rows) + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(rows))
		if lo >= hi {
			break
		}

		wg.Add(1)
		go func(idx, lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			for i := lo; i < hi; i++ {
				if ctx.Err() != nil {
					errs[idx] = ctx.Err()
					return
				}
				results, err := evaluateRules(rules, &EvaluateInput{
					Transaction:   rows[i],
					VelocityCount: counter.Count(rows[i].CustomerID),
				})
				if err != nil {
					errs[idx] = fmt.Errorf("row %d: %w", i, err)
					return
				}
				out[i] = Total(results)
			}
		}(w, lo, hi)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Total sums rule scores and clamps the sum to [0, 1].
func Total(results []domain.RuleResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return math.Min(1, math.Max(0, sum))
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*CompiledRule(nil), e.compiledRules...)
}

func evaluateRules(rules []*CompiledRule, input *EvaluateInput) ([]domain.RuleResult, error) {
	tx := input.Transaction

	hour := 0
	if tx.HasTimestamp() {
		hour = tx.TransactionTime.UTC().Hour()
	}

	activation := map[string]any{
		"amount":         tx.Amount,
		"velocity_count": int64(input.VelocityCount),
		"hour":           int64(hour),
		"has_time":       tx.HasTimestamp(),
		"merchant_id":    tx.MerchantID,
		"customer_id":    tx.CustomerID,
	}

	results := make([]domain.RuleResult, len(rules))
	for i, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: evaluation error: %w", rule.Config.ID, err)
		}
		results[i] = domain.RuleResult{
			RuleID: rule.Config.ID,
			Score:  toScore(out),
		}
	}
	return results, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
