// Package scoring fuses the rule score and the classifier probability into
// one final risk score and tier.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// Contribution sources.
const (
	SourceRules      = "rules"
	SourceClassifier = "classifier"
)

// Processor turns component scores into a final score and tier.
type Processor struct {
	RuleWeight float64
	MLWeight   float64

	// Inclusive lower bounds of the HIGH and MEDIUM tiers.
	HighThreshold   float64
	MediumThreshold float64
}

// NewProcessor creates a processor from the scoring configuration.
func NewProcessor(cfg domain.ScoringConfig) *Processor {
	return &Processor{
		RuleWeight:      cfg.RuleWeight,
		MLWeight:        cfg.MLWeight,
		HighThreshold:   cfg.HighThreshold,
		MediumThreshold: cfg.MediumThreshold,
	}
}

// Fuse returns clip(ruleWeight*rule + mlWeight*ml, 0, 1) and its tier.
func (p *Processor) Fuse(rule, ml float64) (float64, domain.RiskTier) {
	score := math.Min(1, math.Max(0, p.RuleWeight*rule+p.MLWeight*ml))
	return score, p.Tier(score)
}

// Tier maps a final score to its tier. Comparisons are inclusive, so a score
// exactly on a threshold lands in the higher tier.
func (p *Processor) Tier(score float64) domain.RiskTier {
	switch {
	case score >= p.HighThreshold:
		return domain.TierHigh
	case score >= p.MediumThreshold:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

// Contributions breaks a fused score down by source.
func (p *Processor) Contributions(rule, ml float64) []domain.Contribution {
	return []domain.Contribution{
		{Source: SourceRules, Score: rule, Weight: p.RuleWeight, Contribution: rule * p.RuleWeight},
		{Source: SourceClassifier, Score: ml, Weight: p.MLWeight, Contribution: ml * p.MLWeight},
	}
}

// Score builds the scored table. rule and ml must be aligned with rows.
func (p *Processor) Score(rows []domain.Transaction, rule, ml []float64) ([]domain.ScoredTransaction, error) {
	if len(rule) != len(rows) || len(ml) != len(rows) {
		return nil, fmt.Errorf("scoring: length mismatch: %d rows, %d rule scores, %d probabilities",
			len(rows), len(rule), len(ml))
	}

	out := make([]domain.ScoredTransaction, len(rows))
	for i := range rows {
		final, tier := p.Fuse(rule[i], ml[i])
		out[i] = domain.ScoredTransaction{
			Transaction:    rows[i],
			RuleRisk:       rule[i],
			MLProbability:  ml[i],
			FinalRiskScore: final,
			RiskLabel:      tier,
		}
	}
	return out, nil
}

// TierCounts returns how many rows fall in each tier.
func TierCounts(rows []domain.ScoredTransaction) map[domain.RiskTier]int {
	counts := map[domain.RiskTier]int{
		domain.TierHigh:   0,
		domain.TierMedium: 0,
		domain.TierLow:    0,
	}
	for i := range rows {
		counts[rows[i].RiskLabel]++
	}
	return counts
}
