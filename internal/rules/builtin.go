package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// DefaultRules returns the three production rules built from cfg, in
// evaluation order: amount tier, customer velocity, off-hours.
//
// The amount tier is exclusive: a row gets the highest tier it reaches, not
// the sum of every tier below it.
func DefaultRules(cfg domain.RulesConfig) []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          domain.RuleAmountTier,
			Name:        "Amount Tier",
			Description: "Larger amounts carry a larger partial score",
			Expression: fmt.Sprintf("amount >= %s ? %s : (amount >= %s ? %s : (amount >= %s ? %s : 0.0))",
				celDouble(cfg.AmountVeryHigh), celDouble(cfg.AmountVeryHighScore),
				celDouble(cfg.AmountHigh), celDouble(cfg.AmountHighScore),
				celDouble(cfg.AmountModerate), celDouble(cfg.AmountModerateScore)),
			Enabled: true,
		},
		{
			ID:          domain.RuleVelocity,
			Name:        "Customer Velocity",
			Description: "Customer appears often in the scored batch",
			Expression: fmt.Sprintf("velocity_count >= %d ? %s : 0.0",
				cfg.VelocityCutoff, celDouble(cfg.VelocityScore)),
			Enabled: true,
		},
		{
			ID:          domain.RuleOffHours,
			Name:        "Off Hours",
			Description: "Transaction time falls in the overnight window",
			Expression: fmt.Sprintf("has_time && hour >= %d && hour <= %d ? %s : 0.0",
				cfg.OffHoursStart, cfg.OffHoursEnd, celDouble(cfg.OffHoursScore)),
			Enabled: true,
		},
	}
}

// celDouble formats v as a CEL double literal. CEL has no implicit int to
// double conversion, so "200" would not compare against a double variable.
func celDouble(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
