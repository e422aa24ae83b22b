package domain

// RuleConfig defines one risk rule as a CEL expression.
// The expression must evaluate to bool, int or double; a true bool counts as 1.0.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// Built-in rule IDs.
const (
	RuleAmountTier = "rule-amount-tier"
	RuleVelocity   = "rule-customer-velocity"
	RuleOffHours   = "rule-off-hours"
)

// Contribution shows how one signal contributed to a fused score.
type Contribution struct {
	Source       string  `json:"source"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // score * weight
}

// RuleResult is the partial score one rule produced for one transaction.
type RuleResult struct {
	RuleID string  `json:"ruleId"`
	Score  float64 `json:"score"`
}
