package domain

import (
	"fmt"
	"time"
)

// FeatureCount is the number of anonymized continuous features per transaction.
const FeatureCount = 28

// Canonical column names of the input table.
const (
	ColumnTimeOffset = "time_offset"
	ColumnAmount     = "amount"
	ColumnLabel      = "label"
)

// FeatureColumn returns the canonical name of the i-th anonymized feature (1-based).
func FeatureColumn(i int) string {
	return fmt.Sprintf("feature_%d", i)
}

// RequiredColumns lists every column the pipeline needs, in canonical order.
func RequiredColumns() []string {
	cols := make([]string, 0, FeatureCount+3)
	cols = append(cols, ColumnTimeOffset, ColumnAmount, ColumnLabel)
	for i := 1; i <= FeatureCount; i++ {
		cols = append(cols, FeatureColumn(i))
	}
	return cols
}

// Transaction is one enriched row of the working table.
type Transaction struct {
	// Seconds since the dataset's reference epoch.
	TimeOffset float64 `json:"timeOffset"`

	Features [FeatureCount]float64 `json:"features"`
	Amount   float64               `json:"amount"`
	Label    int                   `json:"label"` // 1 = fraud

	// Enrichment
	MerchantID      string    `json:"merchantId"`
	CustomerID      string    `json:"customerId"`
	TransactionTime time.Time `json:"transactionTime"`
}

// HasTimestamp reports whether the derived wall-clock timestamp is present.
func (t *Transaction) HasTimestamp() bool {
	return !t.TransactionTime.IsZero()
}

// IsFraud reports whether the ground-truth label marks the row as fraud.
func (t *Transaction) IsFraud() bool {
	return t.Label == 1
}

// ScoredTransaction is a Transaction carrying every risk column.
type ScoredTransaction struct {
	Transaction

	RuleRisk       float64  `json:"ruleRisk"`
	MLProbability  float64  `json:"mlProbability"`
	FinalRiskScore float64  `json:"finalRiskScore"`
	RiskLabel      RiskTier `json:"riskLabel"`
}

// RiskTier is the categorical bucket derived from the final risk score.
type RiskTier string

const (
	TierHigh   RiskTier = "HIGH"
	TierMedium RiskTier = "MEDIUM"
	TierLow    RiskTier = "LOW"
)
