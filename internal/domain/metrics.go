package domain

import "time"

// MerchantAggregate summarises one merchant over a scored batch.
type MerchantAggregate struct {
	MerchantID        string  `json:"merchantId"`
	TotalTransactions int     `json:"totalTransactions"`
	AvgRisk           float64 `json:"avgRisk"`
	FraudCount        int     `json:"fraudCount"`
	AvgAmount         float64 `json:"avgAmount"`
	FraudRate         float64 `json:"fraudRate"`
}

// DailyTrendPoint summarises one calendar date.
type DailyTrendPoint struct {
	Date             time.Time `json:"date"` // midnight UTC
	AvgRisk          float64   `json:"avgRisk"`
	FraudCount       int       `json:"fraudCount"`
	TransactionCount int       `json:"transactionCount"`
}

// HighRiskRow is the display projection of a flagged transaction.
type HighRiskRow struct {
	TransactionTime time.Time `json:"transactionTime"`
	MerchantID      string    `json:"merchantId"`
	CustomerID      string    `json:"customerId"`
	Amount          float64   `json:"amount"`
	RuleRisk        float64   `json:"ruleRisk"`
	MLProbability   float64   `json:"mlProbability"`
	FinalRiskScore  float64   `json:"finalRiskScore"`
	RiskLabel       RiskTier  `json:"riskLabel"`
	Label           int       `json:"label"`
}

// MetricsSnapshot is the full metrics payload of one scored batch.
// Scalars keep full precision; aggregate tables carry display-rounded values.
type MetricsSnapshot struct {
	Threshold         float64 `json:"threshold"`
	TotalTransactions int     `json:"totalTransactions"`
	AvgRisk           float64 `json:"avgRisk"`
	FraudRate         float64 `json:"fraudRate"`
	HighRiskCount     int     `json:"highRiskCount"`

	MerchantRanking      []MerchantAggregate `json:"merchantRanking"`
	DailyTrend           []DailyTrendPoint   `json:"dailyTrend"`
	HighRiskTransactions []HighRiskRow       `json:"highRiskTransactions"`
}
