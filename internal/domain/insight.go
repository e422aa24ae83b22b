package domain

// Severity tags an insight so consumers switch on a type instead of parsing text.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityAlert   Severity = "ALERT"
)

// InsightKind identifies which metric an insight talks about.
type InsightKind string

// Insight kinds, in priority order.
const (
	InsightFraudRate   InsightKind = "fraud_rate"
	InsightAverageRisk InsightKind = "average_risk"
	InsightTopMerchant InsightKind = "top_merchant"
	InsightRiskTrend   InsightKind = "risk_trend"
)

// Insight is one natural-language observation about a metrics snapshot.
type Insight struct {
	Kind     InsightKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`
}

// String renders the insight with its severity prefix; informational
// insights carry no prefix.
func (i Insight) String() string {
	if i.Severity == SeverityInfo || i.Severity == "" {
		return i.Message
	}
	return string(i.Severity) + ": " + i.Message
}
