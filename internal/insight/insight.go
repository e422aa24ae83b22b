// Package insight turns a metrics snapshot into severity-tagged statements.
//
// Generation is rule-based and offline. The output is always four insights in
// a fixed order (fraud rate, average risk, top merchant, trend); consumers lay
// them out by position.
package insight

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// Generate returns the four insights for snap. It reads only the snapshot.
func Generate(snap domain.MetricsSnapshot, cfg domain.InsightConfig) []domain.Insight {
	return []domain.Insight{
		fraudRate(snap.FraudRate, cfg),
		averageRisk(snap.AvgRisk, cfg),
		topMerchant(snap.MerchantRanking),
		riskTrend(snap.DailyTrend, cfg),
	}
}

// Strings renders insights with their severity prefixes.
func Strings(insights []domain.Insight) []string {
	out := make([]string, len(insights))
	for i, in := range insights {
		out[i] = in.String()
	}
	return out
}

// Highest returns the most severe severity in insights.
func Highest(insights []domain.Insight) domain.Severity {
	highest := domain.SeverityInfo
	for _, in := range insights {
		switch in.Severity {
		case domain.SeverityAlert:
			return domain.SeverityAlert
		case domain.SeverityWarning:
			highest = domain.SeverityWarning
		}
	}
	return highest
}

func fraudRate(rate float64, cfg domain.InsightConfig) domain.Insight {
	in := domain.Insight{Kind: domain.InsightFraudRate}
	switch {
	case rate > cfg.FraudAlert:
		in.Severity = domain.SeverityAlert
		in.Message = fmt.Sprintf("Fraud rate is critically elevated at %s. Escalate and start manual case review.", pct(rate))
	case rate > cfg.FraudWarning:
		in.Severity = domain.SeverityWarning
		in.Message = fmt.Sprintf("Fraud rate is above normal at %s. Monitor more often and review flagged merchants.", pct(rate))
	default:
		in.Severity = domain.SeverityInfo
		in.Message = fmt.Sprintf("Fraud rate is within acceptable bounds at %s. No systemic fraud pattern detected.", pct(rate))
	}
	return in
}

func averageRisk(avg float64, cfg domain.InsightConfig) domain.Insight {
	in := domain.Insight{Kind: domain.InsightAverageRisk}
	switch {
	case avg > cfg.RiskAlert:
		in.Severity = domain.SeverityAlert
		in.Message = fmt.Sprintf("Average risk score is HIGH (%s). Review the top-ranked merchants and tighten transaction limits.", score(avg))
	case avg > cfg.RiskWarning:
		in.Severity = domain.SeverityWarning
		in.Message = fmt.Sprintf("Average risk score is MODERATE (%s). Watch borderline merchants.", score(avg))
	default:
		in.Severity = domain.SeverityInfo
		in.Message = fmt.Sprintf("Average risk score is LOW (%s). Risk is within normal parameters.", score(avg))
	}
	return in
}

func topMerchant(ranking []domain.MerchantAggregate) domain.Insight {
	in := domain.Insight{Kind: domain.InsightTopMerchant, Severity: domain.SeverityInfo}
	if len(ranking) == 0 {
		in.Message = "No merchant data available for analysis."
		return in
	}

	top := ranking[0]
	in.Message = fmt.Sprintf("Highest-risk merchant: %s with average risk %s, %s transactions, fraud rate %s.",
		top.MerchantID, score(top.AvgRisk), humanize.Comma(int64(top.TotalTransactions)), pct(top.FraudRate))
	return in
}

func riskTrend(trend []domain.DailyTrendPoint, cfg domain.InsightConfig) domain.Insight {
	in := domain.Insight{Kind: domain.InsightRiskTrend, Severity: domain.SeverityInfo}
	if len(trend) < 2 {
		in.Message = "Not enough daily data for trend analysis."
		return in
	}

	window := cfg.TrendWindow
	if window <= 0 {
		window = 3
	}
	baseline := meanRisk(trend[:min(window, len(trend))])
	recent := meanRisk(trend[max(0, len(trend)-window):])

	switch {
	case recent > baseline*(1+cfg.TrendTolerance):
		in.Severity = domain.SeverityWarning
		in.Message = fmt.Sprintf("Risk trend is INCREASING: recent average %s against baseline %s. Investigate recent activity spikes.",
			score(recent), score(baseline))
	case recent < baseline*(1-cfg.TrendTolerance):
		in.Message = fmt.Sprintf("Risk trend is DECREASING: recent average %s against baseline %s.",
			score(recent), score(baseline))
	default:
		in.Message = fmt.Sprintf("Risk trend is STABLE: recent average %s is in line with baseline %s.",
			score(recent), score(baseline))
	}
	return in
}

func meanRisk(points []domain.DailyTrendPoint) float64 {
	var sum float64
	for _, p := range points {
		sum += p.AvgRisk
	}
	return sum / float64(len(points))
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func score(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
