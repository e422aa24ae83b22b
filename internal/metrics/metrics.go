// Package metrics aggregates a scored batch into KPIs and display tables.
//
// Every function is a pure computation over the rows it is given; nothing is
// cached or updated incrementally. Scalars keep full precision. Aggregate
// tables are rounded for display: 4 places for scores and rates, 2 for amounts.
package metrics

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// DefaultThreshold is the high-risk cutoff used when the caller supplies none.
const DefaultThreshold = 0.70

const (
	scorePlaces  = 4
	amountPlaces = 2
)

// AvgRisk returns the mean final risk score, 0 for an empty batch.
func AvgRisk(rows []domain.ScoredTransaction) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for i := range rows {
		sum += rows[i].FinalRiskScore
	}
	return sum / float64(len(rows))
}

// FraudRate returns the mean ground-truth label, 0 for an empty batch.
func FraudRate(rows []domain.ScoredTransaction) float64 {
	if len(rows) == 0 {
		return 0
	}
	return float64(fraudCount(rows)) / float64(len(rows))
}

// HighRiskCount counts rows with final score >= threshold.
func HighRiskCount(rows []domain.ScoredTransaction, threshold float64) int {
	var n int
	for i := range rows {
		if rows[i].FinalRiskScore >= threshold {
			n++
		}
	}
	return n
}

type merchantAcc struct {
	id     string
	count  int
	risk   float64
	fraud  int
	amount float64
}

// MerchantRanking returns one row per merchant sorted by mean risk descending.
// Ties keep ascending merchant-ID order.
func MerchantRanking(rows []domain.ScoredTransaction) []domain.MerchantAggregate {
	byID := make(map[string]*merchantAcc)
	for i := range rows {
		r := &rows[i]
		acc, ok := byID[r.MerchantID]
		if !ok {
			acc = &merchantAcc{id: r.MerchantID}
			byID[r.MerchantID] = acc
		}
		acc.count++
		acc.risk += r.FinalRiskScore
		acc.amount += r.Amount
		if r.IsFraud() {
			acc.fraud++
		}
	}

	accs := make([]*merchantAcc, 0, len(byID))
	for _, acc := range byID {
		accs = append(accs, acc)
	}
	slices.SortFunc(accs, func(a, b *merchantAcc) int {
		return cmp.Compare(a.id, b.id)
	})
	// Sort on the unrounded mean so rounding cannot create ties.
	slices.SortStableFunc(accs, func(a, b *merchantAcc) int {
		return cmp.Compare(b.risk/float64(b.count), a.risk/float64(a.count))
	})

	out := make([]domain.MerchantAggregate, len(accs))
	for i, acc := range accs {
		n := float64(acc.count)
		out[i] = domain.MerchantAggregate{
			MerchantID:        acc.id,
			TotalTransactions: acc.count,
			AvgRisk:           Round(acc.risk/n, scorePlaces),
			FraudCount:        acc.fraud,
			AvgAmount:         Round(acc.amount/n, amountPlaces),
			FraudRate:         Round(float64(acc.fraud)/n, scorePlaces),
		}
	}
	return out
}

// DailyTrend returns one point per UTC calendar date, ascending. Rows without
// a timestamp are skipped; when no row has one the result is empty, not nil.
func DailyTrend(rows []domain.ScoredTransaction) []domain.DailyTrendPoint {
	type dayAcc struct {
		risk  float64
		fraud int
		count int
	}

	byDay := make(map[time.Time]*dayAcc)
	for i := range rows {
		r := &rows[i]
		if !r.HasTimestamp() {
			continue
		}
		t := r.TransactionTime.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		acc, ok := byDay[day]
		if !ok {
			acc = &dayAcc{}
			byDay[day] = acc
		}
		acc.count++
		acc.risk += r.FinalRiskScore
		if r.IsFraud() {
			acc.fraud++
		}
	}

	out := make([]domain.DailyTrendPoint, 0, len(byDay))
	for day, acc := range byDay {
		out = append(out, domain.DailyTrendPoint{
			Date:             day,
			AvgRisk:          Round(acc.risk/float64(acc.count), scorePlaces),
			FraudCount:       acc.fraud,
			TransactionCount: acc.count,
		})
	}
	slices.SortFunc(out, func(a, b domain.DailyTrendPoint) int {
		return a.Date.Compare(b.Date)
	})
	return out
}

// HighRiskTransactions lists rows with final score >= threshold, highest
// first. Equal scores keep batch order.
func HighRiskTransactions(rows []domain.ScoredTransaction, threshold float64) []domain.HighRiskRow {
	out := make([]domain.HighRiskRow, 0)
	for i := range rows {
		r := &rows[i]
		if r.FinalRiskScore < threshold {
			continue
		}
		out = append(out, domain.HighRiskRow{
			TransactionTime: r.TransactionTime,
			MerchantID:      r.MerchantID,
			CustomerID:      r.CustomerID,
			Amount:          r.Amount,
			RuleRisk:        r.RuleRisk,
			MLProbability:   r.MLProbability,
			FinalRiskScore:  r.FinalRiskScore,
			RiskLabel:       r.RiskLabel,
			Label:           r.Label,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.HighRiskRow) int {
		return cmp.Compare(b.FinalRiskScore, a.FinalRiskScore)
	})
	return out
}

// Compute builds the full snapshot at threshold.
func Compute(rows []domain.ScoredTransaction, threshold float64) domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		Threshold:            threshold,
		TotalTransactions:    len(rows),
		AvgRisk:              AvgRisk(rows),
		FraudRate:            FraudRate(rows),
		HighRiskCount:        HighRiskCount(rows, threshold),
		MerchantRanking:      MerchantRanking(rows),
		DailyTrend:           DailyTrend(rows),
		HighRiskTransactions: HighRiskTransactions(rows, threshold),
	}
}

// FilterMerchants returns the rows whose merchant is in ids. An empty ids
// returns rows unchanged.
func FilterMerchants(rows []domain.ScoredTransaction, ids []string) []domain.ScoredTransaction {
	if len(ids) == 0 {
		return rows
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make([]domain.ScoredTransaction, 0, len(rows))
	for i := range rows {
		if keep[rows[i].MerchantID] {
			out = append(out, rows[i])
		}
	}
	return out
}

// RiskScores returns the final score series, e.g. for a distribution chart.
func RiskScores(rows []domain.ScoredTransaction) []float64 {
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].FinalRiskScore
	}
	return out
}

// Round rounds v half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func fraudCount(rows []domain.ScoredTransaction) int {
	var n int
	for i := range rows {
		if rows[i].IsFraud() {
			n++
		}
	}
	return n
}
