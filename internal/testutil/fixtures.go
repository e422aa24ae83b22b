// Package testutil provides table and transaction fixtures shared by package tests.
package testutil

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// Row builds a raw row in canonical column order (see domain.RequiredColumns).
// Features not supplied are zero.
func Row(timeOffset, amount, label float64, features ...float64) []float64 {
	row := make([]float64, 3+domain.FeatureCount)
	row[0] = timeOffset
	row[1] = amount
	row[2] = label
	copy(row[3:], features)
	return row
}

// Table wraps rows into a RawTable with canonical columns.
func Table(rows ...[]float64) domain.RawTable {
	return domain.RawTable{
		Columns: domain.RequiredColumns(),
		Rows:    rows,
	}
}

// NaN is a missing cell.
var NaN = math.NaN()

// SyntheticTable returns n deterministic rows where every fraudEvery-th row is
// fraud. Fraud rows are shifted on the first three features and carry larger
// amounts, so a linear classifier can separate them.
func SyntheticTable(n, fraudEvery int) domain.RawTable {
	rng := rand.New(rand.NewPCG(7, 7))
	rows := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		fraud := fraudEvery > 0 && i%fraudEvery == 0
		features := make([]float64, domain.FeatureCount)
		for j := range features {
			features[j] = rng.NormFloat64()
		}
		amount := 20 + rng.Float64()*180
		label := 0.0
		if fraud {
			features[0] -= 4
			features[1] += 3
			features[2] -= 3
			amount = 800 + rng.Float64()*1500
			label = 1
		}
		// Spread rows over three days.
		offset := float64(i) * (3 * 86400 / float64(n))
		rows = append(rows, Row(offset, amount, label, features...))
	}
	return Table(rows...)
}

// Transaction builds an enriched transaction at the given hour on the reference date.
func Transaction(amount float64, customerID string, hour int) domain.Transaction {
	return domain.Transaction{
		TimeOffset:      float64(hour * 3600),
		Amount:          amount,
		MerchantID:      "MRC_001",
		CustomerID:      customerID,
		TransactionTime: domain.ReferenceTime.Add(time.Duration(hour) * time.Hour),
	}
}

// Scored builds a scored transaction for metric tests.
func Scored(merchantID string, score float64, label int, amount float64, at time.Time) domain.ScoredTransaction {
	tier := domain.TierLow
	switch {
	case score >= 0.70:
		tier = domain.TierHigh
	case score >= 0.40:
		tier = domain.TierMedium
	}
	return domain.ScoredTransaction{
		Transaction: domain.Transaction{
			Amount:          amount,
			Label:           label,
			MerchantID:      merchantID,
			CustomerID:      "CUST_0001",
			TransactionTime: at,
		},
		FinalRiskScore: score,
		RiskLabel:      tier,
	}
}

// Day returns midnight UTC of the reference date plus n days, offset by hour.
func Day(n, hour int) time.Time {
	return domain.ReferenceTime.AddDate(0, 0, n).Add(time.Duration(hour) * time.Hour)
}
