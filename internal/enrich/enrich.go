// Package enrich attaches synthetic merchant/customer identifiers and a
// wall-clock timestamp to cleaned rows.
//
// Assignment uses a seeded PCG stream so two runs over the same cleaned table
// produce identical identifiers. The stream is reproducibility, not security.
package enrich

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// MerchantIDs returns the fixed merchant pool: MRC_001..MRC_n.
func MerchantIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("MRC_%03d", i+1)
	}
	return ids
}

// CustomerIDs returns the fixed customer pool: CUST_0001..CUST_n.
func CustomerIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("CUST_%04d", i+1)
	}
	return ids
}

// Enrich converts a cleaned table into transactions.
//
// Every row draws a merchant, then every row draws a customer, from one
// stream seeded with cfg.Seed. transaction_time is cfg.BaseTime plus the
// row's time_offset in seconds. No other value is altered.
func Enrich(table domain.RawTable, cfg domain.EnrichmentConfig) ([]domain.Transaction, error) {
	if missing := table.MissingColumns(domain.RequiredColumns()); len(missing) > 0 {
		return nil, &domain.SchemaError{Missing: missing}
	}
	if cfg.Merchants <= 0 || cfg.Customers <= 0 {
		return nil, fmt.Errorf("enrich: merchant and customer pools must be non-empty (got %d, %d)", cfg.Merchants, cfg.Customers)
	}

	timeIdx := table.Index(domain.ColumnTimeOffset)
	amountIdx := table.Index(domain.ColumnAmount)
	labelIdx := table.Index(domain.ColumnLabel)
	var featureIdx [domain.FeatureCount]int
	for i := range featureIdx {
		featureIdx[i] = table.Index(domain.FeatureColumn(i + 1))
	}

	txs := make([]domain.Transaction, table.Len())
	for r, row := range table.Rows {
		tx := &txs[r]
		tx.TimeOffset = row[timeIdx]
		tx.Amount = row[amountIdx]
		tx.Label = int(row[labelIdx])
		for i, idx := range featureIdx {
			tx.Features[i] = row[idx]
		}
		tx.TransactionTime = cfg.BaseTime.Add(offsetDuration(tx.TimeOffset))
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	merchants := MerchantIDs(cfg.Merchants)
	for i := range txs {
		txs[i].MerchantID = merchants[rng.IntN(len(merchants))]
	}

	customers := CustomerIDs(cfg.Customers)
	for i := range txs {
		txs[i].CustomerID = customers[rng.IntN(len(customers))]
	}

	return txs, nil
}

// offsetDuration converts fractional seconds to a Duration, rounded to the
// nearest nanosecond.
func offsetDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
