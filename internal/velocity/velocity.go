// Package velocity counts how often each customer appears in a scored batch.
package velocity

import "github.com/opensource-finance/riskcenter/internal/domain"

// Counter holds per-customer transaction counts over one batch.
//
// The count is population-relative: it covers every row passed to
// NewCounter, not a rolling time window.
type Counter struct {
	counts map[string]int
}

// NewCounter counts rows per customer.
func NewCounter(rows []domain.Transaction) *Counter {
	counts := make(map[string]int)
	for i := range rows {
		counts[rows[i].CustomerID]++
	}
	return &Counter{counts: counts}
}

// Count returns the number of rows for customerID, 0 if unseen.
func (c *Counter) Count(customerID string) int {
	return c.counts[customerID]
}

// Customers returns the number of distinct customers.
func (c *Counter) Customers() int {
	return len(c.counts)
}

// AtLeast returns how many customers have at least n rows.
func (c *Counter) AtLeast(n int) int {
	var total int
	for _, v := range c.counts {
		if v >= n {
			total++
		}
	}
	return total
}
