package metrics

import "github.com/opensource-finance/riskcenter/internal/domain"

// Confusion compares high-risk flags against ground-truth labels.
type Confusion struct {
	Threshold      float64 `json:"threshold"`
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalseNegatives int     `json:"falseNegatives"`
}

// ConfusionAt flags rows with final score >= threshold and tallies the outcome.
func ConfusionAt(rows []domain.ScoredTransaction, threshold float64) Confusion {
	c := Confusion{Threshold: threshold}
	for i := range rows {
		flagged := rows[i].FinalRiskScore >= threshold
		fraud := rows[i].IsFraud()
		switch {
		case flagged && fraud:
			c.TruePositives++
		case flagged && !fraud:
			c.FalsePositives++
		case !flagged && fraud:
			c.FalseNegatives++
		default:
			c.TrueNegatives++
		}
	}
	return c
}

// Precision is TP / (TP + FP): of the flagged rows, how many were fraud.
func (c Confusion) Precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN): of the fraud rows, how many were flagged.
func (c Confusion) Recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of rows classified correctly.
func (c Confusion) Accuracy() float64 {
	total := c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(c.TruePositives+c.TrueNegatives) / float64(total)
}
