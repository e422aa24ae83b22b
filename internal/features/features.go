// Package features builds the classifier's numeric design matrix.
package features

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// ColumnAmountScaled is the name of the standardised amount column.
const ColumnAmountScaled = "amount_scaled"

// Width is the number of matrix columns.
const Width = domain.FeatureCount + 1

// Names returns the matrix column order: feature_1..feature_28, amount_scaled.
// time_offset is excluded; the derived timestamp only feeds the rule engine.
func Names() []string {
	names := make([]string, 0, Width)
	for i := 1; i <= domain.FeatureCount; i++ {
		names = append(names, domain.FeatureColumn(i))
	}
	return append(names, ColumnAmountScaled)
}

// Build returns the design matrix and the label vector aligned by row.
//
// The anonymized features are copied unchanged. Amount is standardised with
// the population mean and standard deviation of this batch; statistics are
// computed per invocation and never carried across runs. A constant amount
// column scales to zero.
//
// Build returns a nil matrix for an empty batch.
func Build(rows []domain.Transaction) (*mat.Dense, []float64) {
	if len(rows) == 0 {
		return nil, nil
	}

	amounts := make([]float64, len(rows))
	labels := make([]float64, len(rows))
	for i := range rows {
		amounts[i] = rows[i].Amount
		labels[i] = float64(rows[i].Label)
	}
	mean, std := stat.PopMeanStdDev(amounts, nil)

	x := mat.NewDense(len(rows), Width, nil)
	for i := range rows {
		for j, v := range rows[i].Features {
			x.Set(i, j, v)
		}
		scaled := 0.0
		if std > 0 {
			scaled = (amounts[i] - mean) / std
		}
		x.Set(i, domain.FeatureCount, scaled)
	}

	return x, labels
}
