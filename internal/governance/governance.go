// Package governance enforces the input data contract before enrichment or modelling.
package governance

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// Report counts the rows removed by each cleaning stage.
// It is diagnostic only and not part of the data contract.
type Report struct {
	InputRows     int `json:"inputRows"`
	NullRows      int `json:"nullRows"`
	DuplicateRows int `json:"duplicateRows"`
	AmountRows    int `json:"amountRows"`
	LabelRows     int `json:"labelRows"`
	CleanRows     int `json:"cleanRows"`
}

// Removed returns the total number of dropped rows.
func (r Report) Removed() int {
	return r.NullRows + r.DuplicateRows + r.AmountRows + r.LabelRows
}

// ValidateAndClean checks the schema and drops malformed rows.
//
// Stages run in a fixed order: null removal, deduplication, amount range,
// label validity. Reordering changes which duplicates survive relative to
// null rows, so the order is part of the contract.
//
// The only error is *domain.SchemaError. Row-level problems are counted in
// the Report and never returned.
func ValidateAndClean(table domain.RawTable, cfg domain.GovernanceConfig) (domain.RawTable, Report, error) {
	if missing := table.MissingColumns(domain.RequiredColumns()); len(missing) > 0 {
		return domain.RawTable{}, Report{}, &domain.SchemaError{Missing: missing}
	}

	report := Report{InputRows: table.Len()}
	rows := table.Rows

	rows, report.NullRows = dropNulls(rows)
	rows, report.DuplicateRows = dropDuplicates(rows)
	rows, report.AmountRows = filterAmounts(rows, table.Index(domain.ColumnAmount), cfg)
	rows, report.LabelRows = filterLabels(rows, table.Index(domain.ColumnLabel))
	report.CleanRows = len(rows)

	logReport(report)

	return table.WithRows(rows), report, nil
}

func dropNulls(rows [][]float64) ([][]float64, int) {
	return keep(rows, func(row []float64) bool {
		for _, v := range row {
			if math.IsNaN(v) {
				return false
			}
		}
		return true
	})
}

// dropDuplicates removes exact duplicate rows, keeping the first occurrence.
func dropDuplicates(rows [][]float64) ([][]float64, int) {
	seen := make(map[string]struct{}, len(rows))
	return keep(rows, func(row []float64) bool {
		key := rowKey(row)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		return true
	})
}

func filterAmounts(rows [][]float64, idx int, cfg domain.GovernanceConfig) ([][]float64, int) {
	return keep(rows, func(row []float64) bool {
		amount := row[idx]
		return amount >= cfg.AmountMin && amount <= cfg.AmountMax
	})
}

func filterLabels(rows [][]float64, idx int) ([][]float64, int) {
	return keep(rows, func(row []float64) bool {
		label := row[idx]
		return label == 0 || label == 1
	})
}

// keep returns the rows accepted by fn and the number rejected.
func keep(rows [][]float64, fn func([]float64) bool) ([][]float64, int) {
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if fn(row) {
			out = append(out, row)
		}
	}
	return out, len(rows) - len(out)
}

// rowKey encodes a row's exact bit pattern. Signed zeros compare equal.
func rowKey(row []float64) string {
	var b strings.Builder
	b.Grow(len(row) * 17)
	for _, v := range row {
		if v == 0 {
			v = 0
		}
		b.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
		b.WriteByte('|')
	}
	return b.String()
}

func logReport(r Report) {
	if r.NullRows > 0 {
		slog.Info("governance dropped rows containing null values", "rows", r.NullRows)
	}
	if r.DuplicateRows > 0 {
		slog.Info("governance removed exact duplicate rows", "rows", r.DuplicateRows)
	}
	if r.AmountRows > 0 {
		slog.Info("governance filtered rows with out-of-range amount", "rows", r.AmountRows)
	}
	if r.LabelRows > 0 {
		slog.Info("governance filtered rows with invalid label", "rows", r.LabelRows)
	}
	slog.Info("governance validation complete",
		"input_rows", r.InputRows,
		"clean_rows", r.CleanRows,
	)
}
