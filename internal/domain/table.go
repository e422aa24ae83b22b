package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RawTable is the untyped input table handed over by the file-acquisition layer.
// Every cell is numeric; a missing cell is NaN.
type RawTable struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// Len returns the number of rows.
func (t *RawTable) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column, or -1 if it is absent.
func (t *RawTable) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// MissingColumns returns the required columns absent from the table, in the given order.
func (t *RawTable) MissingColumns(required []string) []string {
	present := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		present[c] = struct{}{}
	}

	var missing []string
	for _, c := range required {
		if _, ok := present[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// WithRows returns a table sharing this table's columns and holding rows.
func (t *RawTable) WithRows(rows [][]float64) RawTable {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	return RawTable{Columns: cols, Rows: rows}
}

// SchemaError reports required columns absent from the input table.
// It is fatal: the run aborts and the error reaches the caller unmodified.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation: missing columns [%s]", strings.Join(e.Missing, ", "))
}

// IsSchemaError reports whether err is, or wraps, a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// ErrDatasetNotFound is returned when the source file does not exist.
var ErrDatasetNotFound = errors.New("dataset not found")
