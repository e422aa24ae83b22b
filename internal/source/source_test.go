package source

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

func kaggleHeader() string {
	cols := []string{`"Time"`}
	for i := 1; i <= domain.FeatureCount; i++ {
		cols = append(cols, `"V`+strconv.Itoa(i)+`"`)
	}
	cols = append(cols, `"Amount"`, `"Class"`)
	return strings.Join(cols, ",")
}

func kaggleRow(time, amount string, class string) string {
	cells := []string{time}
	for i := 0; i < domain.FeatureCount; i++ {
		cells = append(cells, "0.5")
	}
	cells = append(cells, amount, `"`+class+`"`)
	return strings.Join(cells, ",")
}

func TestReadCSVKaggleHeaders(t *testing.T) {
	data := kaggleHeader() + "\n" +
		kaggleRow("0", "149.62", "0") + "\n" +
		kaggleRow("406", "", "1") + "\n"

	table, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	if missing := table.MissingColumns(domain.RequiredColumns()); len(missing) != 0 {
		t.Fatalf("canonical columns missing after aliasing: %v", missing)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}

	amount := table.Index(domain.ColumnAmount)
	label := table.Index(domain.ColumnLabel)
	if table.Rows[0][amount] != 149.62 {
		t.Errorf("expected amount 149.62, got %v", table.Rows[0][amount])
	}
	if !math.IsNaN(table.Rows[1][amount]) {
		t.Errorf("empty cell should be NaN, got %v", table.Rows[1][amount])
	}
	if table.Rows[1][label] != 1 {
		t.Errorf("quoted class should parse, got %v", table.Rows[1][label])
	}
}

func TestReadCSVInvalidCell(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("amount,label\nabc,0\n"))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if !math.IsNaN(table.Rows[0][0]) {
		t.Errorf("unparsable cell should be NaN, got %v", table.Rows[0][0])
	}
}

func TestReadCSVEmpty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestReadCSVRaggedRow(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Error("expected error for a row with the wrong field count")
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Time", "time_offset"},
		{"Amount", "amount"},
		{"Class", "label"},
		{"V1", "feature_1"},
		{"V28", "feature_28"},
		{"V29", "v29"},
		{"\ufeffTime", "time_offset"},
		{"feature_3", "feature_3"},
		{" Merchant ", "merchant"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestLoadCSVNotFound(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), DatasetURL) {
		t.Errorf("error should tell the operator where to download the data: %v", err)
	}

	if _, err := Digest(filepath.Join(t.TempDir(), "missing.csv")); !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Errorf("expected ErrDatasetNotFound from Digest, got %v", err)
	}
}

func TestLoadCSVAndDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creditcard.csv")
	data := kaggleHeader() + "\n" + kaggleRow("10", "20.5", "0") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("expected 1 row, got %d", table.Len())
	}

	d1, err := Digest(path)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if len(d1) != 64 {
		t.Errorf("expected hex SHA-256, got %q", d1)
	}

	if err := os.WriteFile(path, []byte(data+kaggleRow("11", "1", "0")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	d2, _ := Digest(path)
	if d1 == d2 {
		t.Error("digest should change when the file changes")
	}
}
