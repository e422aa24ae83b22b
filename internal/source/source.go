// Package source loads the raw transaction table from disk.
package source

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

// DefaultPath is where the dataset is expected when no path is configured.
const DefaultPath = "data/raw/creditcard.csv"

// DatasetURL is where the public credit card fraud dataset can be downloaded.
const DatasetURL = "https://www.kaggle.com/datasets/mlg-ulb/creditcardfraud"

// LoadCSV reads the table at path. A missing file yields an error wrapping
// domain.ErrDatasetNotFound that tells the operator where to get the data.
func LoadCSV(path string) (domain.RawTable, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.RawTable{}, notFound(path)
	}
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	table, err := ReadCSV(f)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	slog.Info("dataset loaded",
		"path", path,
		"rows", table.Len(),
		"columns", len(table.Columns),
	)
	return table, nil
}

// ReadCSV parses a header row followed by numeric rows. Headers are
// normalised to canonical column names; empty or unparsable cells become NaN
// and are left for governance to drop.
func ReadCSV(r io.Reader) (domain.RawTable, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.RawTable{}, fmt.Errorf("empty file: no header row")
	}
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("failed to read header: %w", err)
	}

	table := domain.RawTable{Columns: make([]string, len(header))}
	for i, h := range header {
		table.Columns[i] = Canonical(h)
	}

	invalid := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RawTable{}, err
		}

		row := make([]float64, len(record))
		for i, cell := range record {
			row[i], err = parseCell(cell)
			if err != nil {
				invalid++
			}
		}
		table.Rows = append(table.Rows, row)
	}

	if invalid > 0 {
		slog.Warn("unparsable cells read as missing", "cells", invalid)
	}
	return table, nil
}

// Canonical maps a header to its canonical column name. The public dataset's
// headers (Time, V1..V28, Amount, Class) are translated; anything else is
// lower-cased and kept.
func Canonical(header string) string {
	h := strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	switch h {
	case "Time":
		return domain.ColumnTimeOffset
	case "Amount":
		return domain.ColumnAmount
	case "Class":
		return domain.ColumnLabel
	}

	if len(h) > 1 && (h[0] == 'V' || h[0] == 'v') {
		if n, err := strconv.Atoi(h[1:]); err == nil && n >= 1 && n <= domain.FeatureCount {
			return domain.FeatureColumn(n)
		}
	}
	return strings.ToLower(h)
}

// Digest returns the hex SHA-256 of the file at path. It identifies a source
// for memoisation.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN(), err
	}
	return v, nil
}

func notFound(path string) error {
	return fmt.Errorf("%w at %s: download creditcard.csv from %s and place it at %s",
		domain.ErrDatasetNotFound, path, DatasetURL, DefaultPath)
}
