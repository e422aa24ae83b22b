package features

import (
	"math"
	"testing"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 29 {
		t.Fatalf("expected 29 columns, got %d", len(names))
	}
	if names[0] != "feature_1" || names[27] != "feature_28" || names[28] != ColumnAmountScaled {
		t.Errorf("unexpected column order: %v", names)
	}
	for _, n := range names {
		if n == domain.ColumnTimeOffset {
			t.Error("time_offset must not be a model feature")
		}
	}
}

func TestBuild(t *testing.T) {
	rows := []domain.Transaction{
		{Amount: 10, Label: 0, TimeOffset: 5},
		{Amount: 20, Label: 1, TimeOffset: 6},
		{Amount: 30, Label: 0, TimeOffset: 7},
	}
	rows[1].Features[0] = 2.5
	rows[2].Features[27] = -1

	x, y := Build(rows)

	r, c := x.Dims()
	if r != 3 || c != Width {
		t.Fatalf("expected 3x%d matrix, got %dx%d", Width, r, c)
	}
	if y[0] != 0 || y[1] != 1 || y[2] != 0 {
		t.Errorf("unexpected labels: %v", y)
	}
	if x.At(1, 0) != 2.5 || x.At(2, 27) != -1 {
		t.Error("anonymized features must be copied unchanged")
	}

	// Population std of {10,20,30} is sqrt(200/3).
	std := math.Sqrt(200.0 / 3.0)
	want := []float64{-10 / std, 0, 10 / std}
	for i, w := range want {
		if got := x.At(i, Width-1); math.Abs(got-w) > 1e-12 {
			t.Errorf("row %d: expected scaled amount %.6f, got %.6f", i, w, got)
		}
	}
}

func TestBuildConstantAmount(t *testing.T) {
	rows := []domain.Transaction{{Amount: 42}, {Amount: 42}}
	x, _ := Build(rows)
	for i := 0; i < 2; i++ {
		if v := x.At(i, Width-1); v != 0 {
			t.Errorf("row %d: expected 0 for constant amount, got %f", i, v)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	x, y := Build(nil)
	if x != nil || y != nil {
		t.Error("expected nil matrix and labels for an empty batch")
	}
}
