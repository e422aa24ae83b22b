package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/testutil"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func sample() []domain.ScoredTransaction {
	return []domain.ScoredTransaction{
		testutil.Scored("MRC_002", 0.90, 1, 100.005, testutil.Day(0, 1)),
		testutil.Scored("MRC_001", 0.20, 0, 10, testutil.Day(0, 10)),
		testutil.Scored("MRC_002", 0.50, 0, 50, testutil.Day(1, 3)),
		testutil.Scored("MRC_003", 0.75, 1, 2000, testutil.Day(1, 23)),
		testutil.Scored("MRC_001", 0.10, 0, 20, testutil.Day(2, 12)),
	}
}

func TestScalars(t *testing.T) {
	rows := sample()

	if got := AvgRisk(rows); !approx(got, 2.45/5) {
		t.Errorf("expected avg risk 0.49, got %v", got)
	}
	if got := FraudRate(rows); !approx(got, 0.4) {
		t.Errorf("expected fraud rate 0.4, got %v", got)
	}

	tests := []struct {
		threshold float64
		want      int
	}{
		{0.70, 2},
		{0.75, 2},
		{0.76, 1},
		{0, 5},
		{1, 0},
	}
	for _, tt := range tests {
		if got := HighRiskCount(rows, tt.threshold); got != tt.want {
			t.Errorf("threshold %.2f: expected %d, got %d", tt.threshold, tt.want, got)
		}
	}
}

func TestScalarsEmpty(t *testing.T) {
	if AvgRisk(nil) != 0 || FraudRate(nil) != 0 || HighRiskCount(nil, 0.7) != 0 {
		t.Error("expected zero scalars for an empty batch")
	}
}

func TestMerchantRanking(t *testing.T) {
	ranking := MerchantRanking(sample())

	if len(ranking) != 3 {
		t.Fatalf("expected 3 merchants, got %d", len(ranking))
	}

	want := []domain.MerchantAggregate{
		{MerchantID: "MRC_003", TotalTransactions: 1, AvgRisk: 0.75, FraudCount: 1, AvgAmount: 2000, FraudRate: 1},
		{MerchantID: "MRC_002", TotalTransactions: 2, AvgRisk: 0.7, FraudCount: 1, AvgAmount: 75, FraudRate: 0.5},
		{MerchantID: "MRC_001", TotalTransactions: 2, AvgRisk: 0.15, FraudCount: 0, AvgAmount: 15, FraudRate: 0},
	}
	for i, w := range want {
		if ranking[i] != w {
			t.Errorf("position %d: expected %+v, got %+v", i, w, ranking[i])
		}
	}
}

func TestMerchantRankingFraudCountSum(t *testing.T) {
	txs := sample()
	var total int
	for _, m := range MerchantRanking(txs) {
		total += m.FraudCount
	}
	if total != 2 {
		t.Errorf("merchant fraud counts must sum to the batch fraud count: got %d", total)
	}
}

func TestMerchantRankingStableTies(t *testing.T) {
	rows := []domain.ScoredTransaction{
		testutil.Scored("MRC_009", 0.5, 0, 1, testutil.Day(0, 0)),
		testutil.Scored("MRC_002", 0.5, 0, 1, testutil.Day(0, 0)),
		testutil.Scored("MRC_005", 0.5, 0, 1, testutil.Day(0, 0)),
		testutil.Scored("MRC_001", 0.8, 0, 1, testutil.Day(0, 0)),
	}

	ranking := MerchantRanking(rows)
	want := []string{"MRC_001", "MRC_002", "MRC_005", "MRC_009"}
	for i, id := range want {
		if ranking[i].MerchantID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ranking[i].MerchantID)
		}
	}
}

func TestMerchantRankingRounding(t *testing.T) {
	rows := []domain.ScoredTransaction{
		testutil.Scored("MRC_001", 0.123456, 0, 10.116, testutil.Day(0, 0)),
		testutil.Scored("MRC_001", 0.123456, 1, 10.116, testutil.Day(0, 0)),
		testutil.Scored("MRC_001", 0.123456, 0, 10.116, testutil.Day(0, 0)),
	}

	m := MerchantRanking(rows)[0]
	if m.AvgRisk != 0.1235 {
		t.Errorf("expected avg risk rounded to 0.1235, got %v", m.AvgRisk)
	}
	if m.FraudRate != 0.3333 {
		t.Errorf("expected fraud rate rounded to 0.3333, got %v", m.FraudRate)
	}
	if m.AvgAmount != 10.12 {
		t.Errorf("expected avg amount rounded to 10.12, got %v", m.AvgAmount)
	}
}

func TestDailyTrend(t *testing.T) {
	trend := DailyTrend(sample())

	if len(trend) != 3 {
		t.Fatalf("expected 3 days, got %d", len(trend))
	}

	want := []struct {
		date  string
		avg   float64
		fraud int
		count int
	}{
		{"2024-01-01", 0.55, 1, 2},
		{"2024-01-02", 0.625, 1, 2},
		{"2024-01-03", 0.1, 0, 1},
	}
	for i, w := range want {
		p := trend[i]
		if got := p.Date.Format("2006-01-02"); got != w.date {
			t.Errorf("position %d: expected %s, got %s", i, w.date, got)
		}
		if p.AvgRisk != w.avg || p.FraudCount != w.fraud || p.TransactionCount != w.count {
			t.Errorf("position %d: expected %v/%d/%d, got %v/%d/%d",
				i, w.avg, w.fraud, w.count, p.AvgRisk, p.FraudCount, p.TransactionCount)
		}
	}
}

func TestDailyTrendWithoutTimestamps(t *testing.T) {
	rows := sample()
	for i := range rows {
		rows[i].TransactionTime = time.Time{}
	}

	trend := DailyTrend(rows)
	if trend == nil {
		t.Fatal("expected an empty, non-nil trend")
	}
	if len(trend) != 0 {
		t.Errorf("expected zero points, got %d", len(trend))
	}
}

func TestHighRiskTransactions(t *testing.T) {
	rows := sample()
	rows = append(rows, testutil.Scored("MRC_004", 0.75, 0, 5, testutil.Day(2, 2)))

	listing := HighRiskTransactions(rows, 0.70)
	if len(listing) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(listing))
	}
	if listing[0].FinalRiskScore != 0.90 {
		t.Errorf("expected highest score first, got %v", listing[0].FinalRiskScore)
	}
	// Equal scores keep batch order.
	if listing[1].MerchantID != "MRC_003" || listing[2].MerchantID != "MRC_004" {
		t.Errorf("expected tie order MRC_003, MRC_004, got %s, %s", listing[1].MerchantID, listing[2].MerchantID)
	}
	if listing[0].RiskLabel != domain.TierHigh || listing[0].Label != 1 {
		t.Errorf("display columns not carried: %+v", listing[0])
	}

	if empty := HighRiskTransactions(rows, 2); empty == nil || len(empty) != 0 {
		t.Error("expected empty, non-nil listing above every score")
	}
}

func TestCompute(t *testing.T) {
	snap := Compute(sample(), DefaultThreshold)

	if snap.TotalTransactions != 5 || snap.HighRiskCount != 2 || snap.Threshold != DefaultThreshold {
		t.Errorf("unexpected scalars: %+v", snap)
	}
	if len(snap.MerchantRanking) != 3 || len(snap.DailyTrend) != 3 || len(snap.HighRiskTransactions) != 2 {
		t.Error("expected aggregates to be populated")
	}
}

func TestComputeEmpty(t *testing.T) {
	snap := Compute(nil, DefaultThreshold)
	if snap.TotalTransactions != 0 || snap.AvgRisk != 0 || snap.FraudRate != 0 {
		t.Errorf("unexpected scalars for empty batch: %+v", snap)
	}
	if snap.DailyTrend == nil || snap.MerchantRanking == nil {
		t.Error("expected empty, non-nil aggregates")
	}
}

func TestFilterMerchants(t *testing.T) {
	rows := sample()

	if got := FilterMerchants(rows, nil); len(got) != len(rows) {
		t.Errorf("expected no filter to keep %d rows, got %d", len(rows), len(got))
	}

	got := FilterMerchants(rows, []string{"MRC_001", "MRC_003"})
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	for _, r := range got {
		if r.MerchantID == "MRC_002" {
			t.Error("MRC_002 should be filtered out")
		}
	}
}

func TestRiskScores(t *testing.T) {
	scores := RiskScores(sample())
	if len(scores) != 5 || scores[0] != 0.90 || scores[4] != 0.10 {
		t.Errorf("unexpected score series: %v", scores)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in     float64
		places int32
		want   float64
	}{
		{0.12345, 4, 0.1235},
		{0.33333333, 4, 0.3333},
		{1234.565, 2, 1234.57},
		{1, 4, 1},
	}
	for _, tt := range tests {
		if got := Round(tt.in, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}
