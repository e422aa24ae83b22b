package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/testutil"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTier(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)

	tests := []struct {
		score float64
		want  domain.RiskTier
	}{
		{0, domain.TierLow},
		{0.3999, domain.TierLow},
		{0.40, domain.TierMedium},
		{0.6999, domain.TierMedium},
		{0.70, domain.TierHigh},
		{1, domain.TierHigh},
	}

	for _, tt := range tests {
		if got := proc.Tier(tt.score); got != tt.want {
			t.Errorf("Tier(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestFuse(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)

	tests := []struct {
		name      string
		rule, ml  float64
		wantScore float64
		wantTier  domain.RiskTier
	}{
		{"zero", 0, 0, 0, domain.TierLow},
		{"rules only", 0.8, 0, 0.28, domain.TierLow},
		{"classifier only", 0, 1, 0.65, domain.TierMedium},
		{"both max", 1, 1, 1, domain.TierHigh},
		{"mixed", 0.6, 0.9, 0.795, domain.TierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, tier := proc.Fuse(tt.rule, tt.ml)
			if !approx(score, tt.wantScore) {
				t.Errorf("expected score %.4f, got %.6f", tt.wantScore, score)
			}
			if tier != tt.wantTier {
				t.Errorf("expected tier %s, got %s", tt.wantTier, tier)
			}
		})
	}
}

func TestFuseClips(t *testing.T) {
	proc := &Processor{RuleWeight: 1, MLWeight: 1, HighThreshold: 0.7, MediumThreshold: 0.4}

	if score, _ := proc.Fuse(1, 1); score != 1 {
		t.Errorf("expected clip to 1, got %v", score)
	}
	if score, tier := proc.Fuse(-1, 0); score != 0 || tier != domain.TierLow {
		t.Errorf("expected clip to 0/LOW, got %v/%s", score, tier)
	}
}

func TestFuseBounds(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)
	for r := 0.0; r <= 1.0; r += 0.05 {
		for m := 0.0; m <= 1.0; m += 0.05 {
			score, tier := proc.Fuse(r, m)
			if score < 0 || score > 1 {
				t.Fatalf("Fuse(%v, %v) = %v outside [0,1]", r, m, score)
			}
			if tier != proc.Tier(score) {
				t.Fatalf("tier must be a function of the final score")
			}
		}
	}
}

func TestContributions(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)

	contribs := proc.Contributions(0.6, 0.5)
	if len(contribs) != 2 {
		t.Fatalf("expected 2 contributions, got %d", len(contribs))
	}
	if contribs[0].Source != SourceRules || !approx(contribs[0].Contribution, 0.21) {
		t.Errorf("unexpected rules contribution: %+v", contribs[0])
	}
	if contribs[1].Source != SourceClassifier || !approx(contribs[1].Contribution, 0.325) {
		t.Errorf("unexpected classifier contribution: %+v", contribs[1])
	}

	score, _ := proc.Fuse(0.6, 0.5)
	if !approx(contribs[0].Contribution+contribs[1].Contribution, score) {
		t.Error("contributions must sum to the fused score")
	}
}

func TestScore(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)

	rows := []domain.Transaction{
		testutil.Transaction(50, "CUST_0001", 1),
		testutil.Transaction(1500, "CUST_0002", 2),
		testutil.Transaction(4000, "CUST_0002", 3),
	}

	scored, err := proc.Score(rows, []float64{0.2, 0.6, 0.8}, []float64{0, 0, 0})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	want := []float64{0.07, 0.21, 0.28}
	for i, w := range want {
		if !approx(scored[i].FinalRiskScore, w) {
			t.Errorf("row %d: expected %.2f, got %.6f", i, w, scored[i].FinalRiskScore)
		}
		if scored[i].RiskLabel != domain.TierLow {
			t.Errorf("row %d: expected LOW, got %s", i, scored[i].RiskLabel)
		}
		if scored[i].CustomerID != rows[i].CustomerID || scored[i].Amount != rows[i].Amount {
			t.Errorf("row %d: transaction columns not carried over", i)
		}
	}

	counts := TierCounts(scored)
	if counts[domain.TierLow] != 3 || counts[domain.TierHigh] != 0 {
		t.Errorf("unexpected tier counts: %v", counts)
	}
}

func TestScoreLengthMismatch(t *testing.T) {
	proc := NewProcessor(domain.DefaultConfig().Scoring)
	rows := []domain.Transaction{testutil.Transaction(1, "CUST_0001", 1)}

	if _, err := proc.Score(rows, []float64{0.1}, nil); err == nil {
		t.Error("expected error for missing probabilities")
	}
}
