// Benchmark tool for scoring quality against a labelled transaction file.
//
// Usage:
//
//	go run ./cmd/benchmark -csv data/raw/creditcard.csv -threshold 0.7
//
// This tool:
//  1. Loads the labelled dataset
//  2. Runs the full scoring pipeline in process
//  3. Compares high-risk flags (final score >= threshold) with the fraud labels
//  4. Prints the confusion matrix, precision, recall, F1 and accuracy
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/riskcenter/internal/config"
	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/metrics"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/rules"
	"github.com/opensource-finance/riskcenter/internal/scoring"
	"github.com/opensource-finance/riskcenter/internal/source"
)

func main() {
	csvPath := flag.String("csv", source.DefaultPath, "Path to the labelled CSV file")
	threshold := flag.Float64("threshold", metrics.DefaultThreshold, "High-risk threshold")
	limit := flag.Int("limit", 0, "Maximum rows to score (0 = all)")
	sweep := flag.Bool("sweep", false, "Also print metrics for thresholds 0.1 to 0.9")
	verbose := flag.Bool("verbose", false, "Log pipeline stages")
	rulesFile := flag.String("rules", "", "JSON rules file replacing the default rule set")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(config.NewLogger(os.Stderr, domain.LoggingConfig{Level: level, Format: "text"}))

	if *threshold < 0 || *threshold > 1 {
		fmt.Println("ERROR: -threshold must be within [0, 1]")
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            RISKCENTER BENCHMARK - Fraud Detection             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	table, err := source.LoadCSV(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 && table.Len() > *limit {
		table = table.WithRows(table.Rows[:*limit])
	}

	cfg := domain.DefaultConfig()
	var opts []pipeline.Option
	if *rulesFile != "" {
		engine, err := rules.LoadFile(*rulesFile, cfg.Rules.MaxWorkers)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithRuleEngine(engine))
	}

	runner, err := pipeline.NewRunner(cfg, opts...)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := runner.Run(context.Background(), table)
	if err != nil {
		fmt.Printf("ERROR: pipeline failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(start)

	printResults(res, *threshold, duration)
	if *sweep {
		printSweep(res)
	}
}

func printResults(res *pipeline.Result, threshold float64, duration time.Duration) {
	c := res.Confusion(threshold)
	fraud := c.TruePositives + c.FalseNegatives
	nonFraud := c.FalsePositives + c.TrueNegatives

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Raw Rows:         %d\n", res.Governance.InputRows)
	fmt.Printf("   Removed:          %d\n", res.Governance.Removed())
	fmt.Printf("   Scored:           %d\n", len(res.Rows))
	fmt.Printf("   Total Fraud:      %d\n", fraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", nonFraud)

	tiers := scoring.TierCounts(res.Rows)
	fmt.Printf("\n🏷️  RISK TIERS\n")
	fmt.Printf("   HIGH:    %d\n", tiers[domain.TierHigh])
	fmt.Printf("   MEDIUM:  %d\n", tiers[domain.TierMedium])
	fmt.Printf("   LOW:     %d\n", tiers[domain.TierLow])

	fmt.Printf("\n📈 CONFUSION MATRIX (threshold %.2f)\n", threshold)
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH        LOW")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", c.TruePositives, c.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", c.FalsePositives, c.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", c.Precision())
	fmt.Printf("   Recall:     %.4f  (of fraud, how many were flagged)\n", c.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", c.F1())
	fmt.Printf("   Accuracy:   %.4f\n", c.Accuracy())

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if fraud > 0 {
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", c.TruePositives, fraud, float64(c.TruePositives)/float64(fraud)*100)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", c.FalseNegatives, fraud, float64(c.FalseNegatives)/float64(fraud)*100)
	}
	if nonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", c.FalsePositives, nonFraud, float64(c.FalsePositives)/float64(nonFraud)*100)
	}

	m := res.Metadata
	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   Governance:       %d ms\n", m.GovernanceMs)
	fmt.Printf("   Enrichment:       %d ms\n", m.EnrichMs)
	fmt.Printf("   Classifier:       %d ms\n", m.ModelMs)
	fmt.Printf("   Rules:            %d ms\n", m.RulesMs)
	fmt.Printf("   Scoring:          %d ms\n", m.ScoringMs)
	if secs := duration.Seconds(); secs > 0 {
		fmt.Printf("   Throughput:       %.0f rows/sec\n", float64(len(res.Rows))/secs)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch recall := c.Recall(); {
	case recall >= 0.9:
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	case recall >= 0.7:
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	case recall >= 0.5:
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	default:
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}
	switch precision := c.Precision(); {
	case precision >= 0.5:
		fmt.Println("   ✅ Good precision - flags are meaningful")
	case precision >= 0.2:
		fmt.Println("   ⚠️  Low precision - many false alarms")
	default:
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}

func printSweep(res *pipeline.Result) {
	fmt.Println("📉 THRESHOLD SWEEP")
	fmt.Println("   threshold  precision  recall   f1      flagged")
	for i := 1; i <= 9; i++ {
		t := float64(i) / 10
		c := res.Confusion(t)
		fmt.Printf("   %.1f        %.4f     %.4f   %.4f  %d\n",
			t, c.Precision(), c.Recall(), c.F1(), c.TruePositives+c.FalsePositives)
	}
	fmt.Println()
}
