// RiskCenter - batch fraud and merchant risk scoring.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/riskcenter/internal/api"
	"github.com/opensource-finance/riskcenter/internal/bus"
	"github.com/opensource-finance/riskcenter/internal/cache"
	"github.com/opensource-finance/riskcenter/internal/config"
	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/metrics"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/repository"
	"github.com/opensource-finance/riskcenter/internal/service"
	"github.com/opensource-finance/riskcenter/internal/telemetry"
	"github.com/opensource-finance/riskcenter/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	envFile := flag.String("env", config.DefaultEnvFile, "Environment file to load before reading RISKCENTER_* variables")
	dataPath := flag.String("data", "", "Path to the transaction CSV (overrides RISKCENTER_DATA_PATH)")
	threshold := flag.Float64("threshold", 0, "High-risk threshold (overrides RISKCENTER_THRESHOLD)")
	serve := flag.Bool("serve", false, "Serve the read API instead of printing one report")
	flag.Parse()

	settings, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			settings.DataPath = *dataPath
		case "threshold":
			settings.Threshold = *threshold
		}
	})
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(os.Stdout, settings.LoggingConfig()))

	shutdownTracing, err := telemetry.Setup(settings.TracingConfig(), os.Stderr)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	slog.Info("starting riskcenter",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"data_path", settings.DataPath,
		"threshold", settings.Threshold,
		"repository", settings.Repository.Driver,
		"cache", settings.Cache.Type,
		"eventbus", settings.Bus.Type,
		"rules_file", settings.RulesFile,
		"tracing", settings.Tracing.Enabled,
	)

	runner, err := settings.NewRunner()
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	if *serve {
		err = runServer(runner, settings)
	} else {
		err = runOnce(runner, settings)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownTracing(ctx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}
	cancel()

	if err != nil {
		os.Exit(1)
	}
}

// runOnce scores the configured source and prints the headline report.
func runOnce(runner *pipeline.Runner, settings *config.Settings) error {
	ctx := context.Background()

	svc := service.New(runner)
	run, err := svc.Run(ctx, domain.RunRequest{SourcePath: settings.DataPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		return err
	}

	printReport(run.Report)
	return nil
}

func runServer(runner *pipeline.Runner, settings *config.Settings) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(settings.RepositoryConfig())
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		return err
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", settings.Repository.Driver)

	cacheImpl, err := cache.New(settings.CacheConfig())
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		return err
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", settings.Cache.Type)

	busImpl, err := bus.New(settings.EventBusConfig())
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		return err
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", settings.Bus.Type)

	svc := service.New(runner,
		service.WithRepository(repo),
		service.WithCache(cacheImpl),
		service.WithEventBus(busImpl),
		service.WithReportTTL(settings.Cache.ReportTTL),
	)

	var asyncWorker *worker.Worker
	if settings.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		err := asyncWorker.Start(worker.Config{
			WorkerCount:       settings.Worker.Count,
			DefaultSourcePath: settings.DataPath,
		})
		if err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Score the configured source once so the read API has data.
	go func() {
		if _, err := svc.Run(ctx, domain.RunRequest{SourcePath: settings.DataPath}); err != nil {
			slog.Warn("initial run failed; POST /runs once the dataset is in place", "error", err)
		}
	}()

	srvCfg := settings.ServerConfig()
	srv := api.NewServer(srvCfg, svc, busImpl, settings.DataPath, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("riskcenter is ready",
		"host", srvCfg.Host,
		"port", srvCfg.Port,
	)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		stats := asyncWorker.GetStats()
		slog.Info("stopping async worker", "in_flight", stats.InFlight, "topics", stats.Topics)
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("riskcenter shutdown complete")
	return nil
}

func printReport(report *domain.RunReport) {
	snap := report.Snapshot

	fmt.Println()
	fmt.Println("  RISKCENTER RUN REPORT")
	fmt.Println()
	fmt.Printf("  Run:          %s\n", report.ID)
	fmt.Printf("  Source:       %s\n", report.SourcePath)
	fmt.Printf("  Rows:         %d raw, %d clean, %d scored\n", report.RawRows, report.CleanRows, report.ScoredRows)
	fmt.Printf("  Duration:     %d ms\n", report.Metadata.TotalMs)
	fmt.Println()
	fmt.Printf("  Avg risk:     %.4f\n", metrics.Round(snap.AvgRisk, 4))
	fmt.Printf("  Fraud rate:   %.2f%%\n", snap.FraudRate*100)
	fmt.Printf("  High risk:    %d (score >= %.2f)\n", snap.HighRiskCount, snap.Threshold)
	fmt.Println()

	fmt.Println("  Top merchants:")
	for i, m := range snap.MerchantRanking {
		if i == 5 {
			break
		}
		fmt.Printf("    %-8s  avg risk %.4f  %6d tx  fraud rate %.2f%%\n",
			m.MerchantID, m.AvgRisk, m.TotalTransactions, m.FraudRate*100)
	}
	fmt.Println()

	fmt.Println("  Insights:")
	for _, in := range report.Insights {
		fmt.Printf("    - %s\n", in.String())
	}
	fmt.Println()
}
