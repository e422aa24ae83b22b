package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/riskcenter/internal/bus"
	"github.com/opensource-finance/riskcenter/internal/cache"
	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/repository"
	"github.com/opensource-finance/riskcenter/internal/testutil"
)

// oracle predicts the label itself.
func oracle(x *mat.Dense, y []float64) ([]float64, error) {
	out := make([]float64, len(y))
	copy(out, y)
	return out, nil
}

type fakeSource struct {
	table  domain.RawTable
	digest string
	loads  atomic.Int32
	err    error
}

func (f *fakeSource) load(string) (domain.RawTable, error) {
	f.loads.Add(1)
	if f.err != nil {
		return domain.RawTable{}, f.err
	}
	return f.table, nil
}

func (f *fakeSource) hash(string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

func newRunner(t *testing.T) *pipeline.Runner {
	t.Helper()
	runner, err := pipeline.NewRunner(domain.DefaultConfig(), pipeline.WithClassifier(oracle))
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	return runner
}

func collect(t *testing.T, b domain.EventBus, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 10)
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *domain.Message, v any) {
	t.Helper()
	select {
	case msg := <-ch:
		if err := json.Unmarshal(msg.Payload, v); err != nil {
			t.Fatalf("failed to decode %s: %v", msg.Topic, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestRunPersistsAndPublishes(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "runs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	completed := collect(t, eventBus, domain.TopicRunCompleted)
	alerts := collect(t, eventBus, domain.TopicInsightAlert)

	src := &fakeSource{table: testutil.SyntheticTable(200, 10), digest: "digest-1"}
	svc := New(newRunner(t),
		WithRepository(repo),
		WithEventBus(eventBus),
		WithCache(cache.NewLRUCache(8)),
		WithLoader(src.load, src.hash),
	)

	ctx := context.Background()
	run, err := svc.Run(ctx, domain.RunRequest{RunID: "run-42", SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.Report.ID != "run-42" || run.Report.SourceDigest != "digest-1" || run.Cached {
		t.Errorf("unexpected report: %+v", run.Report)
	}
	if run.Report.ScoredRows != 200 || len(run.Report.Insights) != 4 {
		t.Errorf("expected 200 rows and 4 insights, got %d and %d", run.Report.ScoredRows, len(run.Report.Insights))
	}

	stored, err := svc.GetReport(ctx, "run-42")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if stored.Snapshot.HighRiskCount != run.Report.Snapshot.HighRiskCount {
		t.Errorf("persisted snapshot differs: %d vs %d", stored.Snapshot.HighRiskCount, run.Report.Snapshot.HighRiskCount)
	}

	var event domain.RunEvent
	receive(t, completed, &event)
	if event.RunID != "run-42" || event.ScoredRows != 200 || event.Severity != domain.SeverityAlert {
		t.Errorf("unexpected completion event: %+v", event)
	}

	// Every 10th row is fraud, so the fraud rate insight alerts.
	var alert domain.InsightAlert
	receive(t, alerts, &alert)
	if alert.RunID != "run-42" || len(alert.Insights) == 0 || alert.Insights[0].Kind != domain.InsightFraudRate {
		t.Errorf("unexpected alert: %+v", alert)
	}
}

func TestRunReusesUnchangedSource(t *testing.T) {
	src := &fakeSource{table: testutil.SyntheticTable(100, 20), digest: "same"}
	svc := New(newRunner(t), WithLoader(src.load, src.hash))

	ctx := context.Background()
	first, err := svc.Run(ctx, domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := svc.Run(ctx, domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if src.loads.Load() != 1 {
		t.Errorf("expected a single load for an unchanged source, got %d", src.loads.Load())
	}
	if !second.Cached || second.Report.ID != first.Report.ID {
		t.Errorf("expected the first run to be reused: %+v", second)
	}

	named, err := svc.Run(ctx, domain.RunRequest{RunID: "run-b", SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if src.loads.Load() != 1 || !named.Cached {
		t.Errorf("a named request for an unchanged source must reuse the result: loads %d", src.loads.Load())
	}
	if named.Report.ID != "run-b" || named.Report.ScoredRows != first.Report.ScoredRows {
		t.Errorf("expected report run-b with the reused rows, got %+v", named.Report)
	}
	if svc.Latest().Report.ID != first.Report.ID {
		t.Errorf("reuse must not rename the stored run, got %s", svc.Latest().Report.ID)
	}
	if got, err := svc.GetReport(ctx, "run-b"); err != nil || got.ID != "run-b" {
		t.Errorf("expected run-b to be retrievable, got %v, %v", got, err)
	}

	src.digest = "changed"
	third, err := svc.Run(ctx, domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if src.loads.Load() != 2 || third.Cached || third.Report.ID == first.Report.ID {
		t.Errorf("a changed source must be re-scored: loads %d, %+v", src.loads.Load(), third.Report)
	}
	if svc.Latest().Digest != "changed" {
		t.Errorf("latest run should follow the changed source")
	}
}

func TestReportServedFromCache(t *testing.T) {
	shared := cache.NewLRUCache(8)
	src := &fakeSource{table: testutil.SyntheticTable(100, 20), digest: "d"}

	producer := New(newRunner(t), WithCache(shared), WithLoader(src.load, src.hash))
	run, err := producer.Run(context.Background(), domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// A second process sharing the cache answers without loading.
	other := &fakeSource{digest: "d", err: nil}
	consumer := New(newRunner(t), WithCache(shared), WithLoader(other.load, other.hash))
	got, err := consumer.Report(context.Background(), domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if !got.Cached || got.Result != nil || got.Report.ID != run.Report.ID {
		t.Errorf("expected cached report %s, got %+v", run.Report.ID, got)
	}
	if other.loads.Load() != 0 {
		t.Errorf("cache hit must not load the source, loaded %d times", other.loads.Load())
	}
}

func TestReportCacheHitKeepsRequestedRunID(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "runs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	completed := collect(t, eventBus, domain.TopicRunCompleted)

	src := &fakeSource{table: testutil.SyntheticTable(100, 20), digest: "d"}
	svc := New(newRunner(t),
		WithRepository(repo),
		WithEventBus(eventBus),
		WithCache(cache.NewLRUCache(8)),
		WithLoader(src.load, src.hash),
	)

	ctx := context.Background()
	if _, err := svc.Run(ctx, domain.RunRequest{RunID: "run-1", SourcePath: "tx.csv"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var first domain.RunEvent
	receive(t, completed, &first)

	got, err := svc.Report(ctx, domain.RunRequest{RunID: "run-2", SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if !got.Cached || got.Report.ID != "run-2" {
		t.Errorf("expected cached report run-2, got cached=%v id=%s", got.Cached, got.Report.ID)
	}
	if src.loads.Load() != 1 {
		t.Errorf("cache hit must not load the source, loaded %d times", src.loads.Load())
	}

	var event domain.RunEvent
	receive(t, completed, &event)
	if event.RunID != "run-2" || !event.Cached {
		t.Errorf("expected completion event for run-2, got %+v", event)
	}

	stored, err := svc.GetReport(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetReport(run-2) failed: %v", err)
	}
	if stored.SourceDigest != "d" || stored.ScoredRows != 100 {
		t.Errorf("unexpected stored report: %+v", stored)
	}
	if _, err := svc.GetReport(ctx, "run-1"); err != nil {
		t.Errorf("original run must stay retrievable: %v", err)
	}
}

func TestRunThresholdOverride(t *testing.T) {
	src := &fakeSource{table: testutil.SyntheticTable(100, 20), digest: "d"}
	svc := New(newRunner(t), WithLoader(src.load, src.hash))

	run, err := svc.Run(context.Background(), domain.RunRequest{SourcePath: "tx.csv", Threshold: 0.3})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Report.Snapshot.Threshold != 0.3 {
		t.Errorf("expected snapshot at 0.3, got %v", run.Report.Snapshot.Threshold)
	}
	if svc.Latest().Report.Snapshot.Threshold != 0.7 {
		t.Errorf("stored report must stay at the default threshold, got %v", svc.Latest().Report.Snapshot.Threshold)
	}
}

func TestRunFailure(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	failed := collect(t, eventBus, domain.TopicRunFailed)

	missing := fmt.Errorf("%w at tx.csv", domain.ErrDatasetNotFound)
	src := &fakeSource{err: missing}
	svc := New(newRunner(t), WithEventBus(eventBus), WithLoader(src.load, src.hash))

	_, err := svc.Run(context.Background(), domain.RunRequest{RunID: "run-x", SourcePath: "tx.csv"})
	if !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}

	var event domain.RunEvent
	receive(t, failed, &event)
	if event.RunID != "run-x" || event.Error == "" {
		t.Errorf("unexpected failure event: %+v", event)
	}

	if _, err := svc.Result(); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun before a successful run, got %v", err)
	}
}

func TestReportsWithoutRepository(t *testing.T) {
	src := &fakeSource{table: testutil.SyntheticTable(50, 25), digest: "d"}
	svc := New(newRunner(t), WithLoader(src.load, src.hash))
	ctx := context.Background()

	empty, err := svc.ListReports(ctx, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no reports, got %v, %v", empty, err)
	}

	run, err := svc.Run(ctx, domain.RunRequest{SourcePath: "tx.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := svc.GetReport(ctx, run.Report.ID)
	if err != nil || got.ID != run.Report.ID {
		t.Errorf("expected latest report, got %v, %v", got, err)
	}
	if _, err := svc.GetReport(ctx, "other"); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun for unknown id, got %v", err)
	}

	list, _ := svc.ListReports(ctx, 10)
	if len(list) != 1 {
		t.Errorf("expected 1 report, got %d", len(list))
	}

	if checks := svc.Ping(ctx); len(checks) != 0 {
		t.Errorf("no backends configured, got %v", checks)
	}
}

func TestMemoKey(t *testing.T) {
	if memoKey("abc", 0.7) != "abc@0.7000" {
		t.Errorf("unexpected key %q", memoKey("abc", 0.7))
	}
	if memoKey("abc", 0.7) == memoKey("abc", 0.5) {
		t.Error("thresholds must not share a key")
	}
}
