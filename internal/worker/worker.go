// Package worker runs the batch job when a run request arrives on the bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/service"
)

// Reporter produces the report for a run request.
type Reporter interface {
	Report(ctx context.Context, req domain.RunRequest) (*service.Run, error)
}

// Worker consumes riskcenter.run.requested messages.
type Worker struct {
	bus      domain.EventBus
	reporter Reporter

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds how many runs execute at once.
	WorkerCount int

	// DefaultSourcePath is used when a request names no source.
	DefaultSourcePath string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, reporter Reporter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		reporter: reporter,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to run requests.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(ctx, msg, cfg.DefaultSourcePath)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRunRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicRunRequested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// dispatch parses a request and runs it on a free slot. It blocks while
// every slot is busy, which applies backpressure to the subscription.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message, defaultPath string) error {
	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.SourcePath == "" {
		req.SourcePath = defaultPath
	}
	if req.RunID == "" {
		req.RunID = msg.ID
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		w.process(ctx, req)
	}()
	return nil
}

func (w *Worker) process(ctx context.Context, req domain.RunRequest) {
	start := time.Now()

	slog.Debug("processing run request",
		"run_id", req.RunID,
		"source", req.SourcePath,
	)

	// The reporter publishes completion and failure events itself.
	run, err := w.reporter.Report(ctx, req)
	if err != nil {
		return
	}

	slog.Info("run request processed",
		"run_id", run.Report.ID,
		"cached", run.Cached,
		"high_risk", run.Report.Snapshot.HighRiskCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight runs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
