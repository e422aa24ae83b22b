package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/riskcenter/internal/bus"
	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/insight"
	"github.com/opensource-finance/riskcenter/internal/metrics"
	"github.com/opensource-finance/riskcenter/internal/pipeline"
	"github.com/opensource-finance/riskcenter/internal/repository"
	"github.com/opensource-finance/riskcenter/internal/scoring"
	"github.com/opensource-finance/riskcenter/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc      *service.Service
	bus      domain.EventBus
	dataPath string
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, bus domain.EventBus, dataPath, version string) *Handler {
	return &Handler{
		svc:      svc,
		bus:      bus,
		dataPath: dataPath,
		version:  version,
	}
}

// RunRequest is the optional request body for POST /runs.
type RunRequest struct {
	SourcePath string  `json:"sourcePath,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Async      bool    `json:"async,omitempty"`
}

// RunResponse is the response for POST /runs.
type RunResponse struct {
	RunID  string            `json:"runId"`
	Cached bool              `json:"cached"`
	Report *domain.RunReport `json:"report,omitempty"`
	Status string            `json:"status"`
}

// CreateRun handles POST /runs. The run executes inline unless async is
// set, in which case a run request is published for the worker.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be within [0, 1]")
		return
	}
	if req.SourcePath == "" {
		req.SourcePath = h.dataPath
	}

	runReq := domain.RunRequest{
		RunID:      uuid.New().String(),
		SourcePath: req.SourcePath,
		Threshold:  req.Threshold,
	}

	if req.Async {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicRunRequested, runReq); err != nil {
			slog.Error("failed to publish run request", "run_id", runReq.RunID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue run")
			return
		}
		writeJSON(w, http.StatusAccepted, RunResponse{RunID: runReq.RunID, Status: "queued"})
		return
	}

	run, err := h.svc.Run(ctx, runReq)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDatasetNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case domain.IsSchemaError(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "run failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:  run.Report.ID,
		Cached: run.Cached,
		Report: run.Report,
		Status: "completed",
	})
}

// ListRuns returns persisted run reports, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := h.svc.ListReports(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  reports,
		"count": len(reports),
	})
}

// GetRun retrieves a run report by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	report, err := h.svc.GetReport(r.Context(), runID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrNoRun):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		slog.Error("failed to get run", "id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
	}
}

// Snapshot returns the metrics snapshot of the latest run.
//
// Every read view below accepts repeated or comma-separated merchant
// parameters and is then computed over those merchants' rows only.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, metrics.Compute(v.rows, v.threshold))
}

// Merchants returns the merchant risk ranking of the latest run.
func (h *Handler) Merchants(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	ranking := metrics.MerchantRanking(v.rows)
	writeJSON(w, http.StatusOK, map[string]any{
		"merchants": ranking,
		"count":     len(ranking),
	})
}

// Trend returns the daily risk trend of the latest run.
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trend": metrics.DailyTrend(v.rows),
	})
}

// FlaggedTransaction is a high-risk row with its score breakdown.
type FlaggedTransaction struct {
	domain.HighRiskRow
	Contributions []domain.Contribution `json:"contributions"`
}

// HighRisk returns the transactions above the threshold.
func (h *Handler) HighRisk(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	rows := metrics.HighRiskTransactions(v.rows, v.threshold)
	flagged := make([]FlaggedTransaction, len(rows))
	for i, row := range rows {
		flagged[i] = FlaggedTransaction{
			HighRiskRow:   row,
			Contributions: v.res.Contributions(row.RuleRisk, row.MLProbability),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold":    v.threshold,
		"transactions": flagged,
		"count":        len(flagged),
	})
}

// Insights returns the four insights of the latest run at the threshold.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	insights := insight.Generate(metrics.Compute(v.rows, v.threshold), h.svc.Config().Insight)
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": v.threshold,
		"insights":  insights,
		"messages":  insight.Strings(insights),
		"severity":  insight.Highest(insights),
	})
}

// Scores returns the final score series and tier counts of the latest run.
func (h *Handler) Scores(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": metrics.RiskScores(v.rows),
		"tiers":  scoring.TierCounts(v.rows),
	})
}

// Confusion compares high-risk flags of the latest run with ground truth.
func (h *Handler) Confusion(w http.ResponseWriter, r *http.Request) {
	v, ok := h.latest(w, r)
	if !ok {
		return
	}
	c := metrics.ConfusionAt(v.rows, v.threshold)
	writeJSON(w, http.StatusOK, map[string]any{
		"confusion": c,
		"precision": c.Precision(),
		"recall":    c.Recall(),
		"f1":        c.F1(),
		"accuracy":  c.Accuracy(),
	})
}

// ListRules returns the rules the pipeline applies.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.svc.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, err := range h.svc.Ping(r.Context()) {
		if err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether a scored run is available to serve.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Result(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// view is the latest run narrowed to the request's merchants and threshold.
type view struct {
	res       *pipeline.Result
	rows      []domain.ScoredTransaction
	threshold float64
}

// latest resolves the latest run, the threshold and the merchant filter,
// writing the error response itself when the run or threshold is unavailable.
func (h *Handler) latest(w http.ResponseWriter, r *http.Request) (view, bool) {
	res, err := h.svc.Result()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return view{}, false
	}

	v := view{res: res, rows: res.Rows, threshold: res.DefaultThreshold()}
	if q := r.URL.Query().Get("threshold"); q != "" {
		t, err := strconv.ParseFloat(q, 64)
		if err != nil || t < 0 || t > 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold %q: must be within [0, 1]", q))
			return view{}, false
		}
		v.threshold = t
	}
	if ids := merchantParams(r); len(ids) > 0 {
		v.rows = metrics.FilterMerchants(res.Rows, ids)
	}
	return v, true
}

func merchantParams(r *http.Request) []string {
	var ids []string
	for _, v := range r.URL.Query()["merchant"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
