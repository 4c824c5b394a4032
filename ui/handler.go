package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/status"
)

// maxRequestBody bounds POST bodies; payloads themselves are checked by the queue.
const maxRequestBody = 2 << 20

// Handler creates an http.Handler serving the admin API for q.
//
// Usage:
//
//	mux.Handle("/admin/", http.StripPrefix("/admin", ui.Handler(q, ui.WithBreakers(reg))))
func Handler(q *queue.Queue, opts ...Option) http.Handler {
	cfg := &config{
		ctx:    context.Background(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	if cfg.tracker == nil {
		cfg.tracker = status.NewTracker(q.Storage())
		cfg.tracker.Attach(q)
	}

	// Collect history when the job store is GORM-backed.
	if cfg.statsStorage == nil {
		if gs, ok := q.Storage().(interface{ DB() *gorm.DB }); ok {
			statsStore := NewGormStatsStorage(gs.DB())
			if err := statsStore.MigrateStats(cfg.ctx); err != nil {
				cfg.logger.Error("stats migration failed", "error", err)
			} else {
				cfg.statsStorage = statsStore
				var collectorOpts []StatsCollectorOption
				if cfg.statsRetention > 0 {
					collectorOpts = append(collectorOpts, WithStatsCollectorRetention(cfg.statsRetention))
				}
				collectorOpts = append(collectorOpts, WithStatsCollectorLogger(cfg.logger))
				collector := NewStatsCollector(q, statsStore, collectorOpts...)
				go collector.Start(cfg.ctx)
			}
		}
	}

	a := &api{
		queue:    q,
		tracker:  cfg.tracker,
		breakers: cfg.breakers,
		stats:    cfg.statsStorage,
		logger:   cfg.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Post("/", a.enqueue)
		r.Get("/{id}", a.getJob)
		r.Post("/{id}/cancel", a.cancelJob)
	})
	r.Get("/stats", a.getStats)
	r.Get("/stats/history", a.getStatsHistory)
	r.Get("/breakers", a.listBreakers)
	r.Post("/breakers/{service}/reset", a.resetBreaker)

	if cfg.middleware != nil {
		return cfg.middleware(r)
	}
	return r
}

type api struct {
	queue    *queue.Queue
	tracker  *status.Tracker
	breakers *breaker.Registry
	stats    StatsStorage
	logger   *slog.Logger
}

// EnqueueRequest is the body of POST /jobs.
type EnqueueRequest struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
	RunAt        *time.Time      `json:"run_at,omitempty"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Window string                   `json:"window"`
	Counts map[core.JobStatus]int64 `json:"counts"`
	Total  int64                    `json:"total"`
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := core.JobFilter{
		Status: core.JobStatus(r.URL.Query().Get("status")),
		Type:   r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	jobList, err := a.tracker.List(r.Context(), filter)
	if err != nil {
		a.internalError(w, err)
		return
	}
	if jobList == nil {
		jobList = []*core.Job{}
	}
	writeJSON(w, http.StatusOK, jobList)
}

func (a *api) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("type is required"))
		return
	}
	if req.DelaySeconds < 0 {
		writeError(w, http.StatusBadRequest, errors.New("delay_seconds must not be negative"))
		return
	}

	var opts []queue.Option
	if req.Priority != nil {
		opts = append(opts, queue.Priority(*req.Priority))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, queue.Delay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.RunAt != nil {
		opts = append(opts, queue.At(*req.RunAt))
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	id, err := a.queue.Enqueue(r.Context(), req.Type, payload, opts...)
	switch {
	case errors.Is(err, core.ErrHandlerMissing):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, core.ErrJobPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case err != nil:
		a.internalError(w, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := a.queue.Cancel(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	a.tracker.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": ok})
}

func (a *api) getStats(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("window")
	window, err := parseWindow(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	counts, err := a.tracker.Stats(r.Context(), window)
	if err != nil {
		a.internalError(w, err)
		return
	}
	resp := StatsResponse{Window: raw, Counts: counts}
	if resp.Window == "" {
		resp.Window = "all"
	}
	for _, n := range counts {
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getStatsHistory(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeJSON(w, http.StatusOK, []JobStat{})
		return
	}

	until := a.queue.Clock().Now().UTC()
	since := until.Add(-parsePeriod(r.URL.Query().Get("period")))

	history, err := a.stats.History(r.Context(), HistoryQuery{
		JobType: r.URL.Query().Get("type"),
		Since:   since,
		Until:   until,
	})
	if err != nil {
		a.internalError(w, err)
		return
	}
	if history == nil {
		history = []JobStat{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *api) listBreakers(w http.ResponseWriter, r *http.Request) {
	if a.breakers == nil {
		writeJSON(w, http.StatusOK, []breaker.Status{})
		return
	}
	writeJSON(w, http.StatusOK, a.breakers.Statuses())
}

func (a *api) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if a.breakers == nil {
		writeError(w, http.StatusNotFound, errors.New("circuit breakers are not enabled"))
		return
	}
	serviceID := chi.URLParam(r, "service")
	a.breakers.Reset(serviceID)
	a.logger.Info("circuit breaker reset", "service", serviceID)
	writeJSON(w, http.StatusOK, a.breakers.Status(serviceID))
}

func (a *api) internalError(w http.ResponseWriter, err error) {
	a.logger.Error("admin api request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// parseWindow accepts Go durations plus a day suffix ("7d"). Empty means no window.
func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return d, nil
}

// parsePeriod maps a history period to its length. Unknown periods mean one hour.
func parsePeriod(period string) time.Duration {
	switch period {
	case "24h":
		return 24 * time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}
