// package http implements the administrative HTTP surface of the pipeline.
// Every endpoint is a thin wrapper over the orchestrator, scheduler and
// metrics engine operations; no business logic lives here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/platform"
	"github.com/avoronov/gitpulse/internal/scheduler"
	"github.com/avoronov/gitpulse/internal/service"
	"github.com/avoronov/gitpulse/internal/validation"
	"github.com/avoronov/gitpulse/pkg/logger/sl"
)

// SyncService is the orchestrator surface the admin endpoints expose.
type SyncService interface {
	Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error)
	Status() service.SyncStatus
	Stop()
}

// MetricsService is the engine surface the admin endpoints expose.
type MetricsService interface {
	Calculate(ctx context.Context, opts service.CalcOptions) (*service.CalcResult, error)
	Status() service.CalcStatus
}

// SchedulerService is the scheduler surface the admin endpoints expose.
type SchedulerService interface {
	Start(ctx context.Context)
	Stop()
	Restart(ctx context.Context)
	Running() bool
	Jobs() []scheduler.Job
	RunJob(ctx context.Context, name string) error
	UpdateJobSchedule(name string, interval time.Duration) error
}

// RateLimitReader exposes the client's tracked quota state.
type RateLimitReader interface {
	RateLimitState() platform.RateLimitState
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	log     *slog.Logger
	sync    SyncService
	metrics MetricsService
	sched   SchedulerService
	quota   RateLimitReader
}

// NewServer creates a new instance of the HTTP server.
func NewServer(
	log *slog.Logger,
	sync SyncService,
	metrics MetricsService,
	sched SchedulerService,
	quota RateLimitReader,
) *Server {
	return &Server{
		log:     log,
		sync:    sync,
		metrics: metrics,
		sched:   sched,
		quota:   quota,
	}
}

// Routes sets up the router with all middleware and API endpoints.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.requestID)
	mux.Use(s.logRequest)
	mux.Use(s.metricsMiddleware)

	mux.Get("/health", s.GetHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Route("/api", func(r chi.Router) {
		r.Post("/sync/trigger", s.PostSyncTrigger)
		r.Get("/sync/status", s.GetSyncStatus)
		r.Post("/sync/stop", s.PostSyncStop)

		r.Get("/ratelimit", s.GetRateLimit)

		r.Get("/scheduler/status", s.GetSchedulerStatus)
		r.Post("/scheduler/start", s.PostSchedulerStart)
		r.Post("/scheduler/stop", s.PostSchedulerStop)
		r.Post("/scheduler/restart", s.PostSchedulerRestart)
		r.Post("/scheduler/jobs/{name}/run", s.PostSchedulerJobRun)
		r.Put("/scheduler/jobs/{name}/schedule", s.PutSchedulerJobSchedule)

		r.Post("/metricscalc/trigger", s.PostMetricsTrigger)
	})

	return mux
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostSyncTrigger launches a sync pass in the background. A pass already in
// flight is a conflict, reported distinctly from downstream failures.
func (s *Server) PostSyncTrigger(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.PostSyncTrigger"

	var req triggerSyncRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	if s.sync.Status().Running {
		s.handleServiceError(w, r, op, apperrors.ErrSyncInProgress)
		return
	}

	opts := service.SyncOptions{
		FullSync:         req.FullSync,
		Since:            req.Since,
		SkipMembers:      req.SkipMembers,
		SkipRepositories: req.SkipRepositories,
	}

	go func() {
		// The pass outlives the request; only the admin trigger is bounded
		// by the request context.
		if _, err := s.sync.Run(context.WithoutCancel(r.Context()), opts); err != nil {
			s.log.Error("triggered sync failed", slog.String("op", op), sl.Err(err))
		}
	}()

	s.respond(w, http.StatusAccepted, map[string]any{"success": true, "message": "sync started"})
}

func (s *Server) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.sync.Status())
}

func (s *Server) PostSyncStop(w http.ResponseWriter, r *http.Request) {
	s.sync.Stop()
	s.respond(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "stop requested, in-flight run will complete",
	})
}

func (s *Server) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.quota.RateLimitState())
}

func (s *Server) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"running": s.sched.Running(),
		"jobs":    s.sched.Jobs(),
	})
}

func (s *Server) PostSchedulerStart(w http.ResponseWriter, r *http.Request) {
	s.sched.Start(context.WithoutCancel(r.Context()))
	s.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) PostSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	s.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) PostSchedulerRestart(w http.ResponseWriter, r *http.Request) {
	s.sched.Restart(context.WithoutCancel(r.Context()))
	s.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) PostSchedulerJobRun(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.PostSchedulerJobRun"

	name := chi.URLParam(r, "name")
	if err := s.sched.RunJob(r.Context(), name); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) PutSchedulerJobSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.PutSchedulerJobSchedule"

	var req updateScheduleRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		s.handleServiceError(w, r, op, fmt.Errorf("%w: bad interval: %w", apperrors.ErrInvalidRequest, err))
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.sched.UpdateJobSchedule(name, interval); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) PostMetricsTrigger(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.PostMetricsTrigger"

	var req triggerMetricsRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	if s.metrics.Status().Running {
		s.handleServiceError(w, r, op, apperrors.ErrCalcInProgress)
		return
	}

	opts := service.CalcOptions{
		Scope:        domain.MetricScope(req.Scope),
		ActorID:      req.ActorID,
		RepositoryID: req.RepositoryID,
		Period:       domain.MetricPeriod(req.Period),
		Recalculate:  req.Recalculate,
	}
	if req.From != nil {
		opts.From = *req.From
	}
	if req.To != nil {
		opts.To = *req.To
	}

	go func() {
		if _, err := s.metrics.Calculate(context.WithoutCancel(r.Context()), opts); err != nil {
			s.log.Error("triggered metrics calculation failed", slog.String("op", op), sl.Err(err))
		}
	}()

	s.respond(w, http.StatusAccepted, map[string]any{"success": true, "message": "metrics calculation started"})
}

// respond is a helper function to encode data to JSON and write it to the response.
func (s *Server) respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("failed to encode response", sl.Err(err))
		}
	}
}

// respondError is a convenience wrapper around respond for sending simple error messages.
func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respond(w, code, map[string]any{"success": false, "error": message})
}

// decodeAndValidate deserializes a JSON request body into a struct and then
// runs validation checks on it. An empty body decodes to the zero value.
func (s *Server) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := s.decode(r.Body, v); err != nil {
		return err
	}

	if err := validation.ValidateStruct(v); err != nil {
		return err
	}

	return nil
}

func (s *Server) decode(body io.ReadCloser, v interface{}) error {
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, err)
	}

	return nil
}

// handleServiceError provides centralized error handling for all HTTP
// handlers. Busy conflicts map to 409, distinctly from downstream failures.
func (s *Server) handleServiceError(w http.ResponseWriter, _ *http.Request, op string, err error) {
	log := s.log.With(slog.String("op", op))
	log.Error("service error occurred", sl.Err(err))

	var validationErr *validation.ValidationError

	switch {
	case errors.As(err, &validationErr):
		s.respondError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, apperrors.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, "invalid request body")
	case errors.Is(err, apperrors.ErrSyncInProgress):
		s.respondError(w, http.StatusConflict, apperrors.ErrSyncInProgress.Error())
	case errors.Is(err, apperrors.ErrCalcInProgress):
		s.respondError(w, http.StatusConflict, apperrors.ErrCalcInProgress.Error())
	case errors.Is(err, apperrors.ErrJobNotFound):
		s.respondError(w, http.StatusNotFound, apperrors.ErrJobNotFound.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, apperrors.ErrRateLimited):
		s.respondError(w, http.StatusBadGateway, apperrors.ErrRateLimited.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
