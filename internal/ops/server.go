// Package ops hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/draws and /api/draws/{period} for canonical draws.
//   - GET /api/jobs/{job_id} for job status.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drawpulse/drawpulse/internal/metrics"
	"github.com/drawpulse/drawpulse/internal/pipeline"
)

const (
	defaultDrawLimit = 50
	maxDrawLimit     = 500
	requestTimeout   = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Store is the read-only store surface the server needs.
type Store interface {
	Ping(ctx context.Context) error
	GetDraw(ctx context.Context, period string) (pipeline.Draw, error)
	ListRecentDraws(ctx context.Context, limit int) ([]pipeline.Draw, error)
	GetJob(ctx context.Context, jobID int64) (pipeline.Job, error)
}

// Server wires the operator routes to the store.
type Server struct {
	router chi.Router
	store  Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/draws", func(r chi.Router) {
			r.Get("/", s.listDraws)
			r.Get("/{period}", s.getDraw)
		})
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("ops server listening", zap.Int("port", port))

	select {
	case err := <-errc:
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health probe failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDraws(w http.ResponseWriter, r *http.Request) {
	limit := defaultDrawLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxDrawLimit {
			parsed = maxDrawLimit
		}
		limit = parsed
	}

	draws, err := s.store.ListRecentDraws(r.Context(), limit)
	if err != nil {
		s.logger.Error("list draws failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list draws")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draws": toDrawDTOs(draws)})
}

func (s *Server) getDraw(w http.ResponseWriter, r *http.Request) {
	period := chi.URLParam(r, "period")
	draw, err := s.store.GetDraw(r.Context(), period)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "draw not found")
		return
	}
	if err != nil {
		s.logger.Error("get draw failed", zap.String("period", period), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch draw")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draw": toDrawDTO(draw)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job id must be an integer")
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.Int64("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

type drawDTO struct {
	Period    string    `json:"period"`
	DrawTime  time.Time `json:"draw_time"`
	Numbers   []int     `json:"numbers"`
	Sum       int       `json:"sum"`
	Span      int       `json:"span"`
	Parity    string    `json:"parity"`
	Magnitude string    `json:"magnitude"`
}

type jobDTO struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Priority   int        `json:"priority"`
	Status     string     `json:"status"`
	ClaimedBy  string     `json:"claimed_by,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ResultID   *int64     `json:"result_id,omitempty"`
}

func toDrawDTO(d pipeline.Draw) drawDTO {
	return drawDTO{
		Period:    d.Period,
		DrawTime:  d.DrawTime,
		Numbers:   d.Numbers,
		Sum:       d.Sum,
		Span:      d.Span,
		Parity:    d.Parity,
		Magnitude: d.Magnitude,
	}
}

func toDrawDTOs(draws []pipeline.Draw) []drawDTO {
	out := make([]drawDTO, 0, len(draws))
	for _, d := range draws {
		out = append(out, toDrawDTO(d))
	}
	return out
}

func toJobDTO(j pipeline.Job) jobDTO {
	return jobDTO{
		ID:         j.ID,
		Type:       j.Type,
		Priority:   j.Priority,
		Status:     string(j.Status),
		ClaimedBy:  j.ClaimedBy,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		ResultID:   j.ResultID,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
