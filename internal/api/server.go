// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
	"github.com/JakeFAU/edital-crawler/internal/pipeline"
)

// Runner is the pipeline as seen by the API.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunReport, error)
	Cancel()
	Reset()
}

// Pinger reports whether the posting store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources lists the configured sources.
type Sources interface {
	All() []crawler.Source
}

// Deps are the collaborators of a Server.
type Deps struct {
	Runner  Runner
	Store   Pinger
	Reviews crawler.ReviewQueue
	Sources Sources
}

// Config controls the Server.
type Config struct {
	// APIKey guards the /v1 routes when set.
	APIKey         string
	RequestTimeout time.Duration
}

// RunStatus is the body of GET /v1/runs/last.
type RunStatus struct {
	Running bool                `json:"running"`
	Report  *pipeline.RunReport `json:"report,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Server wires HTTP handlers to the pipeline runner and the stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger

	// baseCtx outlives requests; background runs derive from it.
	baseCtx context.Context
	mu      sync.Mutex
	running bool
	last    *pipeline.RunReport
	lastErr error
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes. Runs started over
// HTTP stop when ctx is canceled.
func NewServer(ctx context.Context, deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: logger, baseCtx: ctx}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Get("/reviews", s.listReviews)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Post("/cancel", s.cancelRun)
			r.Get("/last", s.lastRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until a run started over HTTP has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ListingURL string `json:"listing_url"`
	Mode       string `json:"render_mode"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	srcs := s.deps.Sources.All()
	out := make([]sourceView, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, sourceView{
			ID:         src.ID,
			Name:       src.Name,
			ListingURL: src.ListingURL,
			Mode:       string(src.Mode()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	filter, err := parseReviewFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.deps.Reviews.ListReviews(r.Context(), filter)
	if err != nil {
		s.logger.Error("list reviews failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	if entries == nil {
		entries = []crawler.ReviewEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseReviewFilter(r *http.Request) (crawler.ReviewFilter, error) {
	q := r.URL.Query()
	filter := crawler.ReviewFilter{
		SourceID: q.Get("source_id"),
		Stage:    q.Get("stage"),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	// Drop a stale cancel before the run becomes cancelable, so a cancel that
	// lands before the goroutine starts applies to this run.
	s.deps.Runner.Reset()
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		report, err := s.deps.Runner.Run(s.baseCtx)
		if err != nil {
			s.logger.Error("pipeline run failed", zap.String("run_id", report.RunID), zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.last = &report
		s.lastErr = err
		s.mu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) cancelRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}
	s.deps.Runner.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := RunStatus{Running: s.running, Report: s.last}
	if s.lastErr != nil {
		status.Error = s.lastErr.Error()
	}
	s.mu.Unlock()
	if !status.Running && status.Report == nil {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
