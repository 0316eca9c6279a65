// Package transport exposes the engine over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gxo-labs/ruleflow/internal/execlog"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

const (
	maxBodyBytes    = 1 << 20
	requestTimeout  = 60 * time.Second
	defaultListSize = 50
	maxListSize     = 500
	requestIDHeader = "X-Request-Id"
)

// Executor is the part of the engine the HTTP layer drives.
type Executor interface {
	ExecuteStep(ctx context.Context, productCode, stepCode string, input map[string]interface{}) *rfv1.StepResult
	ExecuteRule(ctx context.Context, desc rule.Descriptor, input map[string]interface{}) rule.Outcome
}

// RuleAdmin looks rules up and toggles them.
type RuleAdmin interface {
	GetRule(ctx context.Context, id string) (rule.Descriptor, error)
	SetActive(id string, active bool) error
}

// Server routes the ruleflow HTTP API. Store and Gatherer are optional.
type Server struct {
	executor  Executor
	rules     RuleAdmin
	publisher Publisher
	store     execlog.Store
	gatherer  prometheus.Gatherer
	log       rflog.Logger
	router    *chi.Mux
}

type ServerOption func(*Server)

func WithExecutionLog(store execlog.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = gatherer }
}

func NewServer(executor Executor, rules RuleAdmin, publisher Publisher, log rflog.Logger, opts ...ServerOption) (*Server, error) {
	if executor == nil || rules == nil || publisher == nil || log == nil {
		return nil, rferrors.NewConfigError("http server requires an executor, a rule admin, a publisher and a logger", nil)
	}
	s := &Server{
		executor:  executor,
		rules:     rules,
		publisher: publisher,
		log:       log.With("component", "HTTPServer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/workflows/{product}/steps/{step}/execute", s.handleExecuteStep)
		r.Route("/rules/{id}", func(r chi.Router) {
			r.Post("/test", s.handleTestRule)
			r.Post("/activate", s.handleSetActive(true))
			r.Post("/deactivate", s.handleSetActive(false))
		})
		r.Get("/executions", s.handleExecutions)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.log.Infof("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"executionLog": s.store != nil,
	})
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	input, err := decodeInput(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if _, ok := input["requestId"]; !ok {
		if id := r.Header.Get(requestIDHeader); id != "" {
			input["requestId"] = id
		}
	}

	product, step := chi.URLParam(r, "product"), chi.URLParam(r, "step")
	result := s.executor.ExecuteStep(r.Context(), product, step, input)
	if err := s.publisher.Publish(r.Context(), result); err != nil {
		s.log.Errorf("Failed to publish result of %s/%s: %v", product, step, err)
	}

	status := http.StatusOK
	if result.ErrorMessage == rfv1.StepNotFoundMessage {
		status = http.StatusNotFound
	}
	respondJSON(w, status, result)
}

func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	input, err := decodeInput(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	desc, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.executor.ExecuteRule(r.Context(), desc, input))
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.rules.SetActive(id, active); err != nil {
			s.respondLookupError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
	}
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "execution log not configured", nil)
		return
	}
	limit := defaultListSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListSize)
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Errorf("Failed to read execution log: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read execution log", nil)
		return
	}
	if recs == nil {
		recs = []execlog.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error) {
	if rferrors.IsNotFound(err) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	s.log.Errorf("Rule lookup failed: %v", err)
	respondError(w, http.StatusInternalServerError, "rule lookup failed", nil)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s -> %d in %v (req %s)", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// decodeInput reads an optional JSON object body.
func decodeInput(r *http.Request) (map[string]interface{}, error) {
	input := map[string]interface{}{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	return input, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
