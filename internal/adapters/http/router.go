package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/metrics"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/tracing"
)

const (
	maxRequestBytes = 1 << 20
	readyTimeout    = 2 * time.Second
)

type readinessCheck struct {
	name    string
	checker ports.HealthChecker
}

type Router struct {
	service  string
	svc      ports.RetrievalService
	checks   []readinessCheck
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
	validate *requestValidator
	traffic  TrafficControl
}

type Option func(*Router)

func WithServiceName(name string) Option {
	return func(rt *Router) { rt.service = name }
}

func WithReadinessCheck(name string, checker ports.HealthChecker) Option {
	return func(rt *Router) {
		if checker != nil {
			rt.checks = append(rt.checks, readinessCheck{name: name, checker: checker})
		}
	}
}

func WithMetrics(m *metrics.HTTPServerMetrics) Option {
	return func(rt *Router) { rt.metrics = m }
}

func WithTrafficControl(tc TrafficControl) Option {
	return func(rt *Router) { rt.traffic = tc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(svc ports.RetrievalService, opts ...Option) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	rt := &Router{
		service:  "retrieval-api",
		svc:      svc,
		logger:   slog.Default(),
		validate: validator,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/readyz", rt.readyz)
	mux.Handle("/v1/retrieve", rt.traffic.wrap(http.HandlerFunc(rt.retrieve)))
	mux.HandleFunc("/v1/source-types", rt.sourceTypes)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = rt.validate.middleware(mux)
	handler = recoverMiddleware(rt.logger, handler)
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return tracing.Middleware(rt.service, handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings every backend concurrently.
func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make(map[string]string, len(rt.checks))
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		ready = true
	)
	for _, c := range rt.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := c.checker.Ping(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[c.name] = status
			if status != "ok" {
				ready = false
			}
		}()
	}
	wg.Wait()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req domain.RetrievalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json")
		return
	}

	resp, err := rt.svc.Retrieve(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
			rt.logger.Error("retrieve_failed",
				"request_id", domain.RequestIDFromContext(r.Context()),
				"error", err,
			)
		}
		writeError(w, status, errorKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) sourceTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	specs := rt.svc.SourceTypes()
	out := make([]domain.SourceTypeInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Describe())
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_types": out})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
