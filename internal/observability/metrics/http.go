package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const namespace = "hybrid_retrieval"

var knownPaths = map[string]struct{}{
	"/v1/retrieve":     {},
	"/v1/source-types": {},
	"/healthz":         {},
	"/readyz":          {},
	"/metrics":         {},
	"/mcp":             {},
}

var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// HTTPServerMetrics is the registry of the API and MCP processes: request
// metrics, retrieval outcomes and circuit breaker states.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	sourceStatusTotal *prometheus.CounterVec
	sourceHits        *prometheus.HistogramVec
	fusedItems        *prometheus.HistogramVec
	diagnosticsTotal  *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrievals by outcome.",
		},
		[]string{"service", "outcome"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval duration in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"service"},
	)
	sourceStatusTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_status_total",
			Help:      "Per-source retrieval status.",
		},
		[]string{"service", "source", "status"},
	)
	sourceHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_hits",
			Help:      "Raw hits returned per source before reassembly.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"service", "source"},
	)
	fusedItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "fused_items",
			Help:      "Items returned per retrieval after fusion.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
		[]string{"service"},
	)
	diagnosticsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "diagnostics_total",
			Help:      "Data-quality diagnostics raised during retrieval.",
		},
		[]string{"service", "kind"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalTotal,
		retrievalDuration,
		sourceStatusTotal,
		sourceHits,
		fusedItems,
		diagnosticsTotal,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		retrievalTotal:    retrievalTotal,
		retrievalDuration: retrievalDuration,
		sourceStatusTotal: sourceStatusTotal,
		sourceHits:        sourceHits,
		fusedItems:        fusedItems,
		diagnosticsTotal:  diagnosticsTotal,
		breakerState:      breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// ObserveRetrieval records one engine run.
func (m *HTTPServerMetrics) ObserveRetrieval(obs domain.RetrievalObservation) {
	m.retrievalTotal.WithLabelValues(m.service, retrievalOutcome(obs)).Inc()
	m.retrievalDuration.WithLabelValues(m.service).Observe(obs.Duration.Seconds())

	m.sourceStatusTotal.WithLabelValues(m.service, string(domain.SourceStructured), statusLabel(obs.StructuredStatus)).Inc()
	m.sourceStatusTotal.WithLabelValues(m.service, string(domain.SourceSemantic), statusLabel(obs.SemanticStatus)).Inc()
	if obs.StructuredStatus != domain.StatusSkipped {
		m.sourceHits.WithLabelValues(m.service, string(domain.SourceStructured)).Observe(float64(obs.StructuredCount))
	}
	if obs.SemanticStatus != domain.StatusSkipped {
		m.sourceHits.WithLabelValues(m.service, string(domain.SourceSemantic)).Observe(float64(obs.SemanticCount))
	}
	if !obs.Failed {
		m.fusedItems.WithLabelValues(m.service).Observe(float64(obs.Items))
	}
	for kind, n := range obs.Diagnostics {
		if n > 0 {
			m.diagnosticsTotal.WithLabelValues(m.service, kind).Add(float64(n))
		}
	}
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *HTTPServerMetrics) ObserveBreakerState(operation, _, to string) {
	value, ok := breakerStates[to]
	if !ok {
		return
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func retrievalOutcome(obs domain.RetrievalObservation) string {
	switch {
	case obs.Failed:
		return "failed"
	case obs.TimedOut:
		return "timed_out"
	case obs.Degraded:
		return "degraded"
	case obs.Items == 0:
		return "empty"
	default:
		return "ok"
	}
}

func statusLabel(s domain.SourceStatus) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
