package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	consumedTotal   *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	eventLag        *prometheus.HistogramVec
	backlog         *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	consumedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "diagnostics_consumed_total",
			Help:      "Total diagnostic events consumed by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)
	persistDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "diagnostics_persist_duration_seconds",
			Help:      "Time to persist one diagnostic event by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "diagnostics_in_flight",
			Help:      "Number of diagnostic events being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "diagnostics_lag_seconds",
			Help:      "Delay between a diagnostic occurring and the worker receiving it.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"service"},
	)
	backlog := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "diagnostics_stored",
			Help:      "Diagnostics already stored at worker start, by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(consumedTotal, persistDuration, inFlight, eventLag, backlog)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		consumedTotal:   consumedTotal,
		persistDuration: persistDuration,
		inFlight:        inFlight,
		eventLag:        eventLag,
		backlog:         backlog,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(kind string, duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	if kind == "" {
		kind = "unknown"
	}

	m.consumedTotal.WithLabelValues(m.service, kind, status).Inc()
	m.persistDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) SetStored(counts map[string]int) {
	for kind, n := range counts {
		m.backlog.WithLabelValues(m.service, kind).Set(float64(n))
	}
}
