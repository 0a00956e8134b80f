package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestMiddlewareRecordsNormalizedPath(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/retrieve", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `hybrid_retrieval_http_requests_total{method="POST",path="/v1/retrieve",service="api",status="418"} 1`) {
		t.Fatalf("missing retrieve request sample:\n%s", out)
	}
	if !strings.Contains(out, `path="other"`) {
		t.Fatalf("expected unknown path to collapse to other:\n%s", out)
	}
}

func TestObserveRetrieval(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.ObserveRetrieval(domain.RetrievalObservation{
		Duration:         40 * time.Millisecond,
		StructuredStatus: domain.StatusOK,
		SemanticStatus:   domain.StatusPartial,
		StructuredCount:  2,
		SemanticCount:    5,
		Items:            4,
		Degraded:         true,
		Diagnostics:      map[string]int{"field_conflict": 2},
	})

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`hybrid_retrieval_retrieval_requests_total{outcome="degraded",service="api"} 1`,
		`hybrid_retrieval_retrieval_source_status_total{service="api",source="semantic",status="partial"} 1`,
		`hybrid_retrieval_retrieval_diagnostics_total{kind="field_conflict",service="api"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestObserveBreakerState(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.ObserveBreakerState("qdrant.search", "closed", "open")
	m.ObserveBreakerState("qdrant.search", "open", "bogus")

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `hybrid_retrieval_resilience_circuit_breaker_state{operation="qdrant.search",service="api"} 2`) {
		t.Fatalf("expected open breaker gauge:\n%s", out)
	}
}

func TestWorkerMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartEvent()
	m.FinishEvent("field_conflict", time.Millisecond, nil)
	m.StartEvent()
	m.FinishEvent("", time.Millisecond, errors.New("db down"))
	m.ObserveLag(-time.Second)
	m.SetStored(map[string]int{"missing_identifying_key": 7})

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`hybrid_retrieval_worker_diagnostics_consumed_total{kind="field_conflict",service="worker",status="success"} 1`,
		`hybrid_retrieval_worker_diagnostics_consumed_total{kind="unknown",service="worker",status="error"} 1`,
		`hybrid_retrieval_worker_diagnostics_stored{kind="missing_identifying_key",service="worker"} 7`,
		`hybrid_retrieval_worker_diagnostics_in_flight{service="worker"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}
