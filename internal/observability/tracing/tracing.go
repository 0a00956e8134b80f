// Package tracing configures OpenTelemetry propagation and HTTP
// instrumentation. Exporters are left to the global provider so the
// processes run without a collector.
package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Setup installs W3C trace-context and baggage propagation.
func Setup() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Middleware wraps next with a server span per request.
func Middleware(service string, next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, service)
}
