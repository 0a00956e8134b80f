package domain

import (
	"context"
	"time"
)

// DiagnosticEvent is a data-quality or availability annotation emitted
// after a retrieval. Events are informational and never fail a request.
type DiagnosticEvent struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Kind       string    `json:"kind"`
	Source     HitSource `json:"source,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Key        string    `json:"key,omitempty"`
	ChunkID    string    `json:"chunk_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RetrievalObservation summarises one request for metrics.
type RetrievalObservation struct {
	Duration         time.Duration
	StructuredStatus SourceStatus
	SemanticStatus   SourceStatus
	StructuredCount  int
	SemanticCount    int
	Items            int
	TimedOut         bool
	Degraded         bool
	Failed           bool
	Diagnostics      map[string]int
}

type requestIDKey struct{}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
