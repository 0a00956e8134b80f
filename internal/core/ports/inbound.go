package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// RetrievalService is the inbound contract for hybrid retrieval.
type RetrievalService interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error)
	SourceTypes() []domain.SourceSpec
}

// DiagnosticsRecorder is the inbound contract for the diagnostics worker.
type DiagnosticsRecorder interface {
	Record(ctx context.Context, event domain.DiagnosticEvent) error
}
