package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// StructuredStore runs read-only lookups against one source type's table.
type StructuredStore interface {
	Lookup(ctx context.Context, spec domain.SourceSpec, query domain.StructuredQuery) ([]domain.StructuredRow, error)
}

// ChunkIndex searches and fetches chunks from named vector collections.
type ChunkIndex interface {
	Search(ctx context.Context, query domain.ChunkQuery) ([]domain.IndexedChunk, error)
	FetchByKey(ctx context.Context, fetch domain.KeyFetch) ([]domain.IndexedChunk, error)
}

// Embedder builds the query vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DiagnosticsPublisher ships diagnostic events off the request path.
type DiagnosticsPublisher interface {
	PublishDiagnostics(ctx context.Context, events []domain.DiagnosticEvent) error
}

// DiagnosticsSubscriber delivers published diagnostic events to a handler.
type DiagnosticsSubscriber interface {
	SubscribeDiagnostics(ctx context.Context, handler func(context.Context, domain.DiagnosticEvent) error) error
}

// DiagnosticsStore persists diagnostic events.
type DiagnosticsStore interface {
	SaveDiagnostic(ctx context.Context, event domain.DiagnosticEvent) error
}

// RetrievalObserver receives a summary of every retrieval.
type RetrievalObserver interface {
	ObserveRetrieval(obs domain.RetrievalObservation)
}

// HealthChecker reports whether a backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
