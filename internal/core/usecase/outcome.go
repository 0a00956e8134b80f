package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// sourceOutcome is what one retriever hands back to the engine. A failed
// or timed out source contributes zero hits.
type sourceOutcome struct {
	source    domain.HitSource
	attempted bool
	hits      []domain.RetrievalHit
	rawCount  int
	timedOut  bool
	partial   bool
	err       error
	warnings  []domain.Warning
	events    []domain.DiagnosticEvent
}

func (o *sourceOutcome) status() domain.SourceStatus {
	switch {
	case !o.attempted:
		return domain.StatusSkipped
	case o.timedOut:
		return domain.StatusTimedOut
	case o.err != nil:
		return domain.StatusFailed
	case o.partial:
		return domain.StatusPartial
	default:
		return domain.StatusOK
	}
}

func (o *sourceOutcome) warn(kind error, sourceType, message string) {
	w := domain.Warning{
		Source:     o.source,
		Kind:       warningKind(kind),
		SourceType: sourceType,
		Message:    message,
	}
	o.warnings = append(o.warnings, w)
	o.events = append(o.events, domain.DiagnosticEvent{
		Kind:       w.Kind,
		Source:     o.source,
		SourceType: sourceType,
		Detail:     message,
	})
}

// admit reports whether hit may enter fusion. Inconsistent hits are
// dropped with a malformed_metadata warning.
func (o *sourceOutcome) admit(hit domain.RetrievalHit, logger *slog.Logger) bool {
	err := hit.Validate()
	if err == nil {
		return true
	}
	logger.Warn("retrieval_hit_dropped",
		"source", o.source,
		"source_type", hit.Ref.SourceType,
		"key", hit.Ref.Key,
		"error", err,
	)
	o.warn(domain.ErrMalformedMetadata, hit.Ref.SourceType, err.Error())
	return false
}

// fail marks the whole source as failed or timed out. Hits gathered so far
// are discarded.
func (o *sourceOutcome) fail(ctx context.Context, err error) {
	o.hits = nil
	o.rawCount = 0
	if isTimeout(ctx, err) {
		o.timedOut = true
		o.warn(domain.ErrRequestTimeout, "", "source did not answer before the request deadline")
		return
	}
	o.err = err
	o.warn(domain.KindOf(err), "", err.Error())
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return ctx.Err() != nil
}

func warningKind(kind error) string {
	switch kind {
	case domain.ErrBackendUnavailable:
		return "backend_unavailable"
	case domain.ErrCollectionNotFound:
		return "collection_not_found"
	case domain.ErrTableNotFound:
		return "table_not_found"
	case domain.ErrEmbeddingProvider:
		return "embedding_provider_error"
	case domain.ErrMalformedMetadata:
		return "malformed_metadata"
	case domain.ErrRequestTimeout:
		return "request_timeout"
	case domain.ErrTemporary:
		return "temporary_failure"
	default:
		return "source_error"
	}
}
