package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const tracerName = "github.com/kirillkom/hybrid-retrieval/internal/core/usecase"

const diagnosticsPublishTimeout = 2 * time.Second

type EngineOptions struct {
	DefaultLimit int
	MaxLimit     int
	Timeout      time.Duration
	Weights      domain.Weights
}

type EngineOption func(*RetrievalEngine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *RetrievalEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithDiagnosticsPublisher(publisher ports.DiagnosticsPublisher) EngineOption {
	return func(e *RetrievalEngine) { e.publisher = publisher }
}

func WithObserver(observer ports.RetrievalObserver) EngineOption {
	return func(e *RetrievalEngine) { e.observer = observer }
}

// RetrievalEngine dispatches both retrievers, reassembles chunk hits,
// fuses and ranks entities and shapes the response.
type RetrievalEngine struct {
	structured  *StructuredRetriever
	semantic    *SemanticRetriever
	reassembler *Reassembler
	adapter     ResultAdapter
	catalog     *domain.Catalog
	opts        EngineOptions
	publisher   ports.DiagnosticsPublisher
	observer    ports.RetrievalObserver
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRetrievalEngine(
	structured *StructuredRetriever,
	semantic *SemanticRetriever,
	reassembler *Reassembler,
	catalog *domain.Catalog,
	opts EngineOptions,
	options ...EngineOption,
) *RetrievalEngine {
	e := &RetrievalEngine{
		structured:  structured,
		semantic:    semantic,
		reassembler: reassembler,
		adapter:     NewResultAdapter(catalog),
		catalog:     catalog,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range options {
		opt(e)
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.Weights == (domain.Weights{}) {
		opts.Weights = domain.DefaultWeights()
	} else if err := opts.Weights.Validate(); err != nil {
		e.logger.Warn("fusion_weights_rejected", "error", err)
		opts.Weights = domain.DefaultWeights()
	}
	opts.Weights = opts.Weights.Normalized()
	e.opts = opts
	return e
}

func (e *RetrievalEngine) SourceTypes() []domain.SourceSpec {
	return e.catalog.Sources()
}

func (e *RetrievalEngine) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error) {
	started := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	specs, err := e.catalog.Resolve(req.Filters[domain.SourceTypeFilter])
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", err)
	}
	limit := e.limit(req.Limit)

	ctx, span := e.tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	// DISPATCH and COLLECT. Each branch owns its outcome; neither returns
	// an error so one source never cancels the other.
	var structured, semantic sourceOutcome
	var g errgroup.Group
	g.Go(func() error {
		sctx, sp := e.tracer.Start(runCtx, "retrieval.structured")
		structured = e.structured.Lookup(sctx, specs, req)
		endSourceSpan(sp, &structured)
		return nil
	})
	g.Go(func() error {
		sctx, sp := e.tracer.Start(runCtx, "retrieval.semantic")
		semantic = e.semantic.Search(sctx, specs, req)
		endSourceSpan(sp, &semantic)
		return nil
	})
	_ = g.Wait()

	if err := bothUnavailable(&structured, &semantic); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("retrieval_failed", "error", err, "source_types", describeSpecs(specs))
		e.observe(domain.RetrievalObservation{
			Duration:         time.Since(started),
			StructuredStatus: structured.status(),
			SemanticStatus:   semantic.status(),
			Failed:           true,
		})
		e.publish(ctx, append(structured.events, semantic.events...))
		return nil, err
	}

	// MERGE
	semanticHits := semantic.hits
	var reassemblyTimedOut bool
	if e.reassembler != nil && len(semanticHits) > 0 {
		rctx, sp := e.tracer.Start(runCtx, "retrieval.reassemble")
		semanticHits = e.reassembler.Expand(rctx, semanticHits)
		reassemblyTimedOut = runCtx.Err() != nil
		sp.SetAttributes(
			attribute.Int("entities", len(semanticHits)),
			attribute.Bool("timed_out", reassemblyTimedOut),
		)
		sp.End()
	}
	if reassemblyTimedOut {
		semantic.warn(domain.ErrRequestTimeout, "", "sibling reassembly did not finish before the request deadline")
	}
	all := make([]domain.RetrievalHit, 0, len(structured.hits)+len(semanticHits))
	all = append(all, structured.hits...)
	all = append(all, semanticHits...)
	fused := fuseHits(all, e.opts.Weights)

	// RANK
	ranked := rankItems(fused, limit)

	meta := domain.ResponseMetadata{
		StructuredCount:  structured.rawCount,
		SemanticCount:    semantic.rawCount,
		StructuredStatus: structured.status(),
		SemanticStatus:   semantic.status(),
		TimedOut:         structured.timedOut || semantic.timedOut || reassemblyTimedOut,
		Warnings:         append(append([]domain.Warning(nil), structured.warnings...), semantic.warnings...),
	}
	meta.Degraded = reassemblyTimedOut || degraded(meta.StructuredStatus) || degraded(meta.SemanticStatus)
	resp := e.adapter.Shape(ranked, req.Include, meta)

	events := append(append([]domain.DiagnosticEvent(nil), structured.events...), semantic.events...)
	events = append(events, entityEvents(semanticHits)...)
	e.publish(ctx, events)

	span.SetAttributes(
		attribute.Int("structured_count", meta.StructuredCount),
		attribute.Int("semantic_count", meta.SemanticCount),
		attribute.Int("items", len(resp.Items)),
		attribute.Bool("timed_out", meta.TimedOut),
	)
	duration := time.Since(started)
	e.observe(domain.RetrievalObservation{
		Duration:         duration,
		StructuredStatus: meta.StructuredStatus,
		SemanticStatus:   meta.SemanticStatus,
		StructuredCount:  meta.StructuredCount,
		SemanticCount:    meta.SemanticCount,
		Items:            len(resp.Items),
		TimedOut:         meta.TimedOut,
		Degraded:         meta.Degraded,
		Diagnostics:      countKinds(events),
	})
	e.logger.Info("retrieval_completed",
		"request_id", domain.RequestIDFromContext(ctx),
		"structured_count", meta.StructuredCount,
		"semantic_count", meta.SemanticCount,
		"structured_status", meta.StructuredStatus,
		"semantic_status", meta.SemanticStatus,
		"items", len(resp.Items),
		"timed_out", meta.TimedOut,
		"degraded", meta.Degraded,
		"duration_ms", duration.Milliseconds(),
	)
	return resp, nil
}

func (e *RetrievalEngine) limit(requested int) int {
	switch {
	case requested <= 0:
		return e.opts.DefaultLimit
	case requested > e.opts.MaxLimit:
		return e.opts.MaxLimit
	default:
		return requested
	}
}

func (e *RetrievalEngine) observe(obs domain.RetrievalObservation) {
	if e.observer != nil {
		e.observer.ObserveRetrieval(obs)
	}
}

// publish is best effort and bounded; a failure only logs.
func (e *RetrievalEngine) publish(ctx context.Context, events []domain.DiagnosticEvent) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	requestID := domain.RequestIDFromContext(ctx)
	now := time.Now().UTC()
	for i := range events {
		events[i].ID = uuid.NewString()
		events[i].RequestID = requestID
		events[i].OccurredAt = now
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsPublishTimeout)
	defer cancel()
	if err := e.publisher.PublishDiagnostics(pctx, events); err != nil {
		e.logger.Warn("diagnostics_publish_failed", "events", len(events), "error", err)
	}
}

// bothUnavailable reports an error only when every attempted source failed
// for a reason other than the deadline.
func bothUnavailable(outcomes ...*sourceOutcome) error {
	var (
		attempted int
		errs      []error
	)
	for _, o := range outcomes {
		if !o.attempted {
			continue
		}
		attempted++
		if o.err == nil || o.timedOut {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", o.source, o.err))
	}
	if attempted == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrBothSourcesUnavailable, "retrieve", errors.Join(errs...))
}

func degraded(status domain.SourceStatus) bool {
	switch status {
	case domain.StatusFailed, domain.StatusTimedOut, domain.StatusPartial:
		return true
	default:
		return false
	}
}

func entityEvents(hits []domain.RetrievalHit) []domain.DiagnosticEvent {
	var events []domain.DiagnosticEvent
	for _, hit := range hits {
		if hit.Entity == nil {
			continue
		}
		chunkID := ""
		if hit.Ref.NoKey {
			chunkID = hit.Ref.ChunkID
		}
		for _, flag := range hit.Entity.Flags {
			ev := domain.DiagnosticEvent{
				Kind:       string(flag),
				Source:     domain.SourceSemantic,
				SourceType: hit.Ref.SourceType,
				Key:        hit.Ref.DisplayKey(),
				ChunkID:    chunkID,
			}
			if flag == domain.DiagFieldConflict {
				ev.Detail = fmt.Sprintf("%d conflicting fields", len(hit.Entity.FieldConflicts))
			}
			events = append(events, ev)
		}
	}
	return events
}

func countKinds(events []domain.DiagnosticEvent) map[string]int {
	if len(events) == 0 {
		return nil
	}
	out := make(map[string]int, len(events))
	for _, ev := range events {
		out[ev.Kind]++
	}
	return out
}

func endSourceSpan(span trace.Span, o *sourceOutcome) {
	span.SetAttributes(
		attribute.Bool("attempted", o.attempted),
		attribute.Int("hits", o.rawCount),
		attribute.String("status", string(o.status())),
	)
	if o.err != nil {
		span.RecordError(o.err)
		span.SetStatus(codes.Error, o.err.Error())
	}
	span.End()
}
