package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type storeFake struct {
	mu      sync.Mutex
	rows    map[string][]domain.StructuredRow
	errs    map[string]error
	err     error
	block   bool
	queries map[string]domain.StructuredQuery
}

func (f *storeFake) Lookup(ctx context.Context, spec domain.SourceSpec, q domain.StructuredQuery) ([]domain.StructuredRow, error) {
	f.mu.Lock()
	if f.queries == nil {
		f.queries = map[string]domain.StructuredQuery{}
	}
	f.queries[spec.Name] = q
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[spec.Name]; err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.StructuredRow
	for _, row := range f.rows[spec.Name] {
		if rowMatches(spec, row, q) {
			out = append(out, row)
		}
	}
	return out, nil
}

func rowMatches(spec domain.SourceSpec, row domain.StructuredRow, q domain.StructuredQuery) bool {
	if len(q.Identifiers) == 0 && q.Text == "" {
		return true
	}
	for _, id := range q.Identifiers {
		if id == row.Key {
			return true
		}
	}
	if q.Text == "" {
		return false
	}
	for _, col := range spec.TextColumns {
		if s, ok := row.Fields[col].Text(); ok && strings.Contains(strings.ToLower(s), strings.ToLower(q.Text)) {
			return true
		}
	}
	return false
}

func (f *storeFake) query(name string) (domain.StructuredQuery, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[name]
	return q, ok
}

type indexFake struct {
	mu        sync.Mutex
	search    map[string][]domain.IndexedChunk
	searchErr map[string]error
	siblings  map[string][]domain.IndexedChunk
	fetchErr  error
	// blockFetch makes FetchByKey wait for the caller's deadline.
	blockFetch bool
	queries    []domain.ChunkQuery
	fetches    []domain.KeyFetch
}

func (f *indexFake) Search(ctx context.Context, q domain.ChunkQuery) ([]domain.IndexedChunk, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if err := f.searchErr[q.Collection]; err != nil {
		return nil, err
	}
	var out []domain.IndexedChunk
	for _, c := range f.search[q.Collection] {
		if len(q.Filter.SourceTypes) > 0 && !containsString(q.Filter.SourceTypes, c.Metadata["source_type"]) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *indexFake) FetchByKey(ctx context.Context, fetch domain.KeyFetch) ([]domain.IndexedChunk, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, fetch)
	f.mu.Unlock()
	if f.blockFetch {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.IndexedChunk
	seen := map[string]struct{}{}
	for _, key := range fetch.Keys() {
		for _, c := range f.siblings[key] {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	if fetch.Limit > 0 && len(out) > fetch.Limit {
		out = out[:fetch.Limit]
	}
	return out, nil
}

type embedderFake struct {
	err   error
	calls int
}

func (f *embedderFake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.DiagnosticEvent
	err    error
}

func (f *publisherFake) PublishDiagnostics(_ context.Context, events []domain.DiagnosticEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return f.err
}

type observerFake struct {
	observations []domain.RetrievalObservation
}

func (f *observerFake) ObserveRetrieval(obs domain.RetrievalObservation) {
	f.observations = append(f.observations, obs)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func feeRow(code, description string, amount float64) domain.StructuredRow {
	return domain.StructuredRow{
		SourceType: "fee_schedule_entry",
		Key:        code,
		Fields: map[string]domain.FieldValue{
			"description": domain.TextValue(description),
			"amount":      domain.NumberValue(amount),
		},
	}
}

func chunk(id, sourceType, keyField, key string, seq string, text string, distance float64) domain.IndexedChunk {
	md := map[string]string{"source_type": sourceType}
	if keyField != "" && key != "" {
		md[keyField] = key
	}
	if seq != "" {
		md["chunk_index"] = seq
	}
	return domain.IndexedChunk{ID: id, Text: text, Metadata: md, Distance: distance}
}

func newTestEngine(store *storeFake, index *indexFake, embedder *embedderFake, opts EngineOptions, options ...EngineOption) *RetrievalEngine {
	catalog := domain.DefaultCatalog()
	logger := discardLogger()
	reassembler, err := NewReassembler(index, catalog, 16, 2, logger)
	if err != nil {
		panic(err)
	}
	options = append([]EngineOption{WithLogger(logger)}, options...)
	return NewRetrievalEngine(
		NewStructuredRetriever(store, catalog, 20, logger),
		NewSemanticRetriever(index, embedder, catalog, 10, logger),
		reassembler,
		catalog,
		opts,
		options...,
	)
}
