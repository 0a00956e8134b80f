package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// StructuredRetriever performs exact and substring lookups against every
// eligible source type table.
type StructuredRetriever struct {
	store      ports.StructuredStore
	catalog    *domain.Catalog
	candidates int
	logger     *slog.Logger
}

func NewStructuredRetriever(store ports.StructuredStore, catalog *domain.Catalog, candidates int, logger *slog.Logger) *StructuredRetriever {
	if candidates <= 0 {
		candidates = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredRetriever{store: store, catalog: catalog, candidates: candidates, logger: logger}
}

// Lookup runs when the request carries identifiers, a text query or
// filters. Tables that reject a filter field are skipped.
func (r *StructuredRetriever) Lookup(ctx context.Context, specs []domain.SourceSpec, req domain.RetrievalRequest) sourceOutcome {
	out := sourceOutcome{source: domain.SourceStructured}
	identifiers := req.CleanIdentifiers()
	text := strings.TrimSpace(req.Query)
	if r.store == nil || (len(identifiers) == 0 && text == "" && len(req.Filters) == 0) {
		return out
	}
	out.attempted = true

	filters := req.ColumnFilters()
	var (
		queried  int
		failures []error
	)
	for _, spec := range specs {
		if field, ok := rejectedFilter(spec, filters); !ok {
			r.logger.Debug("structured_table_skipped", "source_type", spec.Name, "filter", field)
			continue
		}
		query := domain.StructuredQuery{
			Identifiers: normalizeKeys(spec, identifiers),
			Text:        text,
			Filters:     filters,
			Limit:       r.candidates,
		}
		queried++
		rows, err := r.store.Lookup(ctx, spec, query)
		if err != nil {
			if isTimeout(ctx, err) {
				out.fail(ctx, err)
				return out
			}
			failures = append(failures, err)
			if domain.IsKind(err, domain.ErrTableNotFound) {
				r.logger.Error("structured_table_missing", "source_type", spec.Name, "table", spec.Table, "error", err)
				out.warn(domain.ErrTableNotFound, spec.Name, err.Error())
				continue
			}
			r.logger.Error("source_failed", "source", domain.SourceStructured, "source_type", spec.Name, "error", err)
			out.fail(ctx, err)
			return out
		}
		for _, row := range rows {
			hit, err := domain.NewStructuredHit(row)
			if err != nil {
				r.logger.Warn("malformed_structured_row", "source_type", spec.Name, "error", err)
				out.warn(domain.ErrMalformedMetadata, spec.Name, "row without identifying key skipped")
				continue
			}
			if out.admit(hit, r.logger) {
				out.hits = append(out.hits, hit)
			}
		}
	}
	out.rawCount = len(out.hits)

	switch {
	case queried > 0 && len(failures) == queried:
		out.err = fmt.Errorf("structured lookup: %w", errors.Join(failures...))
		out.hits = nil
	case len(failures) > 0:
		out.partial = true
	}
	return out
}

// rejectedFilter returns the first filter field the spec cannot apply.
func rejectedFilter(spec domain.SourceSpec, filters map[string]string) (string, bool) {
	for field := range filters {
		if !spec.AllowsFilter(field) {
			return field, false
		}
	}
	return "", true
}

func normalizeKeys(spec domain.SourceSpec, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = spec.NormalizeKey(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func describeSpecs(specs []domain.SourceSpec) string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ","))
}
