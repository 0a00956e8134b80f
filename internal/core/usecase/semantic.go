package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// SemanticRetriever embeds the query and runs one nearest-neighbour search
// per distinct collection among the eligible source types.
type SemanticRetriever struct {
	index    ports.ChunkIndex
	embedder ports.Embedder
	catalog  *domain.Catalog
	topK     int
	logger   *slog.Logger
}

func NewSemanticRetriever(index ports.ChunkIndex, embedder ports.Embedder, catalog *domain.Catalog, topK int, logger *slog.Logger) *SemanticRetriever {
	if topK <= 0 {
		topK = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticRetriever{index: index, embedder: embedder, catalog: catalog, topK: topK, logger: logger}
}

// Search skips entirely without a text query.
func (r *SemanticRetriever) Search(ctx context.Context, specs []domain.SourceSpec, req domain.RetrievalRequest) sourceOutcome {
	out := sourceOutcome{source: domain.SourceSemantic}
	text := strings.TrimSpace(req.Query)
	if text == "" || r.index == nil || r.embedder == nil {
		return out
	}
	out.attempted = true

	vector, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		if !isTimeout(ctx, err) && !domain.IsKind(err, domain.ErrEmbeddingProvider) {
			err = domain.WrapError(domain.ErrEmbeddingProvider, "embed query", err)
		}
		r.logger.Error("source_failed", "source", domain.SourceSemantic, "stage", "embed", "error", err)
		out.fail(ctx, err)
		return out
	}

	_, typed := req.Filters[domain.SourceTypeFilter]
	equals := req.ColumnFilters()
	groups := r.catalog.Collections(specs)

	var (
		hits     []domain.RetrievalHit
		failures int
		lastErr  error
	)
	for _, group := range groups {
		query := domain.ChunkQuery{
			Collection: group.Collection,
			Metric:     group.Metric,
			Vector:     vector,
			TopK:       r.topK,
			Filter:     domain.ChunkFilter{Equals: equals},
		}
		if typed {
			query.Filter.SourceTypes = group.TypeNames()
		}
		chunks, err := r.index.Search(ctx, query)
		if err != nil {
			if isTimeout(ctx, err) {
				out.fail(ctx, err)
				return out
			}
			failures++
			lastErr = err
			r.logger.Error("source_failed",
				"source", domain.SourceSemantic,
				"collection", group.Collection,
				"error", err,
			)
			out.warn(domain.KindOf(err), "", fmt.Sprintf("collection %s: %v", group.Collection, err))
			continue
		}
		for _, raw := range chunks {
			if hit := r.toHit(group, raw); out.admit(hit, r.logger) {
				hits = append(hits, hit)
			}
		}
	}

	if len(groups) > 0 && failures == len(groups) {
		out.err = lastErr
		return out
	}
	out.partial = failures > 0

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Strength != hits[j].Strength {
			return hits[i].Strength > hits[j].Strength
		}
		return hits[i].Chunk.Chunk.ID < hits[j].Chunk.Chunk.ID
	})
	if len(hits) > r.topK {
		hits = hits[:r.topK]
	}
	out.hits = hits
	out.rawCount = len(hits)
	return out
}

func (r *SemanticRetriever) toHit(group domain.CollectionGroup, raw domain.IndexedChunk) domain.RetrievalHit {
	spec, ok := chunkSpec(r.catalog, group, raw.Metadata)
	chunk := domain.ChunkFromIndexed(raw, spec, ok)
	if chunk.Key == "" {
		r.logger.Warn("malformed_chunk_metadata",
			"chunk_id", chunk.ID,
			"source_type", chunk.SourceType,
			"known_type", chunk.KnownType,
		)
	}
	return domain.NewChunkHit(chunk, raw.Distance, domain.Similarity(group.Metric, raw.Distance))
}

// chunkSpec finds the catalog entry for a chunk. Chunks without a
// source_type inherit it when their collection holds a single type.
func chunkSpec(catalog *domain.Catalog, group domain.CollectionGroup, metadata map[string]string) (domain.SourceSpec, bool) {
	if st := strings.TrimSpace(metadata["source_type"]); st != "" {
		return catalog.Lookup(st)
	}
	if len(group.Specs) == 1 {
		return group.Specs[0], true
	}
	return domain.SourceSpec{}, false
}
