package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// Metadata fields that legitimately differ between sibling chunks.
var chunkLocalFields = map[string]struct{}{
	"source_type": {},
	"chunk_id":    {},
	"id":          {},
	"text":        {},
}

// Reassembler turns chunk hits into logical entity hits by fetching every
// sibling chunk that shares the identifying key.
type Reassembler struct {
	index        ports.ChunkIndex
	catalog      *domain.Catalog
	siblingLimit int
	pool         *ants.Pool
	logger       *slog.Logger
}

func NewReassembler(index ports.ChunkIndex, catalog *domain.Catalog, siblingLimit, workers int, logger *slog.Logger) (*Reassembler, error) {
	if siblingLimit <= 0 {
		siblingLimit = 64
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create reassembly pool: %w", err)
	}
	return &Reassembler{
		index:        index,
		catalog:      catalog,
		siblingLimit: siblingLimit,
		pool:         pool,
		logger:       logger,
	}, nil
}

func (r *Reassembler) Close() {
	r.pool.Release()
}

type entityGroup struct {
	ref      domain.EntityRef
	spec     domain.SourceSpec
	rawKeys  []string
	hits     []*domain.ChunkHit
	siblings []domain.Chunk
	fetchErr error
	timedOut bool
	capped   bool
}

// Expand upgrades chunk hits to entity hits. Structured hits and hits that
// already carry an entity pass through unchanged. Groups whose sibling fetch
// ran out of time keep only their hit chunks; the caller detects that from
// ctx.
func (r *Reassembler) Expand(ctx context.Context, hits []domain.RetrievalHit) []domain.RetrievalHit {
	out := make([]domain.RetrievalHit, 0, len(hits))
	var groups []*entityGroup
	byIdentity := map[string]*entityGroup{}
	for _, hit := range hits {
		if hit.Chunk == nil {
			out = append(out, hit)
			continue
		}
		id := hit.Ref.Identity()
		g, ok := byIdentity[id]
		if !ok {
			g = &entityGroup{ref: hit.Ref}
			if !hit.Ref.NoKey {
				g.spec, _ = r.catalog.Lookup(hit.Ref.SourceType)
			}
			byIdentity[id] = g
			groups = append(groups, g)
		}
		g.rawKeys = append(g.rawKeys, hit.Chunk.Chunk.RawKey)
		g.hits = append(g.hits, hit.Chunk)
	}

	r.fetchSiblings(ctx, groups)

	for _, g := range groups {
		entity, best := r.assemble(g)
		out = append(out, domain.NewEntityHit(entity, best))
	}
	return out
}

func (r *Reassembler) fetchSiblings(ctx context.Context, groups []*entityGroup) {
	if r.index == nil {
		return
	}
	var wg sync.WaitGroup
	for _, g := range groups {
		if g.ref.NoKey {
			continue
		}
		task := func() {
			defer wg.Done()
			r.fetchGroup(ctx, g)
		}
		wg.Add(1)
		if err := r.pool.Submit(task); err != nil {
			r.logger.Warn("reassembly_pool_submit_failed", "error", err)
			task()
		}
	}
	wg.Wait()
}

// fetchGroup asks for one chunk more than the sibling limit so that an
// entity with exactly siblingLimit chunks is not reported as truncated.
func (r *Reassembler) fetchGroup(ctx context.Context, g *entityGroup) {
	keys := g.spec.KeySpellings(g.rawKeys...)
	if len(keys) == 0 {
		return
	}
	fetched, err := r.index.FetchByKey(ctx, domain.KeyFetch{
		Collection:  g.spec.Collection,
		KeyField:    g.spec.KeyField,
		Key:         keys[0],
		AltKeys:     keys[1:],
		SourceTypes: g.spec.Names(),
		Limit:       r.siblingLimit + 1,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			g.timedOut = true
			return
		}
		g.fetchErr = err
		r.logger.Warn("sibling_fetch_failed",
			"source_type", g.ref.SourceType,
			"key", g.ref.Key,
			"error", err,
		)
		return
	}
	if len(fetched) > r.siblingLimit {
		g.capped = true
		fetched = fetched[:r.siblingLimit]
	}
	for _, raw := range fetched {
		chunk := domain.ChunkFromIndexed(raw, g.spec, true)
		if chunk.Key != g.ref.Key {
			continue
		}
		g.siblings = append(g.siblings, chunk)
	}
}

func (r *Reassembler) assemble(g *entityGroup) (domain.LogicalEntity, float64) {
	entity := domain.LogicalEntity{Ref: g.ref, Metadata: map[string]string{}}

	var best float64
	byID := make(map[string]domain.Chunk, len(g.hits)+len(g.siblings))
	for _, h := range g.hits {
		if h.Similarity > best {
			best = h.Similarity
		}
		byID[h.Chunk.ID] = h.Chunk
	}
	for _, c := range g.siblings {
		if _, ok := byID[c.ID]; !ok {
			byID[c.ID] = c
		}
	}
	chunks := make([]domain.Chunk, 0, len(byID))
	for _, c := range byID {
		chunks = append(chunks, c)
	}
	sortChunks(chunks)

	skip := map[string]struct{}{}
	if !g.ref.NoKey {
		skip[g.spec.KeyField] = struct{}{}
		skip[g.spec.SequenceField] = struct{}{}
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		entity.ChunkIDs = append(entity.ChunkIDs, c.ID)
		if t := strings.TrimSpace(c.Text); t != "" {
			texts = append(texts, t)
		}
		mergeMetadata(&entity, c, skip)
	}
	entity.Text = strings.Join(texts, "\n")
	if !g.ref.NoKey {
		entity.Metadata[g.spec.KeyField] = g.ref.Key
	}

	switch {
	case g.ref.NoKey:
		entity.Flag(domain.DiagMissingKey)
		if !chunks[0].KnownType {
			entity.Flag(domain.DiagUnknownSourceType)
		}
	case g.fetchErr != nil:
		entity.Flag(domain.DiagSiblingFetch)
	case g.capped:
		entity.Flag(domain.DiagSiblingTruncated)
	}
	if len(entity.FieldConflicts) > 0 {
		entity.Flag(domain.DiagFieldConflict)
		r.logger.Warn("field_conflict",
			"source_type", g.ref.SourceType,
			"key", g.ref.DisplayKey(),
			"conflicts", len(entity.FieldConflicts),
		)
	}
	return entity, best
}

// mergeMetadata keeps the first non-empty value per field and records any
// later disagreeing value as a conflict.
func mergeMetadata(entity *domain.LogicalEntity, c domain.Chunk, skip map[string]struct{}) {
	fields := make([]string, 0, len(c.Metadata))
	for field := range c.Metadata {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		value := strings.TrimSpace(c.Metadata[field])
		if value == "" {
			continue
		}
		if _, local := chunkLocalFields[field]; local {
			continue
		}
		if _, ok := skip[field]; ok {
			continue
		}
		kept, ok := entity.Metadata[field]
		if !ok || kept == "" {
			entity.Metadata[field] = value
			continue
		}
		if kept != value {
			entity.FieldConflicts = append(entity.FieldConflicts, domain.FieldConflict{
				Field:    field,
				Kept:     kept,
				Rejected: value,
				ChunkID:  c.ID,
			})
		}
	}
}

// sortChunks orders by sequence when present, then by chunk id. Chunks
// without a sequence follow those with one.
func sortChunks(chunks []domain.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.HasSequence != b.HasSequence {
			return a.HasSequence
		}
		if a.HasSequence && a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
}
