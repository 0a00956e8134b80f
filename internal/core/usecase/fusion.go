package usecase

import (
	"sort"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type fusedCandidate struct {
	item domain.FusedItem
}

// fuseHits merges hits by entity identity and scores each entity.
func fuseHits(hits []domain.RetrievalHit, weights domain.Weights) []domain.FusedItem {
	acc := make(map[string]*fusedCandidate, len(hits))
	for _, hit := range hits {
		key := hit.Ref.Identity()
		candidate, ok := acc[key]
		if !ok {
			candidate = &fusedCandidate{item: domain.FusedItem{Ref: hit.Ref}}
			acc[key] = candidate
		}
		item := &candidate.item
		switch hit.Source {
		case domain.SourceStructured:
			item.StructuredHit = true
			item.Row = preferRicherRow(item.Row, hit.Row)
		case domain.SourceSemantic:
			item.SemanticHit = true
			if hit.Strength > item.BestSimilarity {
				item.BestSimilarity = hit.Strength
			}
			item.Entity = preferRicherEntity(item.Entity, entityOf(hit))
		}
	}

	out := make([]domain.FusedItem, 0, len(acc))
	for _, c := range acc {
		item := c.item
		if item.StructuredHit {
			item.SourcesCount++
		}
		if item.SemanticHit {
			item.SourcesCount++
		}
		item.Confidence = weights.Score(item.SourcesCount, item.StructuredHit, item.BestSimilarity)
		out = append(out, item)
	}
	return out
}

// rankItems orders by confidence, then corroboration, then key, and only
// then truncates to limit.
func rankItems(items []domain.FusedItem, limit int) []domain.FusedItem {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SourcesCount != b.SourcesCount {
			return a.SourcesCount > b.SourcesCount
		}
		if ak, bk := a.Ref.DisplayKey(), b.Ref.DisplayKey(); ak != bk {
			return ak < bk
		}
		if a.Ref.SourceType != b.Ref.SourceType {
			return a.Ref.SourceType < b.Ref.SourceType
		}
		return a.Ref.ChunkID < b.Ref.ChunkID
	})
	return trimItems(items, limit)
}

func trimItems(items []domain.FusedItem, limit int) []domain.FusedItem {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}

func entityOf(hit domain.RetrievalHit) *domain.LogicalEntity {
	if hit.Entity != nil {
		return hit.Entity
	}
	if hit.Chunk == nil {
		return nil
	}
	c := hit.Chunk.Chunk
	return &domain.LogicalEntity{
		Ref:      hit.Ref,
		Text:     c.Text,
		ChunkIDs: []string{c.ID},
		Metadata: c.Metadata,
	}
}

// preferRicherRow keeps the first row and fills its missing fields from
// later duplicates.
func preferRicherRow(current, candidate *domain.StructuredRow) *domain.StructuredRow {
	if current == nil {
		return candidate
	}
	if candidate == nil {
		return current
	}
	merged := *current
	merged.Fields = make(map[string]domain.FieldValue, len(current.Fields))
	for k, v := range current.Fields {
		merged.Fields[k] = v
	}
	for k, v := range candidate.Fields {
		if cur, ok := merged.Fields[k]; (!ok || !cur.Present()) && v.Present() {
			merged.Fields[k] = v
		}
	}
	return &merged
}

func preferRicherEntity(current, candidate *domain.LogicalEntity) *domain.LogicalEntity {
	if current == nil {
		return candidate
	}
	if candidate == nil {
		return current
	}
	if current.Text == "" && candidate.Text != "" {
		return candidate
	}
	return current
}
