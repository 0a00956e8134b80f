package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestSemanticSearchSkipsWithoutQuery(t *testing.T) {
	embedder := &embedderFake{}
	catalog := domain.DefaultCatalog()
	r := NewSemanticRetriever(&indexFake{}, embedder, catalog, 5, discardLogger())

	out := r.Search(context.Background(), catalog.Sources(), domain.RetrievalRequest{Identifiers: []string{"A1"}})
	if out.attempted || embedder.calls != 0 {
		t.Fatalf("semantic search must not run without a query")
	}
}

func TestSemanticSearchMergesCollectionsAndCutsTopK(t *testing.T) {
	index := &indexFake{search: map[string][]domain.IndexedChunk{
		"ontario_health_documents": {
			chunk("c-1", "act_rule", "section_ref", "s.1", "", "a", 0.4),
			chunk("c-2", "act_rule", "section_ref", "s.2", "", "b", 0.1),
		},
		"adp_documents": {
			chunk("c-3", "adp_device", "device_code", "w1", "", "c", 0.0),
		},
	}}
	catalog := domain.DefaultCatalog()
	r := NewSemanticRetriever(index, &embedderFake{}, catalog, 2, discardLogger())

	out := r.Search(context.Background(), catalog.Sources(), domain.RetrievalRequest{Query: "walker"})
	if len(index.queries) != 2 {
		t.Fatalf("expected one search per collection, got %d", len(index.queries))
	}
	if len(out.hits) != 2 || out.rawCount != 2 {
		t.Fatalf("expected top 2 hits, got %d", len(out.hits))
	}
	if out.hits[0].Chunk.Chunk.ID != "c-3" || out.hits[0].Strength != 1 {
		t.Fatalf("expected l2 distance 0 to rank first with similarity 1, got %+v", out.hits[0].Chunk)
	}
	if out.hits[0].Ref.Key != "W1" {
		t.Fatalf("expected device code to be upper-cased, got %s", out.hits[0].Ref.Key)
	}
	if out.hits[1].Chunk.Chunk.ID != "c-2" {
		t.Fatalf("expected c-2 second, got %s", out.hits[1].Chunk.Chunk.ID)
	}
}

func TestSemanticSearchCanonicalisesAliases(t *testing.T) {
	index := &indexFake{search: map[string][]domain.IndexedChunk{
		"ontario_health_documents": {chunk("c-1", "drug", "din", "00000001", "", "a", 0.2)},
	}}
	catalog := domain.DefaultCatalog()
	r := NewSemanticRetriever(index, &embedderFake{}, catalog, 5, discardLogger())

	out := r.Search(context.Background(), catalog.Sources(), domain.RetrievalRequest{Query: "metformin"})
	if out.hits[0].Ref.SourceType != "odb_drug" {
		t.Fatalf("expected alias to resolve to odb_drug, got %s", out.hits[0].Ref.SourceType)
	}
}

func TestSemanticSearchPartialWhenOneCollectionFails(t *testing.T) {
	index := &indexFake{
		search:    map[string][]domain.IndexedChunk{"ontario_health_documents": {chunk("c-1", "act_rule", "section_ref", "s.1", "", "a", 0.2)}},
		searchErr: map[string]error{"adp_documents": domain.WrapError(domain.ErrCollectionNotFound, "search", errors.New("missing"))},
	}
	catalog := domain.DefaultCatalog()
	r := NewSemanticRetriever(index, &embedderFake{}, catalog, 5, discardLogger())

	out := r.Search(context.Background(), catalog.Sources(), domain.RetrievalRequest{Query: "rule"})
	if out.status() != domain.StatusPartial || len(out.hits) != 1 {
		t.Fatalf("expected partial outcome with one hit, got %+v", out)
	}
	if out.warnings[0].Kind != "collection_not_found" {
		t.Fatalf("unexpected warning %+v", out.warnings[0])
	}
}
