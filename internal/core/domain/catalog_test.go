package domain

import (
	"strings"
	"testing"
)

func TestDefaultCatalogLookupResolvesAliases(t *testing.T) {
	c := DefaultCatalog()
	spec, ok := c.Lookup("Drug")
	if !ok || spec.Name != "odb_drug" {
		t.Fatalf("expected alias to resolve to odb_drug, got %+v ok=%v", spec.Name, ok)
	}
	if _, ok := c.Lookup("spaceship"); ok {
		t.Fatalf("unexpected lookup success for unknown type")
	}
}

func TestCatalogResolve(t *testing.T) {
	c := DefaultCatalog()
	all, err := c.Resolve("")
	if err != nil || len(all) != len(DefaultSources()) {
		t.Fatalf("expected every source for empty filter, got %d err=%v", len(all), err)
	}
	if _, err := c.Resolve("spaceship"); !IsKind(err, ErrUnknownSourceType) {
		t.Fatalf("expected ErrUnknownSourceType, got %v", err)
	}
}

func TestCatalogCollectionsGroupsByCollection(t *testing.T) {
	c := DefaultCatalog()
	groups := c.Collections(c.Sources())
	if len(groups) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(groups))
	}
	if groups[0].Collection != "ontario_health_documents" || len(groups[0].Specs) != 4 {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
	if groups[1].Metric != MetricL2 {
		t.Fatalf("expected adp collection to use l2, got %s", groups[1].Metric)
	}
}

func TestNewCatalogRejectsInvalidSpecs(t *testing.T) {
	base := DefaultSources()[0]

	injected := base
	injected.Table = "fees; drop table x"
	if _, err := NewCatalog([]SourceSpec{injected}); err == nil || !strings.Contains(err.Error(), "invalid identifier") {
		t.Fatalf("expected identifier validation error, got %v", err)
	}

	badMetric := base
	badMetric.Metric = "manhattan"
	if _, err := NewCatalog([]SourceSpec{badMetric}); err == nil {
		t.Fatalf("expected metric validation error")
	}

	dup := base
	dup.Name = "other"
	dup.Aliases = []string{"fee_code"}
	if _, err := NewCatalog([]SourceSpec{base, dup}); err == nil {
		t.Fatalf("expected duplicate alias error")
	}

	if _, err := NewCatalog(nil); err == nil {
		t.Fatalf("expected empty catalog error")
	}
}

func TestNewCatalogAppliesDefaults(t *testing.T) {
	spec := DefaultSources()[3]
	spec.Metric = ""
	spec.SequenceField = ""
	c, err := NewCatalog([]SourceSpec{spec})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	got := c.Sources()[0]
	if got.Metric != MetricCosine || got.SequenceField != "chunk_index" {
		t.Fatalf("expected defaults, got metric=%s sequence=%s", got.Metric, got.SequenceField)
	}
}

func TestSourceSpecKeyNormalisation(t *testing.T) {
	c := DefaultCatalog()
	fee, _ := c.Lookup("fee_schedule_entry")
	if got := fee.NormalizeKey(" a135 "); got != "A135" {
		t.Fatalf("expected upper-cased fee code, got %q", got)
	}
	drug, _ := c.Lookup("odb_drug")
	if got := drug.NormalizeKey("00000001"); got != "00000001" {
		t.Fatalf("DIN leading zeros must be kept, got %q", got)
	}
}

func TestSourceSpecColumns(t *testing.T) {
	fee, _ := DefaultCatalog().Lookup("fee_schedule_entry")
	cols := fee.Columns()
	if cols[0] != "fee_code" {
		t.Fatalf("key column must come first, got %v", cols)
	}
	seen := map[string]bool{}
	for _, c := range cols {
		if seen[c] {
			t.Fatalf("duplicate column %s in %v", c, cols)
		}
		seen[c] = true
	}
	if !fee.AllowsFilter("fee_code") || !fee.AllowsFilter("section") || fee.AllowsFilter("amount") {
		t.Fatalf("unexpected filter eligibility")
	}
}

func TestChunkFromIndexedParsesSequenceAndKey(t *testing.T) {
	fee, _ := DefaultCatalog().Lookup("fee_schedule_entry")
	c := ChunkFromIndexed(IndexedChunk{
		ID:       "c1",
		Metadata: map[string]string{"source_type": "fee_code", "fee_code": "a135", "chunk_index": "3"},
	}, fee, true)
	if c.SourceType != "fee_schedule_entry" || c.Key != "A135" || c.RawKey != "a135" {
		t.Fatalf("unexpected canonical chunk %+v", c)
	}
	if !c.HasSequence || c.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %+v", c)
	}
	if ref := RefForChunk(c); ref.NoKey || ref.Key != "A135" {
		t.Fatalf("unexpected ref %+v", ref)
	}
}

func TestRetrievalHitValidate(t *testing.T) {
	hit, err := NewStructuredHit(StructuredRow{SourceType: "odb_drug", Key: "1"})
	if err != nil {
		t.Fatalf("NewStructuredHit() error = %v", err)
	}
	if err := hit.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	hit.Entity = &LogicalEntity{}
	if err := hit.Validate(); err == nil {
		t.Fatalf("expected mixed payload to be rejected")
	}
	if _, err := NewStructuredHit(StructuredRow{SourceType: "odb_drug"}); !IsKind(err, ErrMalformedMetadata) {
		t.Fatalf("expected ErrMalformedMetadata, got %v", err)
	}
	semantic := NewChunkHit(Chunk{ID: "c"}, 0.1, 0.9)
	if err := semantic.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
