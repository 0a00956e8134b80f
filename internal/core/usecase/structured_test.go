package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestStructuredLookupSkipsTablesRejectingFilter(t *testing.T) {
	store := &storeFake{}
	catalog := domain.DefaultCatalog()
	r := NewStructuredRetriever(store, catalog, 5, discardLogger())

	req := domain.RetrievalRequest{Filters: map[string]string{"dosage_form": "tablet"}}
	out := r.Lookup(context.Background(), catalog.Sources(), req)
	if !out.attempted || out.err != nil {
		t.Fatalf("expected successful attempt, got %+v", out)
	}
	for _, name := range []string{"odb_drug", "interchangeable_group"} {
		q, ok := store.query(name)
		if !ok {
			t.Fatalf("expected %s to be queried", name)
		}
		if q.Filters["dosage_form"] != "tablet" || q.Limit != 5 {
			t.Fatalf("unexpected query for %s: %+v", name, q)
		}
	}
	for _, name := range []string{"fee_schedule_entry", "act_rule", "adp_device"} {
		if _, ok := store.query(name); ok {
			t.Fatalf("%s has no dosage_form column and must be skipped", name)
		}
	}
}

func TestStructuredLookupNormalizesIdentifiersPerType(t *testing.T) {
	store := &storeFake{}
	catalog := domain.DefaultCatalog()
	r := NewStructuredRetriever(store, catalog, 5, discardLogger())

	r.Lookup(context.Background(), catalog.Sources(), domain.RetrievalRequest{Identifiers: []string{" a135 ", "A135", "00012345"}})
	fee, _ := store.query("fee_schedule_entry")
	if len(fee.Identifiers) != 2 || fee.Identifiers[0] != "A135" {
		t.Fatalf("expected upper-cased deduplicated fee codes, got %v", fee.Identifiers)
	}
	drug, _ := store.query("odb_drug")
	if drug.Identifiers[2] != "00012345" {
		t.Fatalf("expected DIN with leading zeros, got %v", drug.Identifiers)
	}
}

func TestStructuredLookupMissingTableIsPartial(t *testing.T) {
	store := &storeFake{
		errs: map[string]error{"act_rule": domain.WrapError(domain.ErrTableNotFound, "lookup", errors.New("42P01"))},
		rows: map[string][]domain.StructuredRow{"fee_schedule_entry": {feeRow("A1", "x", 1)}},
	}
	catalog := domain.DefaultCatalog()
	r := NewStructuredRetriever(store, catalog, 5, discardLogger())

	out := r.Lookup(context.Background(), catalog.Sources(), domain.RetrievalRequest{Identifiers: []string{"A1"}})
	if out.status() != domain.StatusPartial {
		t.Fatalf("expected partial status, got %s", out.status())
	}
	if len(out.hits) != 1 || len(out.warnings) != 1 || out.warnings[0].SourceType != "act_rule" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestStructuredLookupDropsRowsWithoutKey(t *testing.T) {
	store := &storeFake{rows: map[string][]domain.StructuredRow{
		"fee_schedule_entry": {{SourceType: "fee_schedule_entry", Key: ""}},
	}}
	catalog := domain.DefaultCatalog()
	r := NewStructuredRetriever(store, catalog, 5, discardLogger())

	out := r.Lookup(context.Background(), catalog.Sources(), domain.RetrievalRequest{Filters: map[string]string{"section": "GP"}})
	if len(out.hits) != 0 || len(out.warnings) != 1 || out.warnings[0].Kind != "malformed_metadata" {
		t.Fatalf("expected keyless row to be dropped with a warning, got %+v", out)
	}
}
