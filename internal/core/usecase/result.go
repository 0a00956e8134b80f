package usecase

import (
	"strconv"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// ResultAdapter shapes fused items into the uniform response schema.
type ResultAdapter struct {
	catalog *domain.Catalog
}

func NewResultAdapter(catalog *domain.Catalog) ResultAdapter {
	return ResultAdapter{catalog: catalog}
}

func (a ResultAdapter) Shape(items []domain.FusedItem, include []string, meta domain.ResponseMetadata) *domain.RetrievalResponse {
	resp := &domain.RetrievalResponse{
		Items:    make([]domain.ResultItem, 0, len(items)),
		Metadata: meta,
	}
	wanted := includeSet(include)
	for _, item := range items {
		resp.Items = append(resp.Items, a.shapeItem(item, wanted))
	}
	if len(items) > 0 {
		resp.Confidence = items[0].Confidence
	}
	return resp
}

func (a ResultAdapter) shapeItem(item domain.FusedItem, wanted map[string]struct{}) domain.ResultItem {
	out := domain.ResultItem{
		SourceType: item.Ref.SourceType,
		Key:        item.Ref.DisplayKey(),
		Fields:     map[string]domain.FieldValue{},
		Confidence: item.Confidence,
		Similarity: item.BestSimilarity,
		Diagnostics: domain.ItemDiagnostics{
			MissingKey: item.Ref.NoKey,
		},
	}
	if item.StructuredHit {
		out.Sources = append(out.Sources, domain.SourceStructured)
	}
	if item.SemanticHit {
		out.Sources = append(out.Sources, domain.SourceSemantic)
	}

	var metadata map[string]string
	if item.Entity != nil {
		metadata = item.Entity.Metadata
		out.Diagnostics.FieldConflicts = item.Entity.FieldConflicts
		for _, flag := range item.Entity.Flags {
			out.Diagnostics.Flags = append(out.Diagnostics.Flags, string(flag))
		}
	}

	spec, known := a.catalog.Lookup(item.Ref.SourceType)
	if known {
		out.KeyField = spec.KeyField
		if wants(wanted, "title") || wants(wanted, spec.TitleColumn) {
			title := fieldValue(spec, spec.TitleColumn, item.Row, metadata)
			if !title.Present() {
				if t := strings.TrimSpace(metadata["title"]); t != "" {
					title = domain.TextValue(t)
				}
			}
			out.Title = &title
		}
		for _, field := range spec.Fields() {
			if field == spec.TitleColumn || !wants(wanted, field) {
				continue
			}
			out.Fields[field] = fieldValue(spec, field, item.Row, metadata)
		}
	} else {
		for field, value := range metadata {
			if !wants(wanted, field) {
				continue
			}
			out.Fields[field] = domain.TextValue(value)
		}
	}

	if wants(wanted, domain.TextField) {
		text := domain.MissingValue()
		if item.Entity != nil && item.Entity.Text != "" {
			text = domain.TextValue(item.Entity.Text)
		}
		out.Text = &text
	}
	return out
}

// fieldValue prefers the structured row, which owns numeric and
// categorical values, and falls back to chunk metadata.
func fieldValue(spec domain.SourceSpec, field string, row *domain.StructuredRow, metadata map[string]string) domain.FieldValue {
	if row != nil {
		if v, ok := row.Fields[field]; ok && v.Present() {
			return v
		}
	}
	raw := strings.TrimSpace(metadata[field])
	if raw == "" {
		return domain.MissingValue()
	}
	if spec.IsNumber(field) {
		f, err := strconv.ParseFloat(strings.NewReplacer("$", "", ",", "").Replace(raw), 64)
		if err != nil {
			return domain.MissingValue()
		}
		return domain.NumberValue(f)
	}
	return domain.TextValue(raw)
}

func includeSet(include []string) map[string]struct{} {
	if len(include) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(include))
	for _, f := range include {
		if f = strings.TrimSpace(f); f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func wants(set map[string]struct{}, field string) bool {
	if set == nil {
		return true
	}
	_, ok := set[field]
	return ok
}
