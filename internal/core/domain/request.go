package domain

import (
	"fmt"
	"strings"
)

// SourceTypeFilter is the filter field that routes a request to source
// types instead of being applied as a column predicate.
const SourceTypeFilter = "source_type"

// TextField is the pseudo-field carrying reassembled chunk text.
const TextField = "text"

type RetrievalRequest struct {
	Query       string            `json:"query,omitempty"`
	Identifiers []string          `json:"identifiers,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
	Include     []string          `json:"include,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

// Validate rejects requests that name nothing to look for.
func (r RetrievalRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" && len(r.CleanIdentifiers()) == 0 && len(r.Filters) == 0 {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("one of query, identifiers or filters is required"))
	}
	if r.Limit < 0 {
		return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("limit must not be negative"))
	}
	for field := range r.Filters {
		if strings.TrimSpace(field) == "" {
			return WrapError(ErrInvalidInput, "validate request", fmt.Errorf("empty filter field"))
		}
	}
	return nil
}

// CleanIdentifiers drops blank identifiers and duplicates, keeping order.
func (r RetrievalRequest) CleanIdentifiers() []string {
	seen := make(map[string]struct{}, len(r.Identifiers))
	out := make([]string, 0, len(r.Identifiers))
	for _, id := range r.Identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ColumnFilters returns the filters minus the source_type routing field.
func (r RetrievalRequest) ColumnFilters() map[string]string {
	out := make(map[string]string, len(r.Filters))
	for k, v := range r.Filters {
		if k == SourceTypeFilter {
			continue
		}
		out[k] = v
	}
	return out
}

type SourceStatus string

const (
	StatusOK       SourceStatus = "ok"
	StatusSkipped  SourceStatus = "skipped"
	StatusPartial  SourceStatus = "partial"
	StatusFailed   SourceStatus = "failed"
	StatusTimedOut SourceStatus = "timed_out"
)

type Warning struct {
	Source     HitSource `json:"source"`
	Kind       string    `json:"kind"`
	SourceType string    `json:"source_type,omitempty"`
	Message    string    `json:"message"`
}

type ResponseMetadata struct {
	StructuredCount  int          `json:"structured_count"`
	SemanticCount    int          `json:"semantic_count"`
	StructuredStatus SourceStatus `json:"structured_status"`
	SemanticStatus   SourceStatus `json:"semantic_status"`
	TimedOut         bool         `json:"timed_out"`
	Degraded         bool         `json:"degraded"`
	Warnings         []Warning    `json:"warnings,omitempty"`
}

type ItemDiagnostics struct {
	MissingKey     bool            `json:"missing_key"`
	FieldConflicts []FieldConflict `json:"field_conflicts,omitempty"`
	Flags          []string        `json:"flags,omitempty"`
}

// ResultItem has the same shape for every source type.
type ResultItem struct {
	SourceType  string                `json:"source_type"`
	KeyField    string                `json:"key_field"`
	Key         string                `json:"key"`
	Title       *FieldValue           `json:"title,omitempty"`
	Fields      map[string]FieldValue `json:"fields"`
	Text        *FieldValue           `json:"text,omitempty"`
	Sources     []HitSource           `json:"sources"`
	Confidence  float64               `json:"confidence"`
	Similarity  float64               `json:"similarity"`
	Diagnostics ItemDiagnostics       `json:"diagnostics"`
}

type RetrievalResponse struct {
	Items      []ResultItem     `json:"items"`
	Metadata   ResponseMetadata `json:"metadata"`
	Confidence float64          `json:"confidence"`
}
