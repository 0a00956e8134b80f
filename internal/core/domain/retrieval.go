package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// NoKeyMarker is exposed as the key of entities whose chunks carry no
// identifying key.
const NoKeyMarker = "NO_KEY"

type HitSource string

const (
	SourceStructured HitSource = "structured"
	SourceSemantic   HitSource = "semantic"
)

// FieldValue is a single exposed value. Missing values keep a nil Value
// and are flagged explicitly so that an absent amount never reads as 0.
type FieldValue struct {
	Value   any  `json:"value"`
	Missing bool `json:"missing,omitempty"`
}

func TextValue(s string) FieldValue { return FieldValue{Value: s} }

func NumberValue(f float64) FieldValue { return FieldValue{Value: f} }

func MissingValue() FieldValue { return FieldValue{Missing: true} }

func (v FieldValue) Present() bool { return !v.Missing && v.Value != nil }

func (v FieldValue) Text() (string, bool) {
	s, ok := v.Value.(string)
	return s, ok && !v.Missing
}

func (v FieldValue) Number() (float64, bool) {
	f, ok := v.Value.(float64)
	return f, ok && !v.Missing
}

// StructuredRow is one relational record of a source type.
type StructuredRow struct {
	SourceType string
	Key        string
	Fields     map[string]FieldValue
}

// StructuredQuery is the lookup issued against one source type's table.
type StructuredQuery struct {
	Identifiers []string
	Text        string
	Filters     map[string]string
	Limit       int
}

// IndexedChunk is a raw vector-store record. Distance is expressed in the
// collection's configured metric.
type IndexedChunk struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

type ChunkFilter struct {
	SourceTypes []string
	Equals      map[string]string
}

type ChunkQuery struct {
	Collection string
	Metric     Metric
	Vector     []float32
	TopK       int
	Filter     ChunkFilter
}

// KeyFetch selects every chunk of one logical entity without ranking.
// AltKeys are other stored spellings of Key that name the same entity.
type KeyFetch struct {
	Collection  string
	KeyField    string
	Key         string
	AltKeys     []string
	SourceTypes []string
	Limit       int
}

// Keys returns Key followed by the distinct non-empty AltKeys.
func (f KeyFetch) Keys() []string {
	out := make([]string, 0, 1+len(f.AltKeys))
	seen := make(map[string]struct{}, 1+len(f.AltKeys))
	for _, k := range append([]string{f.Key}, f.AltKeys...) {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Chunk is an IndexedChunk whose metadata has been checked against the
// catalog.
type Chunk struct {
	ID          string
	SourceType  string
	KnownType   bool
	Key         string
	RawKey      string
	Sequence    int
	HasSequence bool
	Text        string
	Metadata    map[string]string
}

// ChunkFromIndexed canonicalises a raw chunk. spec is the catalog entry
// matching the chunk's source_type, or the collection's only entry when the
// chunk has none; ok reports whether such an entry was found.
func ChunkFromIndexed(raw IndexedChunk, spec SourceSpec, ok bool) Chunk {
	c := Chunk{
		ID:       raw.ID,
		Text:     raw.Text,
		Metadata: raw.Metadata,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	if !ok {
		c.SourceType = strings.TrimSpace(c.Metadata["source_type"])
		if c.SourceType == "" {
			c.SourceType = "unknown"
		}
		return c
	}
	c.KnownType = true
	c.SourceType = spec.Name
	c.RawKey = strings.TrimSpace(c.Metadata[spec.KeyField])
	c.Key = spec.NormalizeKey(c.RawKey)
	if seq, err := strconv.Atoi(strings.TrimSpace(c.Metadata[spec.SequenceField])); err == nil {
		c.Sequence = seq
		c.HasSequence = true
	}
	return c
}

// EntityRef identifies a logical entity. Keyless entities carry the chunk
// they came from so that unrelated keyless chunks never merge.
type EntityRef struct {
	SourceType string
	Key        string
	NoKey      bool
	ChunkID    string
}

func (r EntityRef) Identity() string {
	if r.NoKey {
		return r.SourceType + "\x00" + NoKeyMarker + "\x00" + r.ChunkID
	}
	return r.SourceType + "\x00" + r.Key
}

func (r EntityRef) DisplayKey() string {
	if r.NoKey {
		return NoKeyMarker
	}
	return r.Key
}

// RefForChunk derives the entity a chunk belongs to.
func RefForChunk(c Chunk) EntityRef {
	if c.Key == "" || !c.KnownType {
		return EntityRef{SourceType: c.SourceType, NoKey: true, ChunkID: c.ID}
	}
	return EntityRef{SourceType: c.SourceType, Key: c.Key}
}

type DiagnosticKind string

const (
	DiagMissingKey        DiagnosticKind = "missing_identifying_key"
	DiagUnknownSourceType DiagnosticKind = "unknown_source_type"
	DiagFieldConflict     DiagnosticKind = "field_conflict"
	DiagSiblingFetch      DiagnosticKind = "sibling_fetch_failed"
	DiagSiblingTruncated  DiagnosticKind = "sibling_fetch_truncated"
)

type FieldConflict struct {
	Field    string `json:"field"`
	Kept     string `json:"kept"`
	Rejected string `json:"rejected"`
	ChunkID  string `json:"chunk_id"`
}

// ChunkHit is a semantic hit before reassembly.
type ChunkHit struct {
	Chunk      Chunk
	Distance   float64
	Similarity float64
}

// LogicalEntity is the reassembled unit behind one or more chunks.
type LogicalEntity struct {
	Ref            EntityRef
	Text           string
	ChunkIDs       []string
	Metadata       map[string]string
	FieldConflicts []FieldConflict
	Flags          []DiagnosticKind
}

func (e *LogicalEntity) Flag(kind DiagnosticKind) {
	for _, f := range e.Flags {
		if f == kind {
			return
		}
	}
	e.Flags = append(e.Flags, kind)
}

// RetrievalHit is a tagged hit. Structured hits carry Row; semantic hits
// carry Chunk before reassembly and Entity after it.
type RetrievalHit struct {
	Ref      EntityRef
	Source   HitSource
	Row      *StructuredRow
	Chunk    *ChunkHit
	Entity   *LogicalEntity
	Strength float64
}

func NewStructuredHit(row StructuredRow) (RetrievalHit, error) {
	if strings.TrimSpace(row.SourceType) == "" || strings.TrimSpace(row.Key) == "" {
		return RetrievalHit{}, WrapError(ErrMalformedMetadata, "structured hit", fmt.Errorf("row without source type or key"))
	}
	r := row
	return RetrievalHit{
		Ref:      EntityRef{SourceType: row.SourceType, Key: row.Key},
		Source:   SourceStructured,
		Row:      &r,
		Strength: 1,
	}, nil
}

func NewChunkHit(chunk Chunk, distance, similarity float64) RetrievalHit {
	return RetrievalHit{
		Ref:      RefForChunk(chunk),
		Source:   SourceSemantic,
		Chunk:    &ChunkHit{Chunk: chunk, Distance: distance, Similarity: similarity},
		Strength: similarity,
	}
}

func NewEntityHit(entity LogicalEntity, similarity float64) RetrievalHit {
	e := entity
	return RetrievalHit{
		Ref:      entity.Ref,
		Source:   SourceSemantic,
		Entity:   &e,
		Strength: similarity,
	}
}

// Validate checks that the payload matches the source discriminant.
func (h RetrievalHit) Validate() error {
	switch h.Source {
	case SourceStructured:
		if h.Row == nil || h.Chunk != nil || h.Entity != nil {
			return WrapError(ErrInvalidInput, "validate hit", fmt.Errorf("structured hit must carry only a row"))
		}
	case SourceSemantic:
		if h.Row != nil || (h.Chunk == nil) == (h.Entity == nil) {
			return WrapError(ErrInvalidInput, "validate hit", fmt.Errorf("semantic hit must carry a chunk or an entity"))
		}
	default:
		return WrapError(ErrInvalidInput, "validate hit", fmt.Errorf("unknown source %q", h.Source))
	}
	if h.Strength < 0 || h.Strength > 1 {
		return WrapError(ErrInvalidInput, "validate hit", fmt.Errorf("strength %v out of range", h.Strength))
	}
	return nil
}

// FusedItem is one entity after merging with every hit that names it.
type FusedItem struct {
	Ref            EntityRef
	Row            *StructuredRow
	Entity         *LogicalEntity
	StructuredHit  bool
	SemanticHit    bool
	BestSimilarity float64
	SourcesCount   int
	Confidence     float64
}
