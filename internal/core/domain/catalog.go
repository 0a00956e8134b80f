package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Metric is the distance function a vector collection was built with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricL2     Metric = "l2"
)

const defaultSequenceField = "chunk_index"

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SourceSpec describes one source type: where its rows live, where its
// chunks live and which field identifies an entity.
type SourceSpec struct {
	Name           string   `yaml:"name" json:"name"`
	Aliases        []string `yaml:"aliases" json:"aliases,omitempty"`
	KeyField       string   `yaml:"key_field" json:"key_field"`
	UpperKey       bool     `yaml:"upper_key" json:"upper_key,omitempty"`
	Table          string   `yaml:"table" json:"table"`
	TitleColumn    string   `yaml:"title_column" json:"title_column"`
	TextColumns    []string `yaml:"text_columns" json:"text_columns"`
	NumberColumns  []string `yaml:"number_columns" json:"number_columns,omitempty"`
	DetailColumns  []string `yaml:"detail_columns" json:"detail_columns,omitempty"`
	RelatedColumns []string `yaml:"related_columns" json:"related_columns,omitempty"`
	FilterColumns  []string `yaml:"filter_columns" json:"filter_columns,omitempty"`
	Collection     string   `yaml:"collection" json:"collection"`
	Metric         Metric   `yaml:"metric" json:"metric"`
	SequenceField  string   `yaml:"sequence_field" json:"sequence_field,omitempty"`
}

// NormalizeKey trims the identifier and applies the type's casing rule.
// Leading zeros are significant and kept.
func (s SourceSpec) NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if s.UpperKey {
		key = strings.ToUpper(key)
	}
	return key
}

// KeySpellings lists the stored spellings worth fetching for an entity:
// every raw key seen, the normalised key and, for upper-cased keys, the
// lower-case form.
func (s SourceSpec) KeySpellings(raw ...string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, k := range raw {
		add(k)
	}
	if len(out) == 0 {
		return nil
	}
	norm := s.NormalizeKey(out[0])
	add(norm)
	if s.UpperKey {
		add(strings.ToLower(norm))
	}
	return out
}

// Fields returns the exposed field set in a stable order: title first,
// then numeric, detail and related columns. The key column is excluded.
func (s SourceSpec) Fields() []string {
	seen := map[string]struct{}{s.KeyField: {}}
	out := make([]string, 0, 1+len(s.NumberColumns)+len(s.DetailColumns)+len(s.RelatedColumns))
	add := func(cols ...string) {
		for _, c := range cols {
			if _, ok := seen[c]; ok || c == "" {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	add(s.TitleColumn)
	add(s.NumberColumns...)
	add(s.DetailColumns...)
	add(s.RelatedColumns...)
	return out
}

// Columns is every column a structured lookup selects, key first.
func (s SourceSpec) Columns() []string {
	cols := []string{s.KeyField}
	seen := map[string]struct{}{s.KeyField: {}}
	for _, c := range append(s.Fields(), s.TextColumns...) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	return cols
}

func (s SourceSpec) IsNumber(column string) bool {
	return contains(s.NumberColumns, column)
}

// AllowsFilter reports whether field can be used as an equality predicate
// against this type's table.
func (s SourceSpec) AllowsFilter(field string) bool {
	return field == s.KeyField || contains(s.FilterColumns, field)
}

// Names is the canonical name followed by aliases, as stored in chunk
// metadata.
func (s SourceSpec) Names() []string {
	return append([]string{s.Name}, s.Aliases...)
}

func (s SourceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source type name is required")
	}
	idents := append([]string{s.KeyField, s.Table, s.TitleColumn}, s.TextColumns...)
	idents = append(idents, s.NumberColumns...)
	idents = append(idents, s.DetailColumns...)
	idents = append(idents, s.RelatedColumns...)
	idents = append(idents, s.FilterColumns...)
	for _, ident := range idents {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("source type %q: invalid identifier %q", s.Name, ident)
		}
	}
	if len(s.TextColumns) == 0 {
		return fmt.Errorf("source type %q: at least one text column is required", s.Name)
	}
	if strings.TrimSpace(s.Collection) == "" {
		return fmt.Errorf("source type %q: collection is required", s.Name)
	}
	switch s.Metric {
	case MetricCosine, MetricDot, MetricL2:
	default:
		return fmt.Errorf("source type %q: unsupported metric %q", s.Name, s.Metric)
	}
	return nil
}

// Catalog is the immutable set of known source types.
type Catalog struct {
	sources []SourceSpec
	index   map[string]int
}

func NewCatalog(specs []SourceSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("catalog: no source types configured")
	}
	c := &Catalog{
		sources: make([]SourceSpec, 0, len(specs)),
		index:   make(map[string]int, len(specs)),
	}
	for _, spec := range specs {
		if spec.SequenceField == "" {
			spec.SequenceField = defaultSequenceField
		}
		if spec.Metric == "" {
			spec.Metric = MetricCosine
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		pos := len(c.sources)
		for _, name := range spec.Names() {
			name = strings.ToLower(strings.TrimSpace(name))
			if _, dup := c.index[name]; dup {
				return nil, fmt.Errorf("catalog: duplicate source type name %q", name)
			}
			c.index[name] = pos
		}
		c.sources = append(c.sources, spec)
	}
	return c, nil
}

// Sources returns a copy of the specs in configuration order.
func (c *Catalog) Sources() []SourceSpec {
	out := make([]SourceSpec, len(c.sources))
	copy(out, c.sources)
	return out
}

// Lookup resolves a canonical name or alias, case-insensitively.
func (c *Catalog) Lookup(name string) (SourceSpec, bool) {
	pos, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return SourceSpec{}, false
	}
	return c.sources[pos], true
}

// Resolve returns the eligible specs for a source_type filter value. An
// empty value selects every type.
func (c *Catalog) Resolve(sourceType string) ([]SourceSpec, error) {
	if strings.TrimSpace(sourceType) == "" {
		return c.Sources(), nil
	}
	spec, ok := c.Lookup(sourceType)
	if !ok {
		return nil, WrapError(ErrUnknownSourceType, "resolve source type", fmt.Errorf("%q", sourceType))
	}
	return []SourceSpec{spec}, nil
}

// Collections returns the distinct collections with the specs stored in
// each, ordered by first appearance.
func (c *Catalog) Collections(specs []SourceSpec) []CollectionGroup {
	var groups []CollectionGroup
	pos := map[string]int{}
	for _, spec := range specs {
		i, ok := pos[spec.Collection]
		if !ok {
			i = len(groups)
			pos[spec.Collection] = i
			groups = append(groups, CollectionGroup{Collection: spec.Collection, Metric: spec.Metric})
		}
		groups[i].Specs = append(groups[i].Specs, spec)
	}
	return groups
}

// CollectionGroup is the set of source types sharing one vector collection.
type CollectionGroup struct {
	Collection string
	Metric     Metric
	Specs      []SourceSpec
}

// TypeNames is the sorted union of canonical names and aliases in the group.
func (g CollectionGroup) TypeNames() []string {
	var names []string
	for _, s := range g.Specs {
		names = append(names, s.Names()...)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DefaultSources is the built-in catalog used when no catalog file is set.
func DefaultSources() []SourceSpec {
	return []SourceSpec{
		{
			Name:          "fee_schedule_entry",
			Aliases:       []string{"fee_code", "ohip_fee"},
			KeyField:      "fee_code",
			UpperKey:      true,
			Table:         "ohip_fee_schedule",
			TitleColumn:   "description",
			TextColumns:   []string{"description", "requirements"},
			NumberColumns: []string{"amount", "specialist_fee", "anaesthetist_fee"},
			DetailColumns: []string{"requirements", "section"},
			FilterColumns: []string{"section", "specialty"},
			Collection:    "ontario_health_documents",
			Metric:        MetricCosine,
		},
		{
			Name:           "odb_drug",
			Aliases:        []string{"drug"},
			KeyField:       "din",
			Table:          "odb_drugs",
			TitleColumn:    "brand_name",
			TextColumns:    []string{"brand_name", "generic_name", "strength", "manufacturer"},
			NumberColumns:  []string{"individual_price", "amount_mohltc_pays"},
			DetailColumns:  []string{"generic_name", "strength", "dosage_form", "manufacturer", "therapeutic_class"},
			RelatedColumns: []string{"interchangeable_group_id"},
			FilterColumns:  []string{"dosage_form", "therapeutic_class", "interchangeable_group_id", "is_benefit"},
			Collection:     "ontario_health_documents",
			Metric:         MetricCosine,
		},
		{
			Name:          "interchangeable_group",
			KeyField:      "group_id",
			Table:         "odb_interchangeable_groups",
			TitleColumn:   "generic_name",
			TextColumns:   []string{"generic_name", "strength", "dosage_form"},
			NumberColumns: []string{"lowest_cost", "member_count"},
			DetailColumns: []string{"strength", "dosage_form"},
			FilterColumns: []string{"dosage_form"},
			Collection:    "ontario_health_documents",
			Metric:        MetricCosine,
		},
		{
			Name:          "act_rule",
			Aliases:       []string{"rule", "schedule_rule"},
			KeyField:      "section_ref",
			Table:         "act_eligibility_rules",
			TitleColumn:   "title",
			TextColumns:   []string{"title", "rule_text"},
			DetailColumns: []string{"rule_text", "act_name", "effective_date"},
			FilterColumns: []string{"act_name"},
			Collection:    "ontario_health_documents",
			Metric:        MetricCosine,
		},
		{
			Name:           "adp_device",
			Aliases:        []string{"assistive_device"},
			KeyField:       "device_code",
			UpperKey:       true,
			Table:          "adp_devices",
			TitleColumn:    "device_name",
			TextColumns:    []string{"device_name", "funding_rules", "eligibility"},
			NumberColumns:  []string{"max_contribution", "funding_percent"},
			DetailColumns:  []string{"category", "funding_rules", "eligibility"},
			RelatedColumns: []string{"policy_section_ref"},
			FilterColumns:  []string{"category"},
			Collection:     "adp_documents",
			Metric:         MetricL2,
		},
	}
}

// DefaultCatalog builds the built-in catalog. It panics only if the
// built-in definitions are invalid.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultSources())
	if err != nil {
		panic(err)
	}
	return c
}

// SourceTypeInfo is the public description of a source type.
type SourceTypeInfo struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	KeyField   string   `json:"key_field"`
	Collection string   `json:"collection"`
	Metric     Metric   `json:"metric"`
	Filters    []string `json:"filters"`
	Fields     []string `json:"fields"`
}

func (s SourceSpec) Describe() SourceTypeInfo {
	filters := append([]string{s.KeyField, SourceTypeFilter}, s.FilterColumns...)
	return SourceTypeInfo{
		Name:       s.Name,
		Aliases:    s.Aliases,
		KeyField:   s.KeyField,
		Collection: s.Collection,
		Metric:     s.Metric,
		Filters:    filters,
		Fields:     append(s.Fields(), TextField),
	}
}
