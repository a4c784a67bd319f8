package schema

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// RawDocument is the wire form of a schema document as produced by a Source.
// It accepts both the canonical visibility representation and the legacy
// per-context booleans; normalization converts it into a Schema and the legacy
// form never leaves this file.
type RawDocument struct {
	Name          string            `json:"name" yaml:"name"`
	Table         string            `json:"table" yaml:"table"`
	PrimaryKey    PrimaryKey        `json:"primary_key" yaml:"primary_key"`
	SoftDelete    bool              `json:"soft_delete" yaml:"soft_delete"`
	Fields        []RawField        `json:"fields" yaml:"fields"`
	Relationships []Relationship    `json:"relationships" yaml:"relationships"`
	Details       []Detail          `json:"details" yaml:"details"`
	Actions       []Action          `json:"actions" yaml:"actions"`
	Permissions   map[string]string `json:"permissions" yaml:"permissions"`

	// Declared as []any so that non-string entries survive decoding and can
	// be stripped (with a warning) instead of turning into empty columns.
	Sortable    []any `json:"sortable" yaml:"sortable"`
	Filterable  []any `json:"filterable" yaml:"filterable"`
	DefaultSort []any `json:"default_sort" yaml:"default_sort"`

	// Contexts holds per-context field overrides, merged only when the
	// context is requested.
	Contexts map[string][]RawField `json:"contexts" yaml:"contexts"`
}

type RawField struct {
	Name          string     `json:"name" yaml:"name"`
	Type          string     `json:"type" yaml:"type"`
	Required      bool       `json:"required" yaml:"required"`
	Unique        bool       `json:"unique" yaml:"unique"`
	ReadOnly      bool       `json:"readonly" yaml:"readonly"`
	Computed      bool       `json:"computed" yaml:"computed"`
	AutoIncrement bool       `json:"auto_increment" yaml:"auto_increment"`
	Default       any        `json:"default" yaml:"default"`
	Enum          []string   `json:"enum" yaml:"enum"`
	Validation    Validation `json:"validation" yaml:"validation"`

	// Canonical form.
	Visibility []string `json:"visibility" yaml:"visibility"`

	// Legacy per-context booleans. Accepted on input only.
	Listable *bool `json:"listable" yaml:"listable"`
	Editable *bool `json:"editable" yaml:"editable"`
	Viewable *bool `json:"viewable" yaml:"viewable"`
}

// Normalize converts a raw document into a canonical Schema covering all
// contexts. It validates structural requirements (name, table, primary key,
// field names) and strips invalid entries from the declared field lists.
// Normalization is idempotent: a document already in canonical form passes
// through unchanged.
func Normalize(raw *RawDocument, log zerolog.Logger) (*Schema, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("%w: missing entity name", ErrInvalid)
	}
	if raw.Table == "" {
		return nil, fmt.Errorf("%w: entity %s has no table", ErrInvalid, raw.Name)
	}
	if raw.PrimaryKey.Field == "" {
		return nil, fmt.Errorf("%w: entity %s has no primary key", ErrInvalid, raw.Name)
	}
	if len(raw.Fields) == 0 {
		return nil, fmt.Errorf("%w: entity %s has no fields", ErrInvalid, raw.Name)
	}

	s := &Schema{
		Name:          raw.Name,
		Table:         raw.Table,
		PrimaryKey:    raw.PrimaryKey,
		SoftDelete:    raw.SoftDelete,
		Relationships: raw.Relationships,
		Details:       raw.Details,
		Actions:       raw.Actions,
		Permissions:   raw.Permissions,
	}

	for _, rf := range raw.Fields {
		if rf.Name == "" {
			return nil, fmt.Errorf("%w: entity %s has a field without a name", ErrInvalid, raw.Name)
		}
		s.Fields = append(s.Fields, canonicalField(rf))
	}

	for _, rel := range s.Relationships {
		switch rel.Kind {
		case OneToMany, ManyToMany, ManyToManyThrough:
		default:
			return nil, fmt.Errorf("%w: entity %s relationship %s has unknown kind %q",
				ErrInvalid, raw.Name, rel.Name, rel.Kind)
		}
	}

	s.Sortable = SanitizeFieldList(raw.Sortable, s, "sortable", log)
	s.Filterable = SanitizeFieldList(raw.Filterable, s, "filterable", log)
	s.DefaultSort = sanitizeSortList(raw.DefaultSort, s, log)

	return s, nil
}

func canonicalField(rf RawField) Field {
	return Field{
		Name:          rf.Name,
		Type:          rf.Type,
		Required:      rf.Required,
		Unique:        rf.Unique,
		ReadOnly:      rf.ReadOnly,
		Computed:      rf.Computed,
		AutoIncrement: rf.AutoIncrement,
		Default:       rf.Default,
		Enum:          rf.Enum,
		Validation:    rf.Validation,
		Visibility:    NormalizeVisibility(rf.Visibility, rf.Listable, rf.Editable, rf.Viewable),
	}
}

// NormalizeVisibility produces the canonical context set for a field. The
// canonical form wins when declared, even empty (nil means undeclared);
// otherwise the legacy booleans are mapped (listable -> list, editable ->
// form, viewable -> detail). A field declaring neither form is visible
// everywhere. Idempotent: feeding the output back in returns an equal set,
// including the empty set of a hidden-everywhere field.
func NormalizeVisibility(visibility []string, listable, editable, viewable *bool) []string {
	if visibility != nil {
		out := []string{}
		for _, v := range visibility {
			switch v {
			case ContextList, ContextForm, ContextDetail:
				out = append(out, v)
			}
		}
		return dedupeContexts(out)
	}

	if listable == nil && editable == nil && viewable == nil {
		out := make([]string, len(AllContexts))
		copy(out, AllContexts)
		return out
	}

	out := []string{}
	if listable != nil && *listable {
		out = append(out, ContextList)
	}
	if editable != nil && *editable {
		out = append(out, ContextForm)
	}
	if viewable == nil || *viewable {
		out = append(out, ContextDetail)
	}
	return out
}

func dedupeContexts(contexts []string) []string {
	seen := make(map[string]bool, len(contexts))
	out := []string{}
	// Canonical order regardless of declaration order.
	for _, c := range AllContexts {
		for _, v := range contexts {
			if v == c && !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// SanitizeFieldList keeps entries that are non-empty strings naming an
// existing field. Anything else is dropped with a warning: an empty entry
// that survives here becomes an empty column identifier in a query, which
// surfaces as an opaque database error instead of a schema diagnosis.
func SanitizeFieldList(entries []any, s *Schema, list string, log zerolog.Logger) []string {
	var out []string
	for _, e := range entries {
		name, ok := e.(string)
		if !ok || name == "" {
			log.Warn().Str("entity", s.Name).Str("list", list).
				Interface("entry", e).Msg("dropping invalid field list entry")
			continue
		}
		if !s.HasField(name) {
			log.Warn().Str("entity", s.Name).Str("list", list).Str("field", name).
				Msg("dropping unknown field from field list")
			continue
		}
		out = append(out, name)
	}
	return out
}

// sanitizeSortList is SanitizeFieldList for default_sort entries, which may
// carry a leading "-" for descending order.
func sanitizeSortList(entries []any, s *Schema, log zerolog.Logger) []string {
	var out []string
	for _, e := range entries {
		name, ok := e.(string)
		if !ok || name == "" {
			log.Warn().Str("entity", s.Name).Str("list", "default_sort").
				Interface("entry", e).Msg("dropping invalid sort entry")
			continue
		}
		bare := name
		if bare[0] == '-' {
			bare = bare[1:]
		}
		if bare == "" || !s.HasField(bare) {
			log.Warn().Str("entity", s.Name).Str("list", "default_sort").Str("field", name).
				Msg("dropping unknown field from default sort")
			continue
		}
		out = append(out, name)
	}
	return out
}

// FilterContexts produces a copy of the schema scoped to the requested
// contexts: per-context overrides from the raw document are merged in, and
// fields not visible in any requested context are removed (the primary key
// always survives). An empty context set means all contexts.
func FilterContexts(raw *RawDocument, s *Schema, contexts []string) *Schema {
	if len(contexts) == 0 {
		out := *s
		return &out
	}

	out := *s
	out.Contexts = SortContexts(contexts)
	out.Fields = nil

	overrides := make(map[string]RawField)
	for _, c := range out.Contexts {
		for _, rf := range raw.Contexts[c] {
			overrides[rf.Name] = rf
		}
	}

	for _, f := range s.Fields {
		if rf, ok := overrides[f.Name]; ok {
			merged := mergeOverride(f, rf)
			f = merged
		}
		if f.Name != s.PrimaryKey.Field && !visibleInAny(f, out.Contexts) {
			continue
		}
		out.Fields = append(out.Fields, f)
	}

	// Fields introduced only by an override for a requested context.
	for name, rf := range overrides {
		if s.HasField(name) {
			continue
		}
		f := canonicalField(rf)
		if visibleInAny(f, out.Contexts) {
			out.Fields = append(out.Fields, f)
		}
	}

	return &out
}

func mergeOverride(base Field, rf RawField) Field {
	if rf.Type != "" {
		base.Type = rf.Type
	}
	if rf.Default != nil {
		base.Default = rf.Default
	}
	if rf.Required {
		base.Required = true
	}
	if rf.ReadOnly {
		base.ReadOnly = true
	}
	if rf.Visibility != nil || rf.Listable != nil || rf.Editable != nil || rf.Viewable != nil {
		base.Visibility = NormalizeVisibility(rf.Visibility, rf.Listable, rf.Editable, rf.Viewable)
	}
	return base
}

func visibleInAny(f Field, contexts []string) bool {
	for _, c := range contexts {
		if f.VisibleIn(c) {
			return true
		}
	}
	return false
}

// SortContexts returns a sorted, deduplicated copy of the context set. Cache
// keys are built from this so that {form, detail} and {detail, form} share
// one entry.
func SortContexts(contexts []string) []string {
	seen := make(map[string]bool, len(contexts))
	var out []string
	for _, c := range contexts {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
