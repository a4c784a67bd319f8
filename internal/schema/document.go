package schema

import "errors"

// Visibility contexts. A field carries the set of contexts it appears in;
// this is the only visibility representation that exists past the loader.
const (
	ContextList   = "list"
	ContextForm   = "form"
	ContextDetail = "detail"
)

// AllContexts is the full context set, in canonical order.
var AllContexts = []string{ContextList, ContextForm, ContextDetail}

var (
	// ErrNotFound means the named entity has no schema document.
	ErrNotFound = errors.New("schema not found")

	// ErrInvalid means the schema document exists but is malformed. Operations
	// on the entity fail until the document is corrected.
	ErrInvalid = errors.New("invalid schema")
)

// Relationship kinds. Closed set: the relation resolver dispatches one
// constructor per kind.
const (
	OneToMany         = "one_to_many"
	ManyToMany        = "many_to_many"
	ManyToManyThrough = "many_to_many_through"
)

// Schema is the normalized, context-filtered description of one entity.
// Instances are built by the Store and must be treated as immutable.
type Schema struct {
	Name          string
	Table         string
	PrimaryKey    PrimaryKey
	SoftDelete    bool
	Fields        []Field
	Relationships []Relationship
	Details       []Detail
	Actions       []Action
	Permissions   map[string]string
	Sortable      []string
	Filterable    []string
	DefaultSort   []string

	// Contexts records which contexts this schema was resolved for
	// (empty means all).
	Contexts []string
}

type PrimaryKey struct {
	Field     string `json:"field" yaml:"field"`
	Type      string `json:"type" yaml:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated" yaml:"generated"`
}

type Field struct {
	Name          string
	Type          string // string, text, int, bigint, decimal, boolean, date, datetime, json, enum, uuid
	Required      bool
	Unique        bool
	ReadOnly      bool
	Computed      bool
	AutoIncrement bool
	Default       any
	Enum          []string
	Validation    Validation
	Visibility    []string // canonical context set
}

type Validation struct {
	MinLength int      `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength int      `json:"max_length,omitempty" yaml:"max_length"`
	Min       *float64 `json:"min,omitempty" yaml:"min"`
	Max       *float64 `json:"max,omitempty" yaml:"max"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern"`
}

type Relationship struct {
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"`
	Target string `json:"target" yaml:"target"`

	// one_to_many: FK column on the target table pointing at the source PK.
	ForeignKey string `json:"foreign_key,omitempty" yaml:"foreign_key"`

	// many_to_many pivot.
	JoinTable     string `json:"join_table,omitempty" yaml:"join_table"`
	SourceJoinKey string `json:"source_join_key,omitempty" yaml:"source_join_key"`
	TargetJoinKey string `json:"target_join_key,omitempty" yaml:"target_join_key"`

	// many_to_many_through pivot pair.
	Through *Through `json:"through,omitempty" yaml:"through"`
}

// Through declares the two chained pivots of a many_to_many_through
// relationship: first connects source to the intermediate, second connects
// the intermediate to the target.
type Through struct {
	FirstJoinTable string `json:"first_join_table" yaml:"first_join_table"`
	FirstSourceKey string `json:"first_source_key" yaml:"first_source_key"`
	FirstTargetKey string `json:"first_target_key" yaml:"first_target_key"`

	SecondJoinTable string `json:"second_join_table" yaml:"second_join_table"`
	SecondSourceKey string `json:"second_source_key" yaml:"second_source_key"`
	SecondTargetKey string `json:"second_target_key" yaml:"second_target_key"`
}

// Detail surfaces a secondary related table on the detail view. When a
// relationship with the same name exists it is authoritative for join
// construction and the detail entry only supplies the projected fields;
// otherwise the entry's own Through config drives the joins.
type Detail struct {
	Name    string   `json:"name" yaml:"name"`
	Target  string   `json:"target" yaml:"target"`
	Fields  []string `json:"fields,omitempty" yaml:"fields"`
	Through *Through `json:"through,omitempty" yaml:"through"`
}

// Action is a custom record action. Expression (expr-lang, env: record) or a
// static Value computes the new value for Field. Permission overrides the
// generated fallback when set.
type Action struct {
	Key        string `json:"key" yaml:"key"`
	Field      string `json:"field" yaml:"field"`
	Expression string `json:"expression,omitempty" yaml:"expression"`
	Value      any    `json:"value,omitempty" yaml:"value"`
	Permission string `json:"permission,omitempty" yaml:"permission"`
}

// Fillable reports whether clients may set this field. Editability is
// inferred, never declared: a field is writable unless it is read-only,
// auto-incrementing, or computed.
func (f Field) Fillable() bool {
	return !f.ReadOnly && !f.AutoIncrement && !f.Computed
}

// VisibleIn reports whether the field appears in the given context.
func (f Field) VisibleIn(context string) bool {
	for _, c := range f.Visibility {
		if c == context {
			return true
		}
	}
	return false
}

// GetField returns a pointer to the field with the given name, or nil.
func (s *Schema) GetField(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the schema has a field with the given name.
func (s *Schema) HasField(name string) bool {
	return s.GetField(name) != nil
}

// FieldNames returns all field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ContextFields returns the names of fields visible in the given context.
// The primary key is always included.
func (s *Schema) ContextFields(context string) []string {
	var names []string
	for _, f := range s.Fields {
		if f.Name == s.PrimaryKey.Field || f.VisibleIn(context) {
			names = append(names, f.Name)
		}
	}
	return names
}

// GetRelationship returns the relationship with the given name, or nil.
func (s *Schema) GetRelationship(name string) *Relationship {
	for i := range s.Relationships {
		if s.Relationships[i].Name == name {
			return &s.Relationships[i]
		}
	}
	return nil
}

// GetDetail returns the detail entry with the given name, or nil.
func (s *Schema) GetDetail(name string) *Detail {
	for i := range s.Details {
		if s.Details[i].Name == name {
			return &s.Details[i]
		}
	}
	return nil
}

// GetAction returns the action with the given key, or nil.
func (s *Schema) GetAction(key string) *Action {
	for i := range s.Actions {
		if s.Actions[i].Key == key {
			return &s.Actions[i]
		}
	}
	return nil
}
