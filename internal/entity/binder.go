package entity

import (
	"fmt"

	"tabular/internal/schema"
)

// Instance is the generic record type configured for one entity: table,
// primary key, fillable set, and casts all come from the schema at bind time.
// Instances are created per request and never shared across entities.
type Instance struct {
	Entity     string
	Table      string
	PrimaryKey schema.PrimaryKey
	SoftDelete bool
	Fillable   []string
	Casts      map[string]string // field -> type tag

	// KeyValue scopes relationship queries to one record. Zero until WithKey.
	KeyValue any
}

// Bind configures an Instance from a schema. It fails rather than falling
// back to a placeholder table: an instance whose table binding is missing
// would otherwise surface as a query against a nonexistent table at run time.
func Bind(s *schema.Schema) (*Instance, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: bind on nil schema", schema.ErrInvalid)
	}
	if s.Table == "" {
		return nil, fmt.Errorf("%w: entity %s has no table binding", schema.ErrInvalid, s.Name)
	}
	if s.PrimaryKey.Field == "" {
		return nil, fmt.Errorf("%w: entity %s has no primary key", schema.ErrInvalid, s.Name)
	}

	inst := &Instance{
		Entity:     s.Name,
		Table:      s.Table,
		PrimaryKey: s.PrimaryKey,
		SoftDelete: s.SoftDelete,
		Casts:      make(map[string]string, len(s.Fields)),
	}

	for _, f := range s.Fields {
		if f.Name == s.PrimaryKey.Field && s.PrimaryKey.Generated {
			inst.Casts[f.Name] = f.Type
			continue
		}
		if f.Fillable() {
			inst.Fillable = append(inst.Fillable, f.Name)
		}
		inst.Casts[f.Name] = f.Type
	}

	return inst, nil
}

// WithKey returns a copy of the instance scoped to one record's primary-key
// value. The receiver is not mutated.
func (i *Instance) WithKey(v any) *Instance {
	out := *i
	out.KeyValue = v
	return &out
}

// IsFillable reports whether clients may write the field on this instance.
func (i *Instance) IsFillable(field string) bool {
	for _, f := range i.Fillable {
		if f == field {
			return true
		}
	}
	return false
}
