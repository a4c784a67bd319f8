package relation

import (
	"fmt"

	"tabular/internal/entity"
	"tabular/internal/query"
	"tabular/internal/schema"
)

// Resolve builds the query root for a relationship. Both sides arrive as
// bound instances, never as entity names: a bare name would have to be bound
// here, and an unbound generic instance silently carries a sentinel table
// that only fails once a query executes. The bind step fails loudly instead,
// so by the time Resolve runs the table metadata is known-good.
//
// The source instance must be scoped with WithKey; the related instance
// supplies the target table and primary key.
func Resolve(source *entity.Instance, rel *schema.Relationship, related *entity.Instance) (*query.Root, error) {
	if source == nil || related == nil {
		return nil, fmt.Errorf("%w: relationship %s requires bound instances on both sides",
			schema.ErrInvalid, rel.Name)
	}
	if related.Table == "" {
		return nil, fmt.Errorf("%w: relationship %s target %s is not table-bound",
			schema.ErrInvalid, rel.Name, related.Entity)
	}
	if source.KeyValue == nil {
		return nil, fmt.Errorf("%w: relationship %s source has no record key",
			schema.ErrInvalid, rel.Name)
	}

	switch rel.Kind {
	case schema.OneToMany:
		return oneToMany(source, rel, related)
	case schema.ManyToMany:
		return manyToMany(source, rel, related)
	case schema.ManyToManyThrough:
		return manyToManyThrough(source, rel, related)
	default:
		return nil, fmt.Errorf("%w: relationship %s has unknown kind %q",
			schema.ErrInvalid, rel.Name, rel.Kind)
	}
}

// ResolveDetail builds the query root for a detail-list entry. When a
// relationship with the same name is declared it is authoritative for join
// construction; otherwise the entry's own through config drives two direct
// joins.
func ResolveDetail(source *entity.Instance, s *schema.Schema, d *schema.Detail, related *entity.Instance) (*query.Root, error) {
	if rel := s.GetRelationship(d.Name); rel != nil {
		return Resolve(source, rel, related)
	}
	if d.Through == nil {
		return nil, fmt.Errorf("%w: detail %s has neither a relationship nor a through config",
			schema.ErrInvalid, d.Name)
	}
	synthetic := &schema.Relationship{
		Name:    d.Name,
		Kind:    schema.ManyToManyThrough,
		Target:  d.Target,
		Through: d.Through,
	}
	return Resolve(source, synthetic, related)
}

func oneToMany(source *entity.Instance, rel *schema.Relationship, related *entity.Instance) (*query.Root, error) {
	if rel.ForeignKey == "" {
		return nil, fmt.Errorf("%w: one_to_many relationship %s has no foreign key",
			schema.ErrInvalid, rel.Name)
	}
	return &query.Root{
		Table:      related.Table,
		PrimaryKey: related.PrimaryKey.Field,
		SoftDelete: related.SoftDelete,
		Scope: []query.Cond{
			{Column: related.Table + "." + rel.ForeignKey, Value: source.KeyValue},
		},
	}, nil
}

func manyToMany(source *entity.Instance, rel *schema.Relationship, related *entity.Instance) (*query.Root, error) {
	if rel.JoinTable == "" || rel.SourceJoinKey == "" || rel.TargetJoinKey == "" {
		return nil, fmt.Errorf("%w: many_to_many relationship %s is missing pivot keys",
			schema.ErrInvalid, rel.Name)
	}
	return &query.Root{
		Table:      related.Table,
		PrimaryKey: related.PrimaryKey.Field,
		SoftDelete: related.SoftDelete,
		Joins: []query.Join{
			{
				Table: rel.JoinTable,
				On: fmt.Sprintf("%s.%s = %s.%s",
					rel.JoinTable, rel.TargetJoinKey, related.Table, related.PrimaryKey.Field),
			},
		},
		Scope: []query.Cond{
			{Column: rel.JoinTable + "." + rel.SourceJoinKey, Value: source.KeyValue},
		},
	}, nil
}

// manyToManyThrough chains two pivots: the first connects the source to the
// intermediate, the second connects the intermediate to the target. Related
// rows are selected DISTINCT since multiple intermediate rows can reach the
// same target.
func manyToManyThrough(source *entity.Instance, rel *schema.Relationship, related *entity.Instance) (*query.Root, error) {
	t := rel.Through
	if t == nil {
		return nil, fmt.Errorf("%w: many_to_many_through relationship %s has no through config",
			schema.ErrInvalid, rel.Name)
	}
	if t.FirstJoinTable == "" || t.FirstSourceKey == "" || t.FirstTargetKey == "" ||
		t.SecondJoinTable == "" || t.SecondSourceKey == "" || t.SecondTargetKey == "" {
		return nil, fmt.Errorf("%w: many_to_many_through relationship %s is missing pivot keys",
			schema.ErrInvalid, rel.Name)
	}

	return &query.Root{
		Table:      related.Table,
		PrimaryKey: related.PrimaryKey.Field,
		SoftDelete: related.SoftDelete,
		Distinct:   true,
		Joins: []query.Join{
			{
				Table: t.SecondJoinTable,
				On: fmt.Sprintf("%s.%s = %s.%s",
					t.SecondJoinTable, t.SecondTargetKey, related.Table, related.PrimaryKey.Field),
			},
			{
				Table: t.FirstJoinTable,
				On: fmt.Sprintf("%s.%s = %s.%s",
					t.FirstJoinTable, t.FirstTargetKey, t.SecondJoinTable, t.SecondSourceKey),
			},
		},
		Scope: []query.Cond{
			{Column: t.FirstJoinTable + "." + t.FirstSourceKey, Value: source.KeyValue},
		},
	}, nil
}
