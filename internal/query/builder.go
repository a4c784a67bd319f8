package query

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tabular/internal/schema"
)

// Root is the uniform query target the pager runs against: the entity's own
// table for top-level listings, or a joined/scoped construction produced by
// the relation resolver for relationship sub-queries.
type Root struct {
	Table      string
	PrimaryKey string
	SoftDelete bool
	Joins      []Join
	Scope      []Cond
	Distinct   bool
}

// Join is an INNER JOIN with a literal ON condition (pivot keys come from the
// schema, never from request input).
type Join struct {
	Table string
	On    string
}

// Cond is a parameterized equality condition applied before user filters.
type Cond struct {
	Column string
	Value  any
}

// Params are the transport-independent list parameters.
type Params struct {
	Sort    []Order
	Filters []Filter
	Search  string
	Page    int
	PerPage int

	// Columns overrides the projected column set (detail-list projections).
	// Empty means the schema's list-context fields.
	Columns []string
}

type Order struct {
	Field string
	Desc  bool
}

type Filter struct {
	Field    string
	Operator string // eq, neq, gt, gte, lt, lte, like, in
	Value    any
}

// Envelope is the list response wire contract. Field names are stable:
// list-rendering clients consume exactly rows / count / count_filtered.
type Envelope struct {
	Rows          []map[string]any `json:"rows"`
	Count         int64            `json:"count"`
	CountFiltered int64            `json:"count_filtered"`
}

// Plan carries the three statements a listing needs. Total count ignores
// user filters and search; filtered count applies them. Both are computed
// independently because clients display "X of Y".
type Plan struct {
	SelectSQL  string
	SelectArgs []any

	CountSQL  string
	CountArgs []any

	FilteredCountSQL  string
	FilteredCountArgs []any

	Page    int
	PerPage int
}

type Builder struct {
	MaxPerPage int
	Log        zerolog.Logger
}

func NewBuilder(maxPerPage int, log zerolog.Logger) *Builder {
	if maxPerPage <= 0 {
		maxPerPage = 100
	}
	return &Builder{MaxPerPage: maxPerPage, Log: log}
}

type paramBuilder struct {
	params []any
	n      int
}

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

// Build validates the parameters against the schema's declared field sets and
// produces the statement plan. Unknown sort and filter fields are dropped
// with a warning, never errored: clients routinely send stale state.
func (b *Builder) Build(root *Root, s *schema.Schema, p Params) *Plan {
	sortable := stripEmpty(s.Sortable)
	filterable := stripEmpty(s.Filterable)

	page := p.Page
	if page < 1 {
		page = 1
	}
	perPage := p.PerPage
	if perPage < 1 {
		perPage = 25
	}
	if perPage > b.MaxPerPage {
		perPage = b.MaxPerPage
	}

	columns := p.Columns
	if len(columns) == 0 {
		columns = s.ContextFields(schema.ContextList)
	}
	columns = stripEmpty(columns)

	qualify := len(root.Joins) > 0
	sel := make([]string, len(columns))
	for i, c := range columns {
		sel[i] = b.qualified(root, c, qualify)
	}

	// Base WHERE: soft delete + relationship scope. Shared by all three
	// statements.
	base := func(pb *paramBuilder) []string {
		var where []string
		if root.SoftDelete {
			where = append(where, b.qualified(root, "deleted_at", qualify)+" IS NULL")
		}
		for _, c := range root.Scope {
			where = append(where, fmt.Sprintf("%s = %s", c.Column, pb.Add(c.Value)))
		}
		return where
	}

	// User filters + global search on top of the base.
	filtered := func(pb *paramBuilder) []string {
		where := base(pb)
		for _, f := range p.Filters {
			if !contains(filterable, f.Field) {
				b.Log.Warn().Str("entity", s.Name).Str("field", f.Field).
					Msg("dropping filter on non-filterable field")
				continue
			}
			where = append(where, b.filterClause(root, f, pb, qualify))
		}
		if p.Search != "" {
			if clause := b.searchClause(root, filterable, p.Search, pb, qualify); clause != "" {
				where = append(where, clause)
			}
		}
		return where
	}

	from := root.Table
	for _, j := range root.Joins {
		from += fmt.Sprintf(" JOIN %s ON %s", j.Table, j.On)
	}

	// Data statement.
	pb := &paramBuilder{}
	distinct := ""
	if root.Distinct {
		distinct = "DISTINCT "
	}
	sql := fmt.Sprintf("SELECT %s%s FROM %s", distinct, strings.Join(sel, ", "), from)
	if where := filtered(pb); len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + b.orderBy(root, s, sortable, p.Sort, qualify)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", pb.Add(perPage), pb.Add((page-1)*perPage))

	// Count statements.
	countExpr := "COUNT(*)"
	if root.Distinct {
		countExpr = fmt.Sprintf("COUNT(DISTINCT %s)", b.qualified(root, root.PrimaryKey, true))
	}

	cpb := &paramBuilder{}
	countSQL := fmt.Sprintf("SELECT %s AS count FROM %s", countExpr, from)
	if where := base(cpb); len(where) > 0 {
		countSQL += " WHERE " + strings.Join(where, " AND ")
	}

	fpb := &paramBuilder{}
	filteredSQL := fmt.Sprintf("SELECT %s AS count FROM %s", countExpr, from)
	if where := filtered(fpb); len(where) > 0 {
		filteredSQL += " WHERE " + strings.Join(where, " AND ")
	}

	return &Plan{
		SelectSQL:         sql,
		SelectArgs:        pb.params,
		CountSQL:          countSQL,
		CountArgs:         cpb.params,
		FilteredCountSQL:  filteredSQL,
		FilteredCountArgs: fpb.params,
		Page:              page,
		PerPage:           perPage,
	}
}

// orderBy validates requested sort fields against the sortable set, falling
// back to the schema's default sort and finally to the primary key so that
// pagination order is always fixed.
func (b *Builder) orderBy(root *Root, s *schema.Schema, sortable []string, requested []Order, qualify bool) string {
	var parts []string
	for _, o := range requested {
		if !contains(sortable, o.Field) {
			b.Log.Warn().Str("entity", s.Name).Str("field", o.Field).
				Msg("dropping sort on non-sortable field")
			continue
		}
		parts = append(parts, b.orderPart(root, o.Field, o.Desc, qualify))
	}

	if len(parts) == 0 {
		for _, d := range s.DefaultSort {
			field, desc := d, false
			if strings.HasPrefix(d, "-") {
				field, desc = d[1:], true
			}
			parts = append(parts, b.orderPart(root, field, desc, qualify))
		}
	}

	if len(parts) == 0 {
		parts = append(parts, b.orderPart(root, root.PrimaryKey, false, qualify))
	}

	return strings.Join(parts, ", ")
}

func (b *Builder) orderPart(root *Root, field string, desc bool, qualify bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s", b.qualified(root, field, qualify), dir)
}

func (b *Builder) filterClause(root *Root, f Filter, pb *paramBuilder, qualify bool) string {
	col := b.qualified(root, f.Field, qualify)
	switch f.Operator {
	case "neq":
		return fmt.Sprintf("%s != %s", col, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", col, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", col, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", col, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", col, pb.Add(f.Value))
	case "like":
		return fmt.Sprintf("%s ILIKE %s", col, pb.Add(f.Value))
	case "in":
		return fmt.Sprintf("%s = ANY(%s)", col, pb.Add(f.Value))
	default:
		return fmt.Sprintf("%s = %s", col, pb.Add(f.Value))
	}
}

// searchClause builds the case-insensitive global search, OR'd across the
// filterable set. With zero filterable fields the search is a no-op: the
// clause is omitted entirely and every row matches.
func (b *Builder) searchClause(root *Root, filterable []string, search string, pb *paramBuilder, qualify bool) string {
	if len(filterable) == 0 {
		return ""
	}
	pattern := pb.Add("%" + search + "%")
	parts := make([]string, len(filterable))
	for i, f := range filterable {
		parts[i] = fmt.Sprintf("%s::text ILIKE %s", b.qualified(root, f, qualify), pattern)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (b *Builder) qualified(root *Root, col string, qualify bool) string {
	if qualify {
		return root.Table + "." + col
	}
	return col
}

// stripEmpty drops empty entries from a declared field list. The schema
// loader already sanitizes these; this second pass guards roots assembled
// from code so an empty column identifier can never reach the database.
func stripEmpty(fields []string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
