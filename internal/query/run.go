package query

import (
	"context"
	"fmt"

	"tabular/internal/schema"
	"tabular/internal/store"
)

// Run builds the plan and executes all three statements, returning the list
// envelope. Cancellation of ctx propagates into each database call.
func (b *Builder) Run(ctx context.Context, q store.Querier, root *Root, s *schema.Schema, p Params) (*Envelope, error) {
	plan := b.Build(root, s, p)

	rows, err := store.QueryRows(ctx, q, plan.SelectSQL, plan.SelectArgs...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Name, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	total, err := countValue(ctx, q, plan.CountSQL, plan.CountArgs)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", s.Name, err)
	}

	filtered, err := countValue(ctx, q, plan.FilteredCountSQL, plan.FilteredCountArgs)
	if err != nil {
		return nil, fmt.Errorf("filtered count %s: %w", s.Name, err)
	}

	return &Envelope{Rows: rows, Count: total, CountFiltered: filtered}, nil
}

func countValue(ctx context.Context, q store.Querier, sql string, args []any) (int64, error) {
	row, err := store.QueryRow(ctx, q, sql, args...)
	if err != nil {
		return 0, err
	}
	switch n := row["count"].(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", row["count"])
	}
}
