package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"tabular/internal/entity"
	"tabular/internal/schema"
	"tabular/internal/store"
)

// WritePlan is a validated, cast set of field values ready to execute.
type WritePlan struct {
	IsCreate bool
	Schema   *schema.Schema
	Instance *entity.Instance
	Fields   map[string]any
	ID       any // nil for create
}

// PlanWrite validates the request body against the schema and the bound
// instance's fillable set, casting values as it goes. No SQL is executed.
func PlanWrite(s *schema.Schema, inst *entity.Instance, body map[string]any, existingID any) (*WritePlan, []ErrorDetail) {
	var errs []ErrorDetail
	fields := make(map[string]any, len(body))

	for key, val := range body {
		f := s.GetField(key)
		if f == nil {
			errs = append(errs, ErrorDetail{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field: %s", key),
			})
			continue
		}
		if !inst.IsFillable(key) {
			errs = append(errs, ErrorDetail{
				Field:   key,
				Rule:    "readonly",
				Message: fmt.Sprintf("Field %s cannot be written", key),
			})
			continue
		}

		cast, err := inst.Cast(key, val)
		if err != nil {
			errs = append(errs, ErrorDetail{
				Field:   key,
				Rule:    "type",
				Message: err.Error(),
			})
			continue
		}
		fields[key] = cast
	}

	isCreate := existingID == nil

	for _, f := range s.Fields {
		if detail := validateField(f, fields, isCreate); detail != nil {
			errs = append(errs, *detail)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	if isCreate {
		applyDefaults(s, inst, fields)
	}

	return &WritePlan{
		IsCreate: isCreate,
		Schema:   s,
		Instance: inst,
		Fields:   fields,
		ID:       existingID,
	}, nil
}

func validateField(f schema.Field, fields map[string]any, isCreate bool) *ErrorDetail {
	val, present := fields[f.Name]

	if !present || val == nil {
		if f.Required && !f.AutoIncrement && !f.Computed {
			// Explicit null never satisfies a required field; absence is an
			// error only on create, and only when no default fills it.
			if present || (isCreate && f.Default == nil) {
				return &ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required", f.Name),
				}
			}
		}
		return nil
	}

	if len(f.Enum) > 0 {
		s, _ := val.(string)
		ok := false
		for _, e := range f.Enum {
			if e == s {
				ok = true
				break
			}
		}
		if !ok {
			return &ErrorDetail{
				Field:   f.Name,
				Rule:    "enum",
				Message: fmt.Sprintf("Field %s must be one of: %s", f.Name, strings.Join(f.Enum, ", ")),
			}
		}
	}

	if s, ok := val.(string); ok {
		v := f.Validation
		if v.MinLength > 0 && len(s) < v.MinLength {
			return &ErrorDetail{Field: f.Name, Rule: "min_length",
				Message: fmt.Sprintf("Field %s must be at least %d characters", f.Name, v.MinLength)}
		}
		if v.MaxLength > 0 && len(s) > v.MaxLength {
			return &ErrorDetail{Field: f.Name, Rule: "max_length",
				Message: fmt.Sprintf("Field %s must be at most %d characters", f.Name, v.MaxLength)}
		}
		if v.Pattern != "" {
			matched, err := regexp.MatchString(v.Pattern, s)
			if err != nil || !matched {
				return &ErrorDetail{Field: f.Name, Rule: "pattern",
					Message: fmt.Sprintf("Field %s has an invalid format", f.Name)}
			}
		}
	}

	if n, ok := toFloat64(val); ok {
		v := f.Validation
		if v.Min != nil && n < *v.Min {
			return &ErrorDetail{Field: f.Name, Rule: "min",
				Message: fmt.Sprintf("Field %s must be >= %v", f.Name, *v.Min)}
		}
		if v.Max != nil && n > *v.Max {
			return &ErrorDetail{Field: f.Name, Rule: "max",
				Message: fmt.Sprintf("Field %s must be <= %v", f.Name, *v.Max)}
		}
	}

	return nil
}

func applyDefaults(s *schema.Schema, inst *entity.Instance, fields map[string]any) {
	for _, f := range s.Fields {
		if _, present := fields[f.Name]; present {
			continue
		}
		if f.Default == nil || !inst.IsFillable(f.Name) {
			continue
		}
		if cast, err := inst.Cast(f.Name, f.Default); err == nil {
			fields[f.Name] = cast
		}
	}
}

// ExecuteWritePlan runs the insert or update in a transaction and returns the
// written record.
func ExecuteWritePlan(ctx context.Context, s *store.Store, plan *WritePlan) (map[string]any, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id any
	if plan.IsCreate {
		// UUID keys are generated here rather than by a column default so
		// inserts behave the same on tables created without one.
		pk := plan.Instance.PrimaryKey
		if pk.Generated && pk.Type == "uuid" {
			if _, present := plan.Fields[pk.Field]; !present {
				plan.Fields[pk.Field] = uuid.NewString()
			}
		}
		sql, params := BuildInsertSQL(plan.Instance, plan.Fields)
		row, err := store.QueryRow(ctx, tx, sql, params...)
		if err != nil {
			return nil, mapWriteError(fmt.Errorf("insert %s: %w", plan.Instance.Table, store.MapError(err)))
		}
		id = row[plan.Instance.PrimaryKey.Field]
	} else {
		id = plan.ID
		sql, params := BuildUpdateSQL(plan.Instance, plan.ID, plan.Fields)
		if sql != "" {
			affected, err := store.Exec(ctx, tx, sql, params...)
			if err != nil {
				return nil, mapWriteError(fmt.Errorf("update %s: %w", plan.Instance.Table, store.MapError(err)))
			}
			if affected == 0 {
				return nil, NotFoundError(plan.Schema.Name, fmt.Sprintf("%v", plan.ID))
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return FetchRecord(ctx, s.Pool, plan.Schema, plan.Instance, id)
}

// BuildInsertSQL builds a parameterized INSERT returning the full row.
func BuildInsertSQL(inst *entity.Instance, fields map[string]any) (string, []any) {
	pb := newParamBuilder()
	var cols, placeholders []string
	if val, ok := fields[inst.PrimaryKey.Field]; ok && !inst.IsFillable(inst.PrimaryKey.Field) {
		cols = append(cols, inst.PrimaryKey.Field)
		placeholders = append(placeholders, pb.Add(val))
	}
	for _, col := range inst.Fillable {
		val, ok := fields[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		placeholders = append(placeholders, pb.Add(val))
	}

	// An empty body on an entity whose key the database generates leaves no
	// columns to insert.
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", inst.Table), nil
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		inst.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sql, pb.params
}

// BuildUpdateSQL builds a parameterized UPDATE, or "" when no fields changed.
func BuildUpdateSQL(inst *entity.Instance, id any, fields map[string]any) (string, []any) {
	pb := newParamBuilder()
	var sets []string
	for _, col := range inst.Fillable {
		val, ok := fields[col]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", col, pb.Add(val)))
	}
	if len(sets) == 0 {
		return "", nil
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		inst.Table, strings.Join(sets, ", "), inst.PrimaryKey.Field, pb.Add(id))
	if inst.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	return sql, pb.params
}

// BuildSoftDeleteSQL marks the record deleted.
func BuildSoftDeleteSQL(inst *entity.Instance, id any) (string, []any) {
	sql := fmt.Sprintf("UPDATE %s SET deleted_at = NOW() WHERE %s = $1 AND deleted_at IS NULL",
		inst.Table, inst.PrimaryKey.Field)
	return sql, []any{id}
}

// BuildHardDeleteSQL removes the record.
func BuildHardDeleteSQL(inst *entity.Instance, id any) (string, []any) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", inst.Table, inst.PrimaryKey.Field)
	return sql, []any{id}
}

// FetchRecord loads one record projected to the resolved schema's fields.
func FetchRecord(ctx context.Context, q store.Querier, s *schema.Schema, inst *entity.Instance, id any) (map[string]any, error) {
	columns := s.FieldNames()
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(columns, ", "), inst.Table, inst.PrimaryKey.Field)
	if inst.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	return store.QueryRow(ctx, q, sql, id)
}

type paramBuilder struct {
	params []any
	n      int
}

func newParamBuilder() *paramBuilder { return &paramBuilder{} }

func (p *paramBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
