package engine

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/gofiber/fiber/v2"

	"tabular/internal/entity"
	"tabular/internal/schema"
	"tabular/internal/store"
)

// RunAction handles POST /api/:entity/:id/actions/:action, a schema-declared
// custom record action. The action's expression (env: record) or static value
// computes the new value for its target field.
func (h *Handler) RunAction(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextForm, schema.ContextDetail)
	if err != nil {
		return err
	}

	key := c.Params("action")
	action := s.GetAction(key)
	if action == nil {
		return UnknownActionError(s.Name, key)
	}
	if err := h.authorize(c, s, key); err != nil {
		return err
	}

	if action.Field == "" || !s.HasField(action.Field) {
		return ConfigurationError(fmt.Sprintf(
			"action %s on %s targets unknown field %q", key, s.Name, action.Field))
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	id := c.Params("id")
	record, err := FetchRecord(c.Context(), h.store.Pool, s, inst, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Name, id)
		}
		return fmt.Errorf("fetch %s/%s: %w", s.Name, id, err)
	}

	value, err := evaluateAction(action, record)
	if err != nil {
		return ConfigurationError(fmt.Sprintf("action %s on %s: %v", key, s.Name, err))
	}

	cast, err := inst.Cast(action.Field, value)
	if err != nil {
		return ConfigurationError(fmt.Sprintf(
			"action %s on %s produced an invalid %s value: %v", key, s.Name, action.Field, err))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2",
		inst.Table, action.Field, inst.PrimaryKey.Field)
	if inst.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	affected, err := store.Exec(c.Context(), h.store.Pool, sql, cast, id)
	if err != nil {
		return mapWriteError(fmt.Errorf("action %s on %s/%s: %w", key, s.Name, id, store.MapError(err)))
	}
	if affected == 0 {
		return NotFoundError(s.Name, id)
	}

	updated, err := FetchRecord(c.Context(), h.store.Pool, s, inst, id)
	if err != nil {
		return fmt.Errorf("refetch %s/%s: %w", s.Name, id, err)
	}
	return c.JSON(fiber.Map{"data": updated})
}

func evaluateAction(action *schema.Action, record map[string]any) (any, error) {
	if action.Expression == "" {
		return action.Value, nil
	}

	prog, err := expr.Compile(action.Expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	result, err := expr.Run(prog, map[string]any{"record": record})
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return result, nil
}
