package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"tabular/internal/entity"
	"tabular/internal/perm"
	"tabular/internal/query"
	"tabular/internal/relation"
	"tabular/internal/schema"
	"tabular/internal/store"
)

type Handler struct {
	store   *store.Store
	schemas *schema.Store
	builder *query.Builder
	perms   *perm.Resolver
	authz   perm.Authorizer
	log     zerolog.Logger
}

func NewHandler(s *store.Store, schemas *schema.Store, builder *query.Builder, perms *perm.Resolver, authz perm.Authorizer, log zerolog.Logger) *Handler {
	return &Handler{
		store:   s,
		schemas: schemas,
		builder: builder,
		perms:   perms,
		authz:   authz,
		log:     log,
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextList)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "read"); err != nil {
		return err
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	root := &query.Root{
		Table:      inst.Table,
		PrimaryKey: inst.PrimaryKey.Field,
		SoftDelete: inst.SoftDelete,
	}

	env, err := h.builder.Run(c.Context(), h.store.Pool, root, s, parseListParams(c))
	if err != nil {
		return err
	}
	return c.JSON(env)
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextDetail)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "read"); err != nil {
		return err
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	id := c.Params("id")
	row, err := FetchRecord(c.Context(), h.store.Pool, s, inst, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Name, id)
		}
		return fmt.Errorf("get %s/%s: %w", s.Name, id, err)
	}

	return c.JSON(fiber.Map{"data": row})
}

// ListRelation handles GET /api/:entity/:id/:relation, a relationship
// sub-query served through the same pager and envelope as a top-level list.
func (h *Handler) ListRelation(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextDetail)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "read"); err != nil {
		return err
	}

	relName := c.Params("relation")
	rel := s.GetRelationship(relName)
	detail := s.GetDetail(relName)
	if rel == nil && detail == nil {
		return UnknownRelationshipError(s.Name, relName)
	}

	target := ""
	if rel != nil {
		target = rel.Target
	} else {
		target = detail.Target
	}

	// The target entity is validated lazily, at resolution time: a missing
	// target schema is a configuration defect of this relationship, not a
	// caller 404.
	related, err := h.schemas.Resolve(c.Context(), target, []string{schema.ContextList})
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			return ConfigurationError(fmt.Sprintf(
				"relationship %s on %s references unknown entity %s", relName, s.Name, target))
		}
		return mapSchemaError(err, target)
	}

	sourceInst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}
	relatedInst, err := entity.Bind(related)
	if err != nil {
		return mapSchemaError(err, related.Name)
	}

	id := c.Params("id")
	if _, err := FetchRecord(c.Context(), h.store.Pool, s, sourceInst, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Name, id)
		}
		return fmt.Errorf("fetch %s/%s: %w", s.Name, id, err)
	}

	source := sourceInst.WithKey(id)

	var root *query.Root
	if rel != nil {
		root, err = relation.Resolve(source, rel, relatedInst)
	} else {
		root, err = relation.ResolveDetail(source, s, detail, relatedInst)
	}
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	p := parseListParams(c)
	if detail != nil && len(detail.Fields) > 0 {
		p.Columns = projectedColumns(detail.Fields, related)
	}

	env, err := h.builder.Run(c.Context(), h.store.Pool, root, related, p)
	if err != nil {
		return err
	}
	return c.JSON(env)
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextForm, schema.ContextDetail)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "create"); err != nil {
		return err
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	plan, validationErrs := PlanWrite(s, inst, body, nil)
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan)
	if err != nil {
		return mapWriteError(err)
	}

	return c.Status(201).JSON(fiber.Map{"data": record})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c, schema.ContextForm, schema.ContextDetail)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "update"); err != nil {
		return err
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	id := c.Params("id")
	if _, err := FetchRecord(c.Context(), h.store.Pool, s, inst, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Name, id)
		}
		return fmt.Errorf("fetch %s/%s: %w", s.Name, id, err)
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	plan, validationErrs := PlanWrite(s, inst, body, id)
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan)
	if err != nil {
		return mapWriteError(err)
	}

	return c.JSON(fiber.Map{"data": record})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	s, err := h.resolveSchema(c)
	if err != nil {
		return err
	}
	if err := h.authorize(c, s, "delete"); err != nil {
		return err
	}

	inst, err := entity.Bind(s)
	if err != nil {
		return mapSchemaError(err, s.Name)
	}

	id := c.Params("id")
	var sql string
	var params []any
	if inst.SoftDelete {
		sql, params = BuildSoftDeleteSQL(inst, id)
	} else {
		sql, params = BuildHardDeleteSQL(inst, id)
	}

	affected, err := store.Exec(c.Context(), h.store.Pool, sql, params...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.Name, id, err)
	}
	if affected == 0 {
		return NotFoundError(s.Name, id)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

func (h *Handler) resolveSchema(c *fiber.Ctx, contexts ...string) (*schema.Schema, error) {
	name := c.Params("entity")
	s, err := h.schemas.Resolve(c.Context(), name, contexts)
	if err != nil {
		return nil, mapSchemaError(err, name)
	}
	return s, nil
}

// authorize resolves the permission string for the action and hands the
// decision to the external authorization collaborator. A nil collaborator
// means the deployment enforces no authorization (tests, trusted networks).
func (h *Handler) authorize(c *fiber.Ctx, s *schema.Schema, action string) error {
	if h.authz == nil {
		return nil
	}
	principal, ok := c.Locals("principal").(*perm.Principal)
	if !ok || principal == nil {
		return UnauthorizedError("Authentication required")
	}
	permission := h.perms.Resolve(s, action)
	if !h.authz.Authorize(*principal, permission) {
		return ForbiddenError(fmt.Sprintf("Missing permission: %s", permission))
	}
	return nil
}

// projectedColumns keeps detail projections that name real fields of the
// related schema; anything else is dropped so projections can never inject
// column identifiers.
func projectedColumns(requested []string, related *schema.Schema) []string {
	var out []string
	for _, f := range requested {
		if f != "" && related.HasField(f) {
			out = append(out, f)
		}
	}
	return out
}
