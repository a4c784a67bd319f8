package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"tabular/internal/perm"
	"tabular/internal/query"
	"tabular/internal/schema"
)

type fakeSource struct {
	docs map[string]*schema.RawDocument
}

func (f *fakeSource) LoadRaw(_ context.Context, entity string) (*schema.RawDocument, error) {
	doc, ok := f.docs[entity]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return doc, nil
}

func widgetDoc() *schema.RawDocument {
	return &schema.RawDocument{
		Name:       "widgets",
		Table:      "widgets",
		PrimaryKey: schema.PrimaryKey{Field: "id", Type: "int", Generated: true},
		Fields: []schema.RawField{
			{Name: "id", Type: "int", AutoIncrement: true},
			{Name: "name", Type: "string", Required: true},
		},
		Relationships: []schema.Relationship{
			{Name: "parts", Kind: schema.OneToMany, Target: "parts", ForeignKey: "widget_id"},
		},
	}
}

// allowlist authorizes exactly the permissions it carries.
type allowlist []string

func (a allowlist) Authorize(_ perm.Principal, permission string) bool {
	for _, p := range a {
		if p == permission {
			return true
		}
	}
	return false
}

func testApp(t *testing.T, authz perm.Authorizer, middleware ...fiber.Handler) *fiber.App {
	t.Helper()

	source := &fakeSource{docs: map[string]*schema.RawDocument{
		"widgets": widgetDoc(),
		"broken":  {Name: "broken", Table: ""},
	}}
	schemas := schema.NewStore(source, zerolog.Nop())
	builder := query.NewBuilder(100, zerolog.Nop())
	h := NewHandler(nil, schemas, builder, perm.NewResolver("api"), authz, zerolog.Nop())

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if !errors.As(err, &appErr) {
				return c.Status(500).JSON(ErrorResponse{Error: &AppError{Code: "INTERNAL_ERROR", Message: err.Error()}})
			}
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		},
	})
	RegisterDynamicRoutes(app, h, middleware...)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) (int, ErrorResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var er ErrorResponse
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &er)
	return resp.StatusCode, er
}

func TestHandler_UnknownEntity(t *testing.T) {
	app := testApp(t, nil)
	status, er := doRequest(t, app, http.MethodGet, "/api/nonsense", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "UNKNOWN_ENTITY" {
		t.Fatalf("expected UNKNOWN_ENTITY, got %+v", er.Error)
	}
}

func TestHandler_MalformedSchemaIsConfigurationFailure(t *testing.T) {
	app := testApp(t, nil)
	status, er := doRequest(t, app, http.MethodGet, "/api/broken", "")
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "CONFIGURATION" {
		t.Fatalf("expected CONFIGURATION, got %+v", er.Error)
	}
}

func TestHandler_UnknownRelationship(t *testing.T) {
	app := testApp(t, nil)
	status, er := doRequest(t, app, http.MethodGet, "/api/widgets/5/owners", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "UNKNOWN_RELATIONSHIP" {
		t.Fatalf("expected UNKNOWN_RELATIONSHIP, got %+v", er.Error)
	}
}

func TestHandler_MissingPrincipalIsUnauthorized(t *testing.T) {
	app := testApp(t, allowlist{})
	status, er := doRequest(t, app, http.MethodGet, "/api/widgets", "")
	if status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %+v", er.Error)
	}
}

func principalMiddleware(p *perm.Principal) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("principal", p)
		return c.Next()
	}
}

func TestHandler_MissingPermissionIsForbidden(t *testing.T) {
	p := &perm.Principal{ID: "u1"}
	app := testApp(t, allowlist{"api.widgets.read"}, principalMiddleware(p))

	status, er := doRequest(t, app, http.MethodDelete, "/api/widgets/5", "")
	if status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %+v", er.Error)
	}
	if !strings.Contains(er.Error.Message, "api.widgets.delete") {
		t.Fatalf("message should name the missing permission: %s", er.Error.Message)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	app := testApp(t, nil)
	status, er := doRequest(t, app, http.MethodPost, "/api/widgets", `{"color":"red"}`)
	if status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %+v", er.Error)
	}

	rules := map[string]bool{}
	for _, d := range er.Error.Details {
		rules[d.Field+":"+d.Rule] = true
	}
	if !rules["color:unknown"] || !rules["name:required"] {
		t.Fatalf("expected unknown+required details, got %+v", er.Error.Details)
	}
}

func TestHandler_CreateRejectsInvalidJSON(t *testing.T) {
	app := testApp(t, nil)
	status, er := doRequest(t, app, http.MethodPost, "/api/widgets", `{not json`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if er.Error == nil || er.Error.Code != "INVALID_PAYLOAD" {
		t.Fatalf("expected INVALID_PAYLOAD, got %+v", er.Error)
	}
}

func TestParseListParams(t *testing.T) {
	var got query.Params
	app := fiber.New()
	app.Get("/p", func(c *fiber.Ctx) error {
		got = parseListParams(c)
		return nil
	})

	req := httptest.NewRequest(http.MethodGet,
		"/p?sort=-created_at,name&filter[status]=open&filter[total.gte]=100&q=gear&page=2&per_page=50", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if len(got.Sort) != 2 || got.Sort[0] != (query.Order{Field: "created_at", Desc: true}) || got.Sort[1] != (query.Order{Field: "name"}) {
		t.Fatalf("unexpected sort: %+v", got.Sort)
	}
	if got.Search != "gear" || got.Page != 2 || got.PerPage != 50 {
		t.Fatalf("unexpected params: %+v", got)
	}

	filters := map[string]query.Filter{}
	for _, f := range got.Filters {
		filters[f.Field] = f
	}
	if f := filters["status"]; f.Operator != "eq" || f.Value != "open" {
		t.Fatalf("unexpected status filter: %+v", f)
	}
	if f := filters["total"]; f.Operator != "gte" || f.Value != "100" {
		t.Fatalf("unexpected total filter: %+v", f)
	}
}

func TestParseListParams_MalformedInputFallsBack(t *testing.T) {
	var got query.Params
	app := fiber.New()
	app.Get("/p", func(c *fiber.Ctx) error {
		got = parseListParams(c)
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/p?sort=-,,&page=abc&per_page=-5", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if len(got.Sort) != 0 {
		t.Fatalf("empty sort segments must be dropped: %+v", got.Sort)
	}
	if got.Page != 0 || got.PerPage != 0 {
		t.Fatalf("malformed paging must fall back to zero values: %+v", got)
	}
}
