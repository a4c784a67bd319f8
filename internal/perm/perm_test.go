package perm

import (
	"testing"

	"tabular/internal/schema"
)

func TestResolve_DeclaredOverrideWins(t *testing.T) {
	s := &schema.Schema{
		Name:        "widgets",
		Permissions: map[string]string{"delete": "uri_widgets_admin"},
	}
	r := NewResolver("api")

	if got := r.Resolve(s, "delete"); got != "uri_widgets_admin" {
		t.Fatalf("expected declared override, got %s", got)
	}
	if got := r.Resolve(s, "read"); got != "api.widgets.read" {
		t.Fatalf("expected fallback for undeclared action, got %s", got)
	}
}

func TestResolve_FallbackIsDeterministic(t *testing.T) {
	s := &schema.Schema{Name: "orders"}
	r := NewResolver("api")

	first := r.Resolve(s, "update")
	for i := 0; i < 5; i++ {
		if got := r.Resolve(s, "update"); got != first {
			t.Fatalf("fallback changed between calls: %s vs %s", got, first)
		}
	}
	if first != "api.orders.update" {
		t.Fatalf("unexpected fallback: %s", first)
	}
}

func TestResolve_CustomActionPermission(t *testing.T) {
	s := &schema.Schema{
		Name: "widgets",
		Actions: []schema.Action{
			{Key: "publish", Field: "status", Value: "published", Permission: "uri_widgets_publish"},
			{Key: "archive", Field: "status", Value: "archived"},
		},
	}
	r := NewResolver("api")

	if got := r.Resolve(s, "publish"); got != "uri_widgets_publish" {
		t.Fatalf("expected action override, got %s", got)
	}
	if got := r.Resolve(s, "archive"); got != "api.widgets.archive" {
		t.Fatalf("action without override falls back, got %s", got)
	}
}

func TestResolve_ActionPermissionBeatsMapEntry(t *testing.T) {
	s := &schema.Schema{
		Name:        "widgets",
		Permissions: map[string]string{"publish": "uri_from_map"},
		Actions: []schema.Action{
			{Key: "publish", Field: "status", Value: "published", Permission: "uri_from_action"},
		},
	}
	if got := NewResolver("api").Resolve(s, "publish"); got != "uri_from_action" {
		t.Fatalf("the action's own permission is primary, got %s", got)
	}
}

func TestResolve_EmptyDeclarationFallsBack(t *testing.T) {
	s := &schema.Schema{
		Name:        "widgets",
		Permissions: map[string]string{"read": ""},
	}
	if got := NewResolver("api").Resolve(s, "read"); got != "api.widgets.read" {
		t.Fatalf("empty declaration must not erase the permission, got %q", got)
	}
}

func TestNewResolver_DefaultNamespace(t *testing.T) {
	r := NewResolver("")
	if r.Namespace != "api" {
		t.Fatalf("expected default namespace api, got %s", r.Namespace)
	}
}

func TestPrincipal_HasRole(t *testing.T) {
	p := Principal{ID: "u1", Roles: []string{"editor"}}
	if !p.HasRole("editor") {
		t.Fatal("expected role membership")
	}
	if p.HasRole("admin") {
		t.Fatal("unexpected role membership")
	}
}
