package schema

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func boolPtr(b bool) *bool { return &b }

func rawWidgets() *RawDocument {
	return &RawDocument{
		Name:       "widgets",
		Table:      "widgets",
		PrimaryKey: PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []RawField{
			{Name: "id", Type: "uuid", AutoIncrement: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "status", Type: "enum", Enum: []string{"draft", "live"}},
			{Name: "secret", Type: "string", Visibility: []string{ContextForm, ContextDetail}},
		},
		Sortable:   []any{"name", "status"},
		Filterable: []any{"name", "status"},
	}
}

func TestNormalize_CanonicalVisibilityPassesThrough(t *testing.T) {
	raw := rawWidgets()
	s, err := Normalize(raw, zerolog.Nop())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	secret := s.GetField("secret")
	if secret == nil {
		t.Fatal("expected secret field")
	}
	want := []string{ContextForm, ContextDetail}
	if !reflect.DeepEqual(secret.Visibility, want) {
		t.Fatalf("expected visibility %v, got %v", want, secret.Visibility)
	}
	if secret.VisibleIn(ContextList) {
		t.Fatal("secret must not be visible in list context")
	}
}

func TestNormalize_DefaultVisibilityIsAllContexts(t *testing.T) {
	raw := rawWidgets()
	s, err := Normalize(raw, zerolog.Nop())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	name := s.GetField("name")
	if !reflect.DeepEqual(name.Visibility, AllContexts) {
		t.Fatalf("expected all contexts, got %v", name.Visibility)
	}
}

func TestNormalizeVisibility_LegacyBooleans(t *testing.T) {
	got := NormalizeVisibility(nil, boolPtr(true), boolPtr(false), boolPtr(true))
	want := []string{ContextList, ContextDetail}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// listable only: detail defaults to visible when not declared.
	got = NormalizeVisibility(nil, boolPtr(true), nil, nil)
	want = []string{ContextList, ContextDetail}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalizeVisibility_Idempotent(t *testing.T) {
	cases := [][]string{
		{ContextList},
		{ContextForm, ContextDetail},
		{ContextList, ContextForm, ContextDetail},
	}
	for _, canonical := range cases {
		once := NormalizeVisibility(canonical, nil, nil, nil)
		twice := NormalizeVisibility(once, nil, nil, nil)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("not idempotent: %v -> %v -> %v", canonical, once, twice)
		}
	}

	// Legacy form normalized twice equals once.
	once := NormalizeVisibility(nil, boolPtr(true), boolPtr(true), boolPtr(false))
	twice := NormalizeVisibility(once, nil, nil, nil)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("legacy normalization not stable: %v -> %v", once, twice)
	}
}

func TestNormalizeVisibility_HiddenEverywhereStaysHidden(t *testing.T) {
	// All legacy booleans false declares a field visible nowhere. The
	// canonical empty set must survive re-normalization instead of
	// defaulting back to all contexts.
	once := NormalizeVisibility(nil, boolPtr(false), boolPtr(false), boolPtr(false))
	if len(once) != 0 || once == nil {
		t.Fatalf("expected canonical empty set, got %v", once)
	}

	twice := NormalizeVisibility(once, nil, nil, nil)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("not idempotent: %v -> %v", once, twice)
	}

	// A declared-empty canonical set behaves the same.
	if got := NormalizeVisibility([]string{}, nil, nil, nil); len(got) != 0 || got == nil {
		t.Fatalf("declared-empty visibility must stay empty, got %v", got)
	}
}

func TestNormalizeVisibility_CanonicalOrderAndDedupe(t *testing.T) {
	got := NormalizeVisibility([]string{ContextDetail, ContextList, ContextDetail, "bogus"}, nil, nil, nil)
	want := []string{ContextList, ContextDetail}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalize_StripsInvalidFieldListEntries(t *testing.T) {
	raw := rawWidgets()
	raw.Filterable = []any{"name", "", "status", 42, "nonexistent"}
	raw.Sortable = []any{"", "name"}

	s, err := Normalize(raw, zerolog.Nop())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if !reflect.DeepEqual(s.Filterable, []string{"name", "status"}) {
		t.Fatalf("expected [name status], got %v", s.Filterable)
	}
	if !reflect.DeepEqual(s.Sortable, []string{"name"}) {
		t.Fatalf("expected [name], got %v", s.Sortable)
	}
}

func TestNormalize_RejectsStructuralDefects(t *testing.T) {
	for name, mutate := range map[string]func(*RawDocument){
		"missing table": func(r *RawDocument) { r.Table = "" },
		"missing pk":    func(r *RawDocument) { r.PrimaryKey.Field = "" },
		"no fields":     func(r *RawDocument) { r.Fields = nil },
		"unnamed field": func(r *RawDocument) { r.Fields[0].Name = "" },
		"bad rel kind":  func(r *RawDocument) { r.Relationships = []Relationship{{Name: "x", Kind: "belongs_to"}} },
	} {
		raw := rawWidgets()
		mutate(raw)
		if _, err := Normalize(raw, zerolog.Nop()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestFilterContexts_ListContextHidesFormOnlyFields(t *testing.T) {
	raw := rawWidgets()
	full, err := Normalize(raw, zerolog.Nop())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	listOnly := FilterContexts(raw, full, []string{ContextList})
	if listOnly.HasField("secret") {
		t.Fatal("secret must be filtered out of the list context")
	}
	if !listOnly.HasField("id") {
		t.Fatal("primary key must always survive context filtering")
	}
	if !listOnly.HasField("name") {
		t.Fatal("name should be visible in list context")
	}
}

func TestFilterContexts_OverridesOnlyApplyToRequestedContexts(t *testing.T) {
	raw := rawWidgets()
	raw.Contexts = map[string][]RawField{
		ContextForm: {{Name: "name", Required: true, ReadOnly: true}},
	}
	full, err := Normalize(raw, zerolog.Nop())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	listOnly := FilterContexts(raw, full, []string{ContextList})
	if listOnly.GetField("name").ReadOnly {
		t.Fatal("form-context override leaked into list context")
	}

	formOnly := FilterContexts(raw, full, []string{ContextForm})
	if !formOnly.GetField("name").ReadOnly {
		t.Fatal("form-context override not applied for form context")
	}
}

func TestSortContexts_Deterministic(t *testing.T) {
	a := SortContexts([]string{ContextForm, ContextDetail, ContextForm})
	b := SortContexts([]string{ContextDetail, ContextForm})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical sorted sets, got %v vs %v", a, b)
	}
}
