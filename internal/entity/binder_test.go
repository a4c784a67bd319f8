package entity

import (
	"errors"
	"reflect"
	"testing"

	"tabular/internal/schema"
)

func widgetSchema() *schema.Schema {
	return &schema.Schema{
		Name:       "widgets",
		Table:      "widgets",
		PrimaryKey: schema.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		SoftDelete: true,
		Fields: []schema.Field{
			{Name: "id", Type: "uuid", AutoIncrement: true},
			{Name: "name", Type: "string", Required: true},
			{Name: "price", Type: "decimal"},
			{Name: "active", Type: "boolean"},
			{Name: "total", Type: "decimal", Computed: true},
			{Name: "created_at", Type: "datetime", ReadOnly: true},
		},
	}
}

func TestBind_ConfiguresInstanceFromSchema(t *testing.T) {
	inst, err := Bind(widgetSchema())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if inst.Table != "widgets" {
		t.Fatalf("expected table widgets, got %s", inst.Table)
	}
	if inst.PrimaryKey.Field != "id" {
		t.Fatalf("expected pk id, got %s", inst.PrimaryKey.Field)
	}
	if !inst.SoftDelete {
		t.Fatal("expected soft delete")
	}

	// Editability is inferred: not readonly, not auto, not computed.
	want := []string{"name", "price", "active"}
	if !reflect.DeepEqual(inst.Fillable, want) {
		t.Fatalf("expected fillable %v, got %v", want, inst.Fillable)
	}
}

func TestBind_IsPure(t *testing.T) {
	s := widgetSchema()
	a, err := Bind(s)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, err := Bind(s)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if a.Table != b.Table || !reflect.DeepEqual(a.Fillable, b.Fillable) || !reflect.DeepEqual(a.Casts, b.Casts) {
		t.Fatal("two binds of the same schema must produce identical configuration")
	}
}

func TestBind_RefusesMissingTableBinding(t *testing.T) {
	s := widgetSchema()
	s.Table = ""
	if _, err := Bind(s); !errors.Is(err, schema.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing table, got %v", err)
	}

	if _, err := Bind(nil); !errors.Is(err, schema.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for nil schema, got %v", err)
	}
}

func TestWithKey_DoesNotMutateReceiver(t *testing.T) {
	inst, err := Bind(widgetSchema())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	scoped := inst.WithKey(5)
	if scoped.KeyValue != 5 {
		t.Fatalf("expected key 5, got %v", scoped.KeyValue)
	}
	if inst.KeyValue != nil {
		t.Fatal("WithKey must not mutate the receiver")
	}
}

func TestCast_CoercesByFieldType(t *testing.T) {
	inst, err := Bind(widgetSchema())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if v, err := inst.Cast("price", "12.5"); err != nil || v != 12.5 {
		t.Fatalf("expected 12.5, got %v (%v)", v, err)
	}
	if v, err := inst.Cast("active", "true"); err != nil || v != true {
		t.Fatalf("expected true, got %v (%v)", v, err)
	}
	if v, err := inst.Cast("name", "hello"); err != nil || v != "hello" {
		t.Fatalf("expected passthrough, got %v (%v)", v, err)
	}
	if v, err := inst.Cast("price", nil); err != nil || v != nil {
		t.Fatalf("expected nil passthrough, got %v (%v)", v, err)
	}

	if _, err := inst.Cast("active", "maybe"); err == nil {
		t.Fatal("expected cast error for invalid boolean")
	}
	if _, err := inst.Cast("price", "abc"); err == nil {
		t.Fatal("expected cast error for invalid number")
	}
}

func TestCast_Datetime(t *testing.T) {
	inst, err := Bind(widgetSchema())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := inst.Cast("created_at", "2024-06-01T10:00:00Z"); err != nil {
		t.Fatalf("datetime cast: %v", err)
	}
	if _, err := inst.Cast("created_at", "not-a-date"); err == nil {
		t.Fatal("expected cast error for invalid datetime")
	}
}
