package fields

import (
	"testing"

	"formline/internal/domain"
)

func TestTextMaxLength(t *testing.T) {
	reg := Builtin()
	ft, ok := reg.Lookup("text")
	if !ok {
		t.Fatalf("text type missing")
	}
	maxLen := 5
	f := domain.FormField{ID: "name", Type: "text", MaxLength: &maxLen}
	if err := ft.Validate(f, "short"); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := ft.Validate(f, "far too long"); err == nil {
		t.Fatalf("expected max length error")
	}
	if err := ft.Validate(f, 42); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestNumberBounds(t *testing.T) {
	reg := Builtin()
	ft, _ := reg.Lookup("number")
	min, max := 1.0, 10.0
	f := domain.FormField{ID: "qty", Type: "number", Min: &min, Max: &max}
	if err := ft.Validate(f, 5.0); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := ft.Validate(f, 0.5); err == nil {
		t.Fatalf("expected below-minimum error")
	}
	if err := ft.Validate(f, 11.0); err == nil {
		t.Fatalf("expected above-maximum error")
	}
	if err := ft.Validate(f, "5"); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestChoiceMembership(t *testing.T) {
	reg := Builtin()
	ft, _ := reg.Lookup("select")
	if !ft.Choice {
		t.Fatalf("select should be a choice type")
	}
	f := domain.FormField{ID: "color", Type: "select", Options: []domain.FieldOption{
		{Value: "red"}, {Value: "blue"},
	}}
	if err := ft.Validate(f, "red"); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := ft.Validate(f, "green"); err == nil {
		t.Fatalf("expected unknown option error")
	}
	if ft.Default(f) != "red" {
		t.Fatalf("expected first option as default")
	}
}

func TestDateFormat(t *testing.T) {
	reg := Builtin()
	ft, _ := reg.Lookup("date")
	f := domain.FormField{ID: "due", Type: "date"}
	if err := ft.Validate(f, "2025-06-01"); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	if err := ft.Validate(f, "06/01/2025"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := Builtin()
	err := reg.Register(Type{Tag: "text", Validate: validateText})
	if err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
