package fields

import (
	"encoding/json"
	"fmt"
	"time"

	"formline/internal/domain"
)

// Validator checks a submitted value against a field definition.
type Validator func(f domain.FormField, value any) error

// Defaulter produces the default value for an empty field.
type Defaulter func(f domain.FormField) any

// Type describes one field type the builder can place on a form. Choice
// types carry an option list that submissions must pick from.
type Type struct {
	Tag      string
	Choice   bool
	Validate Validator
	Default  Defaulter
}

// Registry maps a field-type tag to its capabilities. It is passed
// explicitly into the version store and the submission router; there is
// no ambient global.
type Registry struct {
	types map[string]Type
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]Type{}}
}

func (r *Registry) Register(t Type) error {
	if t.Tag == "" {
		return fmt.Errorf("field type tag required")
	}
	if _, exists := r.types[t.Tag]; exists {
		return fmt.Errorf("field type %s already registered", t.Tag)
	}
	if t.Validate == nil {
		return fmt.Errorf("field type %s missing validator", t.Tag)
	}
	r.types[t.Tag] = t
	return nil
}

func (r *Registry) Lookup(tag string) (Type, bool) {
	t, ok := r.types[tag]
	return t, ok
}

// Builtin returns a registry with the standard palette types.
func Builtin() *Registry {
	r := NewRegistry()
	for _, t := range []Type{
		{Tag: "text", Validate: validateText, Default: func(domain.FormField) any { return "" }},
		{Tag: "number", Validate: validateNumber, Default: func(domain.FormField) any { return nil }},
		{Tag: "date", Validate: validateDate, Default: func(domain.FormField) any { return "" }},
		{Tag: "checkbox", Validate: validateCheckbox, Default: func(domain.FormField) any { return false }},
		{Tag: "select", Choice: true, Validate: validateChoice, Default: defaultChoice},
		{Tag: "radio", Choice: true, Validate: validateChoice, Default: defaultChoice},
		{Tag: "rating", Validate: validateNumber, Default: func(domain.FormField) any { return nil }},
	} {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func validateText(f domain.FormField, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if f.MaxLength != nil && len(s) > *f.MaxLength {
		return fmt.Errorf("longer than %d characters", *f.MaxLength)
	}
	return nil
}

func validateNumber(f domain.FormField, value any) error {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		n = parsed
	default:
		return fmt.Errorf("must be a number")
	}
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("below minimum %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("above maximum %v", *f.Max)
	}
	return nil
}

func validateDate(_ domain.FormField, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a date string")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("must be a date in YYYY-MM-DD form")
	}
	return nil
}

func validateCheckbox(_ domain.FormField, value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("must be a boolean")
	}
	return nil
}

func validateChoice(f domain.FormField, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	for _, opt := range f.Options {
		if opt.Value == s {
			return nil
		}
	}
	return fmt.Errorf("value %q not among declared options", s)
}

func defaultChoice(f domain.FormField) any {
	if len(f.Options) > 0 {
		return f.Options[0].Value
	}
	return ""
}
