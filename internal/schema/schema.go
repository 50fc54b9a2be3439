// Package schema derives JSON schemas for processor inputs and tool
// arguments and checks decoded arguments against them.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldError reports the first argument that does not satisfy a schema.
type FieldError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// Of builds an object schema from the exported fields of a struct (or
// pointer to struct). The json tag names a property, the description and
// enum tags annotate it. Non-pointer fields without omitempty are required.
// Anything that is not a struct yields an empty object schema.
func Of(v any) map[string]any {
	props := map[string]any{}
	out := map[string]any{"type": "object", "properties": props}

	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return out
	}

	var required []string

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}

		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}

		prop := map[string]any{"type": kindOf(f.Type)}
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if e := f.Tag.Get("enum"); e != "" {
			var items []any
			for _, s := range strings.Split(e, ",") {
				items = append(items, strings.TrimSpace(s))
			}
			prop["enum"] = items
		}
		props[name] = prop

		if f.Type.Kind() != reflect.Ptr && !strings.Contains(","+opts+",", ",omitempty,") {
			required = append(required, name)
		}
	}

	if len(required) > 0 {
		out["required"] = required
	}

	return out
}

func kindOf(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return kindOf(t.Elem())
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// Validate checks decoded arguments against an object schema. Required
// properties, property types and enums are enforced; unknown properties
// pass. The schema may come from Of or from decoded JSON/YAML.
func Validate(args map[string]any, s map[string]any) error {
	for _, name := range stringList(s["required"]) {
		if _, ok := args[name]; !ok {
			return &FieldError{Field: name, Message: "required field is missing"}
		}
	}

	props, _ := s["properties"].(map[string]any)

	for name, v := range args {
		prop, ok := props[name].(map[string]any)
		if !ok || v == nil {
			continue
		}

		want, _ := prop["type"].(string)
		if !matches(v, want) {
			return &FieldError{Field: name, Value: v, Message: fmt.Sprintf("expected %s, got %T", want, v)}
		}

		if enum, ok := prop["enum"].([]any); ok && !contains(enum, v) {
			return &FieldError{Field: name, Value: v, Message: fmt.Sprintf("must be one of %v", enum)}
		}
	}

	return nil
}

func matches(v any, want string) bool {
	rv := reflect.ValueOf(v)

	switch want {
	case "string":
		return rv.Kind() == reflect.String
	case "boolean":
		return rv.Kind() == reflect.Bool
	case "integer":
		switch {
		case rv.CanInt(), rv.CanUint():
			return true
		case rv.CanFloat():
			f := rv.Float()
			return f == float64(int64(f))
		}
		return false
	case "number":
		return rv.CanInt() || rv.CanUint() || rv.CanFloat()
	case "array":
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case "object":
		return rv.Kind() == reflect.Map
	}

	return true
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(enum []any, v any) bool {
	s := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == s {
			return true
		}
	}
	return false
}
