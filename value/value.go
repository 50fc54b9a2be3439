// Package value defines the JSON-like Value sum type exchanged between actors
// and the Stitch merge used to accumulate streamed partial results.
//
// Value is a closed set: Null, Bool, Number, String, List and Map implement
// the unexported isValue marker, so type switches over a Value are exhaustive.
// A nil Value is treated as Null everywhere in this package.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Value is a recursive JSON-like value.
type Value interface{ isValue() }

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number.
type Number float64

// String is a JSON string.
type String string

// List is an ordered JSON array.
type List []Value

// Map is a JSON object. Key order is irrelevant.
type Map map[string]Value

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}

// MarshalJSON renders Null as the JSON null literal.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

// Kind names the variant of v: null, boolean, number, string, list or map.
func Kind(v Value) string {
	switch v.(type) {
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Map:
		return "map"
	}
	return "null"
}

// IsEmpty reports whether v carries no information: null, "", an empty list or
// an empty map. Booleans and numbers are never empty.
func IsEmpty(v Value) bool {
	switch t := v.(type) {
	case nil, Null:
		return true
	case String:
		return t == ""
	case List:
		return len(t) == 0
	case Map:
		return len(t) == 0
	}
	return false
}

// Get walks a path of map keys and returns the nested value, or Null when any
// segment is missing.
func Get(v Value, path ...string) Value {
	cur := v
	for _, key := range path {
		m, ok := cur.(Map)
		if !ok {
			return Null{}
		}
		next, ok := m[key]
		if !ok {
			return Null{}
		}
		cur = next
	}
	if cur == nil {
		return Null{}
	}
	return cur
}

// Text returns a string rendering of v: strings are returned verbatim, null as
// the empty string and everything else as compact JSON.
func Text(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(t)
	case Bool:
		return strconv.FormatBool(bool(t))
	case Number:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	}
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", ToAny(v))
	}
	return string(b)
}

// Keys returns the sorted keys of a Map.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case Map:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = Clone(item)
		}
		return out
	}
	return v
}

// Equal reports deep equality of two values. nil and Null are equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch x := a.(type) {
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts decoded JSON-ish Go data into a Value. Unsupported types are
// converted through a JSON round trip; values that cannot be encoded become
// their fmt representation.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(t)
	case int:
		return Number(t)
	case int32:
		return Number(t)
	case int64:
		return Number(t)
	case uint:
		return Number(t)
	case uint32:
		return Number(t)
	case uint64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case []any:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = FromAny(item)
		}
		return out
	case []string:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = String(item)
		}
		return out
	case map[string]any:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return out
	case map[string]string:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = String(item)
		}
		return out
	}

	b, err := json.Marshal(v)
	if err != nil {
		return String(fmt.Sprintf("%v", v))
	}
	parsed, err := Parse(b)
	if err != nil {
		return String(string(b))
	}
	return parsed
}

// ToAny converts a Value into plain Go data (nil, bool, float64, string,
// []any, map[string]any) suitable for templates and encoders.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToAny(item)
		}
		return out
	}
	return nil
}

// Parse decodes JSON bytes into a Value.
func Parse(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("value: parse json: %w", err)
	}
	return FromAny(raw), nil
}

// Marshal encodes a Value as JSON.
func Marshal(v Value) ([]byte, error) {
	return json.Marshal(ToAny(v))
}
