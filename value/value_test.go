package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAnyToAny(t *testing.T) {
	in := map[string]any{
		"s":    "x",
		"n":    3,
		"b":    true,
		"null": nil,
		"list": []any{"a", 1.5},
		"map":  map[string]any{"k": "v"},
	}

	v := FromAny(in)

	m, ok := v.(Map)
	require.True(t, ok)
	assert.Equal(t, String("x"), m["s"])
	assert.Equal(t, Number(3), m["n"])
	assert.Equal(t, Bool(true), m["b"])
	assert.Equal(t, Null{}, m["null"])

	back := ToAny(v).(map[string]any)
	assert.Equal(t, float64(3), back["n"])
	assert.Equal(t, []any{"a", 1.5}, back["list"])
	assert.Nil(t, back["null"])
}

func TestFromAny_Struct(t *testing.T) {
	type point struct {
		X int    `json:"x"`
		Y string `json:"y"`
	}

	v := FromAny(point{X: 1, Y: "two"})

	assert.True(t, Equal(Map{"x": Number(1), "y": String("two")}, v))
}

func TestParseAndMarshal(t *testing.T) {
	v, err := Parse([]byte(`{"data":"New!","n":[1,null]}`))
	require.NoError(t, err)
	assert.Equal(t, "New!", Text(Get(v, "data")))

	out, err := Marshal(Map{"a": Null{}, "b": List{Number(1)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":[1]}`, string(out))

	_, err = Parse([]byte(`{`))
	assert.Error(t, err)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(Null{}))
	assert.True(t, IsEmpty(String("")))
	assert.True(t, IsEmpty(List{}))
	assert.True(t, IsEmpty(Map{}))
	assert.False(t, IsEmpty(Number(0)))
	assert.False(t, IsEmpty(Bool(false)))
	assert.False(t, IsEmpty(String(" ")))
}

func TestKind(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{nil, "null"},
		{Null{}, "null"},
		{Bool(true), "boolean"},
		{Number(1), "number"},
		{String("x"), "string"},
		{List{}, "list"},
		{Map{}, "map"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.v))
	}
}

func TestGetAndText(t *testing.T) {
	v := Map{"leaf": Map{"output_str": String("Hello")}}

	assert.Equal(t, "Hello", Text(Get(v, "leaf", "output_str")))
	assert.Equal(t, Null{}, Get(v, "leaf", "missing"))
	assert.Equal(t, Null{}, Get(String("x"), "a"))
	assert.Equal(t, "2.5", Text(Number(2.5)))
	assert.Equal(t, `{"a":1}`, Text(Map{"a": Number(1)}))
	assert.Equal(t, "", Text(nil))
}

func TestClone(t *testing.T) {
	orig := Map{"l": List{String("a")}}
	cp := Clone(orig).(Map)
	cp["l"].(List)[0] = String("b")

	assert.Equal(t, String("a"), orig["l"].(List)[0])
}
