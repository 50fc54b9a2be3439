package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStitch(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want Value
	}{
		{"strings concatenate", String("Hel"), String("lo"), String("Hello")},
		{"null left", Null{}, String("x"), String("x")},
		{"nil left", nil, Number(1), Number(1)},
		{"empty right keeps left", Number(3), Null{}, Number(3)},
		{"empty string right keeps left scalar", Bool(true), String(""), Bool(true)},
		{"scalar last non-empty wins", Number(1), Number(2), Number(2)},
		{"false is not empty", Bool(true), Bool(false), Bool(false)},
		{"type change takes right", String("a"), Number(2), Number(2)},
		{
			"maps merge recursively",
			Map{"text": String("Hel"), "done": Bool(false)},
			Map{"text": String("lo"), "usage": Number(4)},
			Map{"text": String("Hello"), "done": Bool(false), "usage": Number(4)},
		},
		{
			"lists merge prefix and append tail",
			List{String("a"), Map{"k": String("x")}},
			List{String("b"), Map{"k": String("y")}, String("c")},
			List{String("ab"), Map{"k": String("xy")}, String("c")},
		},
		{
			"shorter right list keeps left tail",
			List{String("a"), String("b")},
			List{String("c")},
			List{String("ac"), String("b")},
		},
		{"both nil", nil, nil, Null{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Stitch(tt.a, tt.b)
			assert.Truef(t, Equal(tt.want, got), "want %v, got %v", ToAny(tt.want), ToAny(got))
		})
	}
}

func TestStitch_DoesNotMutateInputs(t *testing.T) {
	a := Map{"text": String("a")}
	b := Map{"text": String("b")}

	_ = Stitch(a, b)

	assert.Equal(t, String("a"), a["text"])
	assert.Equal(t, String("b"), b["text"])
}

func TestStitch_Associative(t *testing.T) {
	chains := [][3]Value{
		{String("He"), String("ll"), String("o")},
		{
			Map{"content": String("Hi"), "meta": Map{"n": Number(1)}},
			Map{"content": String(" there")},
			Map{"content": String("!"), "meta": Map{"n": Number(2)}},
		},
		{
			List{Map{"name": String("get_")}},
			List{Map{"name": String("weather")}, Map{"name": String("x")}},
			List{Map{"args": String("{}")}, Map{"name": String("y")}},
		},
		{Null{}, Map{"a": String("1")}, Map{"a": String("2"), "b": Null{}}},
	}

	for _, c := range chains {
		left := Stitch(Stitch(c[0], c[1]), c[2])
		right := Stitch(c[0], Stitch(c[1], c[2]))
		assert.Truef(t, Equal(left, right), "left %v, right %v", ToAny(left), ToAny(right))
	}
}

func TestStitchAll(t *testing.T) {
	got := StitchAll(
		Map{"output_str": String("Hello")},
		Map{"output_str": String(", ")},
		Map{"output_str": String("World!")},
	)

	assert.Equal(t, "Hello, World!", Text(Get(got, "output_str")))
}
