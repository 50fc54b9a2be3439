package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/value"
)

func TestRender(t *testing.T) {
	data := value.Map{
		"leaf":  value.Map{"output_str": value.String("Hello, World!")},
		"input": value.Map{"data": value.String("New!"), "n": value.Number(3)},
	}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"plain text passthrough", "no markup", "no markup"},
		{"two references", "{{leaf.output_str}} {{input.data}}", "Hello, World! New!"},
		{"integral number", "n={{ input.n }}", "n=3"},
		{"missing renders empty", "[{{ missing.x }}]", "[]"},
		{"no html escaping", "{{ input.data }} <b>", "New! <b>"},
		{"control flow", "{% if input.data %}yes{% endif %}", "yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{% if %}", value.Map{})
	assert.Error(t, err)
}

func TestIdentifiers(t *testing.T) {
	tests := []struct {
		tpl  string
		want []string
	}{
		{"{{leaf.output_str}} {{input.data}}", []string{"input", "leaf"}},
		{"{{ a.b | upper }} {{ c|default:d }}", []string{"a", "c", "d"}},
		{`{% if x and not y %}{{ "z.literal" }}{% endif %}`, []string{"x", "y"}},
		{"{% for item in items %}{{ item.name }}{% endfor %}", []string{"item", "items"}},
		{"plain", []string{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Identifiers(tt.tpl), tt.tpl)
	}
}

func TestMapIdentifiers(t *testing.T) {
	m := value.Map{
		"input_str": value.String("{{ input.question }}"),
		"nested":    value.List{value.String("{{ search.results }}"), value.Number(1)},
		"plain":     value.String("x"),
	}

	assert.Equal(t, []string{"input", "search"}, MapIdentifiers(m))
}

func TestRenderValue(t *testing.T) {
	data := value.Map{
		"input":  value.Map{"question": value.String("why?"), "tags": value.List{value.String("a")}},
		"search": value.Map{"count": value.Number(2)},
	}
	in := value.Map{
		"q":     value.String("Q: {{ input.question }}"),
		"tags":  value.String("{{ input.tags }}"),
		"count": value.String("{{ search.count }}"),
		"keep":  value.Bool(true),
	}

	out, err := RenderValue(Default(), in, data)
	require.NoError(t, err)

	m := out.(value.Map)
	assert.Equal(t, value.String("Q: why?"), m["q"])
	assert.True(t, value.Equal(value.List{value.String("a")}, m["tags"]))
	assert.Equal(t, value.Number(2), m["count"])
	assert.Equal(t, value.Bool(true), m["keep"])
}
