package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/value"
)

func newTestEnv(emitted *[]value.Value) *Env {
	return NewEnv(context.Background(), "s1", "r1", "leaf", nil, func(v value.Value) error {
		*emitted = append(*emitted, v)
		return nil
	}, logging.NoOpLogger{})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, nil))

	assert.Equal(t, []string{"builtin/echo", "builtin/text_template"}, r.Keys())

	err := r.Register(EchoSpec())
	assert.Error(t, err, "duplicate registration")

	_, err = r.Lookup("missing", "builtin")
	assert.ErrorIs(t, err, ErrUnknownProcessor)

	p, spec, err := r.New(core.ActorConfig{Name: "leaf", ProcessorSlug: "echo", ProviderSlug: "builtin"})
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, p)
	assert.Equal(t, "builtin/echo", spec.Key())
}

func TestDecode(t *testing.T) {
	type params struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Temp  *float64 `json:"temp"`
	}

	var p params
	err := Decode(value.Map{"name": value.String("x"), "count": value.String("3"), "temp": value.Number(0.5)}, &p)
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name)
	assert.Equal(t, 3, p.Count)
	require.NotNil(t, p.Temp)
	assert.Equal(t, 0.5, *p.Temp)

	var empty params
	require.NoError(t, Decode(value.Map(nil), &empty))
	assert.Equal(t, params{}, empty)
}

func TestEcho(t *testing.T) {
	tests := []struct {
		name        string
		cfg         EchoConfig
		wantOutput  value.Value
		wantEmitted int
	}{
		{
			name:       "returns output",
			wantOutput: value.Map{"output_str": value.String("Hello, World!")},
		},
		{
			name:        "streams chunks",
			cfg:         EchoConfig{Stream: true, ChunkSize: 5},
			wantOutput:  nil,
			wantEmitted: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var emitted []value.Value
			e := &Echo{cfg: tt.cfg}

			out, err := e.Process(newTestEnv(&emitted), value.Map{"input_str": value.String("Hello, World!")})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, out)
			assert.Len(t, emitted, tt.wantEmitted)

			if tt.wantEmitted > 0 {
				stitched := value.StitchAll(emitted...)
				assert.Equal(t, value.Map{"output_str": value.String("Hello, World!")}, stitched)
			}
		})
	}
}

func TestTextTemplate(t *testing.T) {
	p, err := TextTemplateSpec(nil).New(core.ActorConfig{
		Name:   "greeting",
		Config: value.Map{"template": value.String("Hi {{ name }}!")},
	})
	require.NoError(t, err)

	out, err := p.Process(newTestEnv(new([]value.Value)), value.Map{"name": value.String("Ada")})
	require.NoError(t, err)
	assert.Equal(t, value.Map{"output_str": value.String("Hi Ada!")}, out)
}

func TestChat(t *testing.T) {
	t.Run("non streaming records usage", func(t *testing.T) {
		m := model.NewMockModel("mock", "mock").AddScript(model.Script{
			Text:  "pong",
			Usage: &model.TokenUsage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3},
		})
		c := NewChat(m, ChatConfig{SystemMessage: "be brief"})

		env := newTestEnv(new([]value.Value))
		out, err := c.Process(env, value.Map{"prompt": value.String("ping")})
		require.NoError(t, err)
		assert.Equal(t, value.Map{"text": value.String("pong")}, out)
		assert.Equal(t, value.Number(3), value.Get(env.Usage(), "total_tokens"))

		reqs := m.Requests()
		require.Len(t, reqs, 1)
		require.Len(t, reqs[0].Messages, 2)
		assert.Equal(t, core.RoleSystem, reqs[0].Messages[0].Role)
	})

	t.Run("streaming emits deltas", func(t *testing.T) {
		m := model.NewMockModel("mock", "mock").AddScript(model.Script{Text: "a b c"})
		c := NewChat(m, ChatConfig{Stream: true})

		var emitted []value.Value
		out, err := c.Process(newTestEnv(&emitted), value.Map{"prompt": value.String("x")})
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Equal(t, value.Map{"text": value.String("a b c")}, value.StitchAll(emitted...))
	})

	t.Run("model error", func(t *testing.T) {
		m := model.NewMockModel("mock", "mock").AddScript(model.Script{Err: errors.New("boom")})
		c := NewChat(m, ChatConfig{})

		_, err := c.Process(newTestEnv(new([]value.Value)), value.Map{"prompt": value.String("x")})
		assert.ErrorContains(t, err, "boom")
	})
}

func TestEnv_RecordUsage(t *testing.T) {
	env := newTestEnv(new([]value.Value))
	env.RecordUsage(value.Map{"total_tokens": value.Number(3), "model": value.String("m")})
	env.RecordUsage(value.Map{"total_tokens": value.Number(4)})

	assert.Equal(t, value.Map{"total_tokens": value.Number(7), "model": value.String("m")}, env.Usage())
}
