package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/schema"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// ProviderBuiltin is the provider slug of the processors shipped with the runtime.
const ProviderBuiltin = "builtin"

// EchoInput is the input of the echo processor.
type EchoInput struct {
	InputStr string `json:"input_str" description:"Text to echo back"`
}

// EchoConfig configures the echo processor.
type EchoConfig struct {
	// Stream emits the output in chunks of ChunkSize runes.
	Stream    bool `json:"stream,omitempty"`
	ChunkSize int  `json:"chunk_size,omitempty"`
}

// Echo returns its input_str as output_str.
type Echo struct {
	cfg EchoConfig
}

// Process implements Processor.
func (e *Echo) Process(env *Env, input value.Map) (value.Value, error) {
	var in EchoInput
	if err := Decode(input, &in); err != nil {
		return nil, err
	}

	if !e.cfg.Stream {
		return value.Map{"output_str": value.String(in.InputStr)}, nil
	}

	size := e.cfg.ChunkSize
	if size <= 0 {
		size = 8
	}

	for _, chunk := range chunkRunes(in.InputStr, size) {
		if err := env.Context.Err(); err != nil {
			return nil, err
		}
		if err := env.Emit(value.Map{"output_str": value.String(chunk)}); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func chunkRunes(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		chunks = append(chunks, s[:i])
		s = s[i:]
	}
	return chunks
}

// EchoSpec registers the echo processor.
func EchoSpec() Spec {
	return Spec{
		ProcessorSlug: "echo",
		ProviderSlug:  ProviderBuiltin,
		Description:   "Echo the input text",
		InputSchema:   schema.Of(EchoInput{}),
		New: func(cfg core.ActorConfig) (Processor, error) {
			var c EchoConfig
			if err := Decode(cfg.Config, &c); err != nil {
				return nil, err
			}
			return &Echo{cfg: c}, nil
		},
	}
}

// TextTemplateConfig configures the text_template processor.
type TextTemplateConfig struct {
	Template string `json:"template"`
}

// TextTemplate renders its configured template against its input.
type TextTemplate struct {
	cfg      TextTemplateConfig
	renderer template.Renderer
}

// Process implements Processor.
func (t *TextTemplate) Process(_ *Env, input value.Map) (value.Value, error) {
	out, err := t.renderer.Render(t.cfg.Template, input)
	if err != nil {
		return nil, err
	}
	return value.Map{"output_str": value.String(strings.TrimSpace(out))}, nil
}

// TextTemplateSpec registers the text_template processor.
func TextTemplateSpec(renderer template.Renderer) Spec {
	if renderer == nil {
		renderer = template.Default()
	}
	return Spec{
		ProcessorSlug: "text_template",
		ProviderSlug:  ProviderBuiltin,
		Description:   "Render a text template against the input",
		InputSchema:   map[string]any{"type": "object", "properties": map[string]any{}},
		New: func(cfg core.ActorConfig) (Processor, error) {
			var c TextTemplateConfig
			if err := Decode(cfg.Config, &c); err != nil {
				return nil, err
			}
			return &TextTemplate{cfg: c, renderer: renderer}, nil
		},
	}
}

// RegisterBuiltins registers the echo and text_template processors.
func RegisterBuiltins(r *Registry, renderer template.Renderer) error {
	for _, s := range []Spec{EchoSpec(), TextTemplateSpec(renderer)} {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
