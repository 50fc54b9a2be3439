package agent

import (
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// Provider supplies dynamic instruction text at runtime, derived from the
// run input.
type Provider interface {
	Instruction(input value.Map) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(input value.Map) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(input value.Map) (string, error) { return f(input) }

// Instruction represents either a template string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a (template) string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(input value.Map) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsEmpty reports whether the instruction has neither text nor provider.
func (i Instruction) IsEmpty() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text. Template text is rendered against
// input; a provider is invoked with it.
func (i Instruction) Resolve(r template.Renderer, input value.Map) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(input)
	}
	if !template.IsTemplate(i.text) {
		return i.text, nil
	}
	if r == nil {
		r = template.Default()
	}
	return r.Render(i.text, input)
}
