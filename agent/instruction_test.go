package agent

import (
	"errors"
	"testing"

	"github.com/hupe1980/agentgraph/value"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(value.Map) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	if !inst.IsStatic() {
		t.Fatalf("expected static instruction")
	}
	got, err := inst.Resolve(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "static instruction" {
		t.Fatalf("expected 'static instruction', got %q", got)
	}
}

func TestInstruction_Template(t *testing.T) {
	inst := NewInstructionFromText("Question: {{ input.data }}")
	got, err := inst.Resolve(nil, value.Map{"input": value.Map{"data": value.String("why?")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Question: why?" {
		t.Fatalf("expected rendered template, got %q", got)
	}
}

func TestInstruction_Provider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "dynamic"})
	if inst.IsStatic() {
		t.Fatalf("expected dynamic instruction")
	}
	got, err := inst.Resolve(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "dynamic" {
		t.Fatalf("expected 'dynamic', got %q", got)
	}
}

func TestInstruction_ProviderError(t *testing.T) {
	want := errors.New("boom")
	inst := NewInstructionFromProvider(mockProvider{err: want})
	if _, err := inst.Resolve(nil, nil); !errors.Is(err, want) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestInstruction_Func(t *testing.T) {
	inst := NewInstructionFromFunc(func(in value.Map) (string, error) {
		return "keys=" + value.Text(value.List{value.String(in.Keys()[0])}), nil
	})
	got, err := inst.Resolve(nil, value.Map{"input": value.Null{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `keys=["input"]` {
		t.Fatalf("unexpected instruction %q", got)
	}
	if NewInstructionFromText("").IsEmpty() != true {
		t.Fatalf("expected empty instruction")
	}
}
