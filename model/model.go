package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// Finish reasons normalized across providers.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Request captures the normalized model input built by the agent loop and
// the chat processors.
type Request struct {
	Messages    []core.AgentTurn `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"` // Overrides the adapter default when set
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into t.
func (t *TokenUsage) Add(u *TokenUsage) {
	if u == nil {
		return
	}
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.TotalTokens += u.TotalTokens
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry a text Delta; the final chunk carries the complete Text, the
// aggregated ToolCalls and the FinishReason.
type Response struct {
	ID           string          `json:"id,omitempty"`
	Partial      bool            `json:"partial"`
	Delta        string          `json:"delta,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the agent loop and chat
// processors to drive generation. Both channels are closed when generation
// ends; at most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate call and returns the final response. When the
// model only emits partial chunks the deltas are concatenated.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final  *Response
		deltas strings.Builder
	)

	for resp := range respCh {
		if resp.Partial {
			deltas.WriteString(resp.Delta)
			continue
		}
		r := resp
		final = &r
	}

	if err := <-errCh; err != nil {
		return Response{}, err
	}

	if final == nil {
		return Response{Text: deltas.String(), FinishReason: FinishReasonStop}, nil
	}

	return *final, nil
}

// Script is one scripted MockModel reply.
type Script struct {
	Text         string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        *TokenUsage
	Err          error
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Scripted replies are consumed in order (the last one repeats); without a
// script it answers canned responses keyed by the last user message.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	scripts   []Script
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// AddScript appends scripted replies.
func (m *MockModel) AddScript(scripts ...Script) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scripts = append(m.scripts, scripts...)

	return m
}

// Requests returns a copy of the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) (Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.scripts) > 0 {
		s := m.scripts[0]
		if len(m.scripts) > 1 {
			m.scripts = m.scripts[1:]
		}
		return s, nil
	}

	if len(req.Messages) == 0 {
		return Script{}, fmt.Errorf("no messages provided")
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			prompt = req.Messages[i].Text()
			break
		}
	}

	full := m.responses[prompt]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", prompt)
	}

	return Script{Text: full}, nil
}

// Generate implements Model; emits optional streaming word chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		script, err := m.next(req)
		if err == nil {
			err = script.Err
		}
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream && script.Text != "" {
			for _, word := range strings.SplitAfter(script.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: word}:
				}
			}
		}

		finish := script.FinishReason
		if finish == "" {
			finish = FinishReasonStop
			if len(script.ToolCalls) > 0 {
				finish = FinishReasonToolCalls
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{
			Partial:      false,
			Text:         script.Text,
			ToolCalls:    append([]core.ToolCall(nil), script.ToolCalls...),
			FinishReason: finish,
			Usage:        script.Usage,
		}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
