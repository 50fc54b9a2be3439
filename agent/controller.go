package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// State is a controller state.
type State string

// Controller states.
const (
	StateAwaitInput       State = "AWAIT_INPUT"
	StateModelCall        State = "MODEL_CALL"
	StateStreamingOutput  State = "STREAMING_OUTPUT"
	StateAwaitToolResults State = "AWAIT_TOOL_RESULTS"
	StateDone             State = "DONE"
	StateError            State = "ERROR"
)

// EntryType tags a ControllerData entry.
type EntryType string

// Controller log entry types.
const (
	EntryInput      EntryType = "INPUT"
	EntryAssistant  EntryType = "ASSISTANT"
	EntryToolCalls  EntryType = "TOOL_CALLS"
	EntryToolResult EntryType = "TOOL_RESULT"
	EntryError      EntryType = "ERROR"
	EntryDone       EntryType = "DONE"
)

// ErrInvalidState is returned when a controller operation is called in the
// wrong state.
var ErrInvalidState = errors.New("invalid controller state")

// ControllerData is one entry of the controller's typed activity log.
type ControllerData struct {
	Type       EntryType       `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []core.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Outcome is the result of one model step.
type Outcome struct {
	// Dispatch holds the tool calls that must be sent to tool actors.
	Dispatch []core.ToolCall
	// Done is set when the loop ended; Text is the final answer.
	Done      bool
	Truncated bool
	Text      string
	// Err is set when the model call failed.
	Err error
}

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	SystemMessage Instruction
	UserMessage   Instruction
	Tools         []model.ToolDefinition
	MaxSteps      int
	Stream        bool
	Temperature   *float64
	Renderer      template.Renderer
}

// Controller runs the tool-calling conversation loop against a model. It
// is not safe for concurrent use; the agent actor drives it from its own
// goroutine.
type Controller struct {
	model   model.Model
	opts    ControllerOptions
	tools   map[string]struct{}
	limiter *core.StepLimiter

	state   State
	turns   []core.AgentTurn
	pending map[string]struct{}
	results []core.AgentTurn
	log     []ControllerData
	usage   model.TokenUsage

	mu sync.Mutex // guards log for readers outside the agent goroutine
}

// NewController creates a controller in AWAIT_INPUT.
func NewController(m model.Model, optFns ...func(o *ControllerOptions)) *Controller {
	opts := ControllerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	tools := make(map[string]struct{}, len(opts.Tools))
	for _, t := range opts.Tools {
		tools[t.Function.Name] = struct{}{}
	}

	return &Controller{
		model:   m,
		opts:    opts,
		tools:   tools,
		limiter: core.NewStepLimiter(opts.MaxSteps),
		state:   StateAwaitInput,
		pending: map[string]struct{}{},
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Turns returns the conversation turns.
func (c *Controller) Turns() []core.AgentTurn { return append([]core.AgentTurn(nil), c.turns...) }

// History returns the turns worth persisting (everything but system turns).
func (c *Controller) History() []core.AgentTurn {
	out := make([]core.AgentTurn, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Role != core.RoleSystem {
			out = append(out, t)
		}
	}
	return out
}

// Log returns a copy of the activity log.
func (c *Controller) Log() []ControllerData {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]ControllerData(nil), c.log...)
}

// Usage returns the accumulated token usage.
func (c *Controller) Usage() model.TokenUsage { return c.usage }

// Steps returns the number of model calls made.
func (c *Controller) Steps() int { return c.limiter.Count() }

// Start consumes the user input: it renders the user message, prepends the
// system message and prior history and moves to MODEL_CALL.
func (c *Controller) Start(history []core.AgentTurn, input value.Map) error {
	if c.state != StateAwaitInput {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, c.state)
	}

	user, err := c.userMessage(input)
	if err != nil {
		return fmt.Errorf("render user message: %w", err)
	}

	if !c.opts.SystemMessage.IsEmpty() {
		system, err := c.opts.SystemMessage.Resolve(c.opts.Renderer, input)
		if err != nil {
			return fmt.Errorf("render system message: %w", err)
		}
		if system != "" {
			c.turns = append(c.turns, core.NewTextTurn(core.RoleSystem, system))
		}
	}

	c.turns = append(c.turns, history...)
	c.turns = append(c.turns, core.NewTextTurn(core.RoleUser, user))
	c.record(ControllerData{Type: EntryInput, Content: user})
	c.state = StateModelCall

	return nil
}

func (c *Controller) userMessage(input value.Map) (string, error) {
	if !c.opts.UserMessage.IsEmpty() {
		return c.opts.UserMessage.Resolve(c.opts.Renderer, input)
	}

	// Without a template the input actor's payload is the message.
	in := input[core.InputActorName]
	if s := value.Get(in, "data"); !value.IsNull(s) {
		return value.Text(s), nil
	}
	return value.Text(in), nil
}

// Step performs one MODEL_CALL. Text deltas are passed to onDelta while
// the controller is in STREAMING_OUTPUT.
func (c *Controller) Step(ctx context.Context, onDelta func(delta string) error) Outcome {
	if c.state != StateModelCall {
		return c.fail(fmt.Errorf("%w: step in %s", ErrInvalidState, c.state))
	}

	if err := c.limiter.Increment(); err != nil {
		return c.truncate()
	}

	req := model.Request{
		Messages:    c.Turns(),
		Tools:       c.opts.Tools,
		Stream:      c.opts.Stream,
		Temperature: c.opts.Temperature,
	}

	respCh, errCh := c.model.Generate(ctx, req)

	var (
		final    *model.Response
		streamed strings.Builder
	)

	for resp := range respCh {
		if resp.Partial {
			if resp.Delta == "" {
				continue
			}
			c.state = StateStreamingOutput
			streamed.WriteString(resp.Delta)
			if onDelta != nil {
				if err := onDelta(resp.Delta); err != nil {
					// Keep draining so the model goroutine can exit.
					for range respCh {
					}
					<-errCh
					return c.fail(err)
				}
			}
			continue
		}
		r := resp
		final = &r
	}

	if err := <-errCh; err != nil {
		return c.fail(err)
	}

	if final == nil {
		final = &model.Response{Text: streamed.String(), FinishReason: model.FinishReasonStop}
	}
	c.usage.Add(final.Usage)

	if len(final.ToolCalls) == 0 {
		text := final.Text
		if text == "" {
			text = streamed.String()
		}
		c.turns = append(c.turns, core.NewTextTurn(core.RoleAssistant, text))
		c.record(ControllerData{Type: EntryAssistant, Content: text})
		c.record(ControllerData{Type: EntryDone, Content: text})
		c.state = StateDone
		return Outcome{Done: true, Text: text}
	}

	calls := normalizeCalls(final.ToolCalls)
	assistant := core.NewTextTurn(core.RoleAssistant, final.Text)
	assistant.ToolCalls = calls
	c.turns = append(c.turns, assistant)
	c.record(ControllerData{Type: EntryToolCalls, Content: final.Text, ToolCalls: calls})

	c.state = StateAwaitToolResults
	c.pending = map[string]struct{}{}
	c.results = nil

	var dispatch []core.ToolCall
	for _, call := range calls {
		c.pending[call.ID] = struct{}{}
		if _, ok := c.tools[call.Name]; !ok {
			continue
		}
		dispatch = append(dispatch, call)
	}

	// Unknown tools resolve immediately.
	for _, call := range calls {
		if _, ok := c.tools[call.Name]; !ok {
			c.Resolve(call.ID, "", fmt.Errorf("tool %s not found", call.Name))
		}
	}

	return Outcome{Dispatch: dispatch}
}

// Resolve records the result of one tool call. A failed call becomes an
// "Error: <message>" tool turn. It reports whether every pending call has
// been resolved, in which case the controller is back in MODEL_CALL.
func (c *Controller) Resolve(callID, result string, err error) bool {
	if c.state != StateAwaitToolResults {
		return false
	}
	if _, ok := c.pending[callID]; !ok {
		return false
	}
	delete(c.pending, callID)

	content := result
	if err != nil {
		content = "Error: " + err.Error()
	}

	c.results = append(c.results, core.NewToolResultTurn(callID, content))
	c.record(ControllerData{Type: EntryToolResult, Content: content, ToolCallID: callID})

	if len(c.pending) > 0 {
		return false
	}

	c.turns = append(c.turns, c.results...)
	c.results = nil
	c.state = StateModelCall

	return true
}

// Pending returns the number of unresolved tool calls.
func (c *Controller) Pending() int { return len(c.pending) }

func (c *Controller) truncate() Outcome {
	text := fmt.Sprintf("Stopped after %d steps without a final answer.", c.limiter.Max())
	c.turns = append(c.turns, core.NewTextTurn(core.RoleAssistant, text))
	c.record(ControllerData{Type: EntryDone, Content: text})
	c.state = StateDone
	return Outcome{Done: true, Truncated: true, Text: text}
}

func (c *Controller) fail(err error) Outcome {
	c.record(ControllerData{Type: EntryError, Content: err.Error()})
	c.state = StateError
	return Outcome{Err: err}
}

func (c *Controller) record(d ControllerData) {
	d.Timestamp = time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log = append(c.log, d)
}

// normalizeCalls assigns ids to calls that arrive without one.
func normalizeCalls(calls []core.ToolCall) []core.ToolCall {
	out := make([]core.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + core.NewID()
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		out[i] = call
	}
	return out
}
