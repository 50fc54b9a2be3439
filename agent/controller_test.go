package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/value"
)

func userInput(text string) value.Map {
	return value.Map{core.InputActorName: value.Map{"data": value.String(text)}}
}

func lookupTool() model.ToolDefinition {
	return model.NewToolDefinition("lookup", "Look something up", map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
	})
}

func entryTypes(c *Controller) []EntryType {
	var out []EntryType
	for _, e := range c.Log() {
		out = append(out, e.Type)
	}
	return out
}

func TestController_FinalAnswer(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(model.Script{
		Text:  "Hi there",
		Usage: &model.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	})
	c := NewController(m, func(o *ControllerOptions) {
		o.SystemMessage = NewInstructionFromText("Be brief.")
	})

	require.NoError(t, c.Start(nil, userInput("hello")))
	assert.Equal(t, StateModelCall, c.State())

	out := c.Step(context.Background(), nil)
	require.NoError(t, out.Err)
	assert.True(t, out.Done)
	assert.False(t, out.Truncated)
	assert.Equal(t, "Hi there", out.Text)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, 5, c.Usage().TotalTokens)

	turns := c.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, core.RoleSystem, turns[0].Role)
	assert.Equal(t, "hello", turns[1].Text())
	assert.Equal(t, "Hi there", turns[2].Text())

	assert.Len(t, c.History(), 2)
	assert.Equal(t, []EntryType{EntryInput, EntryAssistant, EntryDone}, entryTypes(c))
}

func TestController_StartTwice(t *testing.T) {
	c := NewController(model.NewMockModel("mock", "mock"))

	require.NoError(t, c.Start(nil, userInput("hello")))
	assert.ErrorIs(t, c.Start(nil, userInput("again")), ErrInvalidState)
}

func TestController_UserMessageTemplateAndHistory(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(model.Script{Text: "ok"})
	c := NewController(m, func(o *ControllerOptions) {
		o.UserMessage = NewInstructionFromText("Q: {{ input.data }}")
	})

	history := []core.AgentTurn{
		core.NewTextTurn(core.RoleUser, "earlier"),
		core.NewTextTurn(core.RoleAssistant, "reply"),
	}
	require.NoError(t, c.Start(history, userInput("now")))

	out := c.Step(context.Background(), nil)
	require.True(t, out.Done)

	req := m.Requests()[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "earlier", req.Messages[0].Text())
	assert.Equal(t, "Q: now", req.Messages[2].Text())
}

func TestController_ToolCalls(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(
		model.Script{ToolCalls: []core.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: `{"q":"x"}`},
			{Name: "lookup"},
		}},
		model.Script{Text: "done"},
	)
	c := NewController(m, func(o *ControllerOptions) {
		o.Tools = []model.ToolDefinition{lookupTool()}
	})
	require.NoError(t, c.Start(nil, userInput("find x")))

	out := c.Step(context.Background(), nil)
	require.NoError(t, out.Err)
	require.Len(t, out.Dispatch, 2)
	assert.Equal(t, StateAwaitToolResults, c.State())
	assert.Equal(t, 2, c.Pending())

	second := out.Dispatch[1]
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, "{}", second.Arguments)

	assert.False(t, c.Resolve("c1", "42", nil))
	assert.False(t, c.Resolve("c1", "dup", nil), "a resolved call is ignored")
	assert.True(t, c.Resolve(second.ID, "", errors.New("boom")))
	assert.Equal(t, StateModelCall, c.State())

	out = c.Step(context.Background(), nil)
	require.True(t, out.Done)
	assert.Equal(t, "done", out.Text)

	msgs := m.Requests()[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "42", msgs[2].Text())
	assert.Equal(t, "Error: boom", msgs[3].Text())

	assert.Equal(t, []EntryType{
		EntryInput, EntryToolCalls, EntryToolResult, EntryToolResult, EntryAssistant, EntryDone,
	}, entryTypes(c))
}

func TestController_UnknownTool(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(
		model.Script{ToolCalls: []core.ToolCall{{ID: "c1", Name: "missing"}}},
		model.Script{Text: "sorry"},
	)
	c := NewController(m, func(o *ControllerOptions) {
		o.Tools = []model.ToolDefinition{lookupTool()}
	})
	require.NoError(t, c.Start(nil, userInput("go")))

	out := c.Step(context.Background(), nil)
	require.NoError(t, out.Err)
	assert.Empty(t, out.Dispatch)
	assert.Equal(t, StateModelCall, c.State())

	turns := c.Turns()
	last := turns[len(turns)-1]
	assert.Equal(t, core.RoleTool, last.Role)
	assert.Equal(t, "Error: tool missing not found", last.Text())

	out = c.Step(context.Background(), nil)
	assert.True(t, out.Done)
}

func TestController_MaxSteps(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(
		model.Script{ToolCalls: []core.ToolCall{{Name: "lookup", Arguments: `{"q":"again"}`}}},
	)
	c := NewController(m, func(o *ControllerOptions) {
		o.Tools = []model.ToolDefinition{lookupTool()}
		o.MaxSteps = 2
	})
	require.NoError(t, c.Start(nil, userInput("loop")))

	var out Outcome
	for i := 0; i < 10; i++ {
		out = c.Step(context.Background(), nil)
		require.NoError(t, out.Err)
		if out.Done {
			break
		}
		for _, call := range out.Dispatch {
			c.Resolve(call.ID, "nothing", nil)
		}
	}

	assert.True(t, out.Done)
	assert.True(t, out.Truncated)
	assert.Equal(t, "Stopped after 2 steps without a final answer.", out.Text)
	assert.Len(t, m.Requests(), 2)
	assert.Equal(t, StateDone, c.State())
}

func TestController_ModelError(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(model.Script{Err: errors.New("rate limited")})
	c := NewController(m)
	require.NoError(t, c.Start(nil, userInput("hi")))

	out := c.Step(context.Background(), nil)
	require.EqualError(t, out.Err, "rate limited")
	assert.Equal(t, StateError, c.State())

	log := c.Log()
	assert.Equal(t, EntryError, log[len(log)-1].Type)

	out = c.Step(context.Background(), nil)
	assert.ErrorIs(t, out.Err, ErrInvalidState)
}

func TestController_Streaming(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(model.Script{Text: "one two three"})
	c := NewController(m, func(o *ControllerOptions) { o.Stream = true })
	require.NoError(t, c.Start(nil, userInput("count")))

	var deltas []string
	out := c.Step(context.Background(), func(d string) error {
		deltas = append(deltas, d)
		return nil
	})

	require.True(t, out.Done)
	assert.Equal(t, []string{"one ", "two ", "three"}, deltas)
	assert.Equal(t, "one two three", out.Text)
}

func TestController_StreamingCallbackError(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(model.Script{Text: "one two"})
	c := NewController(m, func(o *ControllerOptions) { o.Stream = true })
	require.NoError(t, c.Start(nil, userInput("count")))

	out := c.Step(context.Background(), func(string) error { return errors.New("closed") })
	require.EqualError(t, out.Err, "closed")
	assert.Equal(t, StateError, c.State())
}
