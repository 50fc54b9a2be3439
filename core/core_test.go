package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/value"
)

func TestValidateActorConfigs(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []ActorConfig
		wantErr error
	}{
		{"ok", []ActorConfig{{Name: "a"}, {Name: "b", TemplateKey: "bee"}}, nil},
		{"duplicate name", []ActorConfig{{Name: "a"}, {Name: "a", TemplateKey: "x"}}, ErrDuplicateName},
		{"reserved input", []ActorConfig{{Name: "input"}}, ErrReservedName},
		{"reserved agent", []ActorConfig{{Name: "agent"}}, ErrReservedName},
		{"reserved coordinator", []ActorConfig{{Name: "coordinator"}}, ErrReservedName},
		{"reserved key", []ActorConfig{{Name: "a", TemplateKey: "output"}}, ErrReservedName},
		{"duplicate key", []ActorConfig{{Name: "a", TemplateKey: "k"}, {Name: "b", TemplateKey: "k"}}, ErrDuplicateTemplateKey},
		{"key collides with default", []ActorConfig{{Name: "a"}, {Name: "b", TemplateKey: "a"}}, ErrDuplicateTemplateKey},
		{"empty name", []ActorConfig{{Name: ""}}, ErrEmptyName},
		{"known output type", []ActorConfig{{Name: "a", OutputType: "map"}}, nil},
		{"unknown output type", []ActorConfig{{Name: "a", OutputType: "object"}}, ErrUnknownOutputType},
		{"null output type", []ActorConfig{{Name: "a", OutputType: "null"}}, ErrUnknownOutputType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActorConfigs(tt.cfgs)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			var gerr *GraphConstructionError
			assert.True(t, errors.As(err, &gerr))
		})
	}
}

func TestActorConfig_CheckOutput(t *testing.T) {
	assert.NoError(t, ActorConfig{Name: "a"}.CheckOutput(value.Number(1)))
	assert.NoError(t, ActorConfig{Name: "a", OutputType: "string"}.CheckOutput(value.String("x")))

	err := ActorConfig{Name: "a", OutputType: "string"}.CheckOutput(value.Map{})
	require.Error(t, err)
	assert.Equal(t, "output is map, declared output_type is string", err.Error())
}

func TestActorConfig_Key(t *testing.T) {
	assert.Equal(t, "leaf", ActorConfig{Name: "leaf"}.Key())
	assert.Equal(t, "k", ActorConfig{Name: "leaf", TemplateKey: "k"}.Key())
}

func TestMessage_Helpers(t *testing.T) {
	m := NewMessage(MessageTypeToolInvoke, "agent", value.Map{"x": value.Number(1)})
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.IsPointToPoint())

	p := m.To("weather").WithReplyTo("call-1")
	assert.True(t, p.IsPointToPoint())
	assert.Equal(t, "weather", p.Receiver)
	assert.Equal(t, "call-1", p.ReplyTo)
	assert.Empty(t, m.Receiver, "To must not mutate the original")

	nilData := NewMessage(MessageTypeBegin, "coordinator", nil)
	assert.Equal(t, value.Null{}, nilData.Data)
}

func TestErrorStrings(t *testing.T) {
	msg := NewErrorsMessage("a", "boom", "bang")
	assert.Equal(t, []string{"boom", "bang"}, ErrorStrings(msg.Data))
	assert.Equal(t, []string{"single"}, ErrorStrings(value.String("single")))
	assert.Nil(t, ErrorStrings(value.Null{}))
}

func TestBookKeepingRecord_RoundTrip(t *testing.T) {
	rec := NewBookKeepingRecord()
	rec.Input = value.Map{"input_str": value.String("hi")}
	rec.Output = value.Map{"output_str": value.String("hi")}
	rec.MessageID = "call-7"

	got := RecordFromValue(rec.Value())

	assert.True(t, value.Equal(rec.Input, got.Input))
	assert.True(t, value.Equal(rec.Output, got.Output))
	assert.Equal(t, "call-7", got.MessageID)
	assert.WithinDuration(t, rec.Timestamp, got.Timestamp, time.Millisecond)
	assert.Equal(t, value.Null{}, got.UsageData)
}

func TestAgentTurn_JSON(t *testing.T) {
	turns := []AgentTurn{
		NewTextTurn(RoleUser, "hi"),
		{Role: RoleAssistant, Content: value.Null{}, ToolCalls: []ToolCall{{ID: "c1", Name: "weather", Arguments: `{"city":"Berlin"}`}}},
		NewToolResultTurn("c1", "sunny"),
	}

	data, err := json.Marshal(turns)
	require.NoError(t, err)

	var back []AgentTurn
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 3)
	assert.Equal(t, "hi", back[0].Text())
	assert.Equal(t, "weather", back[1].ToolCalls[0].Name)
	assert.Equal(t, "c1", back[2].ToolCallID)
	assert.Equal(t, "sunny", back[2].Text())
}

func TestStepLimiter(t *testing.T) {
	l := NewStepLimiter(2)
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Increment(); err == nil {
		t.Fatal("expected limit error")
	}
	if l.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", l.Remaining())
	}

	if NewStepLimiter(0).Max() != DefaultMaxSteps {
		t.Fatal("expected default step budget")
	}
	if NewStepLimiter(1000).Max() != MaxStepsCap {
		t.Fatal("expected capped step budget")
	}
}

func TestChunkAndResult(t *testing.T) {
	assert.False(t, Chunk{Delta: "x"}.IsTerminal())
	assert.True(t, Chunk{Final: true}.IsTerminal())
	assert.True(t, Chunk{Errors: []string{"e"}}.IsTerminal())
	assert.True(t, Result{}.OK())
	assert.False(t, Result{Errors: []string{"e"}}.OK())
}
