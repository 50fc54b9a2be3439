package core

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgraph/value"
)

// Role is the conversational role of an AgentTurn.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON object
}

// AgentTurn is one entry of the agent conversation. The ordered list of
// turns is the agent controller's conversation state.
type AgentTurn struct {
	Role       Role        `json:"role"`
	Content    value.Value `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// Text returns the turn content rendered as plain text.
func (t AgentTurn) Text() string { return value.Text(t.Content) }

// NewTextTurn creates a turn with plain text content.
func NewTextTurn(role Role, text string) AgentTurn {
	return AgentTurn{Role: role, Content: value.String(text)}
}

// NewToolResultTurn creates the tool turn answering callID.
func NewToolResultTurn(callID, text string) AgentTurn {
	return AgentTurn{Role: RoleTool, Content: value.String(text), ToolCallID: callID}
}

type turnJSON struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MarshalJSON encodes the turn with its content as plain JSON.
func (t AgentTurn) MarshalJSON() ([]byte, error) {
	content, err := value.Marshal(t.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(turnJSON{Role: t.Role, Content: content, ToolCalls: t.ToolCalls, ToolCallID: t.ToolCallID})
}

// UnmarshalJSON decodes a turn produced by MarshalJSON.
func (t *AgentTurn) UnmarshalJSON(data []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Role = raw.Role
	t.ToolCalls = raw.ToolCalls
	t.ToolCallID = raw.ToolCallID
	t.Content = value.Null{}
	if len(raw.Content) > 0 {
		v, err := value.Parse(raw.Content)
		if err != nil {
			return fmt.Errorf("turn content: %w", err)
		}
		t.Content = v
	}
	return nil
}
