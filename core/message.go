package core

import (
	"github.com/google/uuid"

	"github.com/hupe1980/agentgraph/value"
)

// MessageType tags the payload carried by a Message.
type MessageType string

const (
	// MessageTypeBegin starts an actor that has no dependencies.
	MessageTypeBegin MessageType = "BEGIN"
	// MessageTypeContent carries the fully stitched output of an actor.
	MessageTypeContent MessageType = "CONTENT"
	// MessageTypeStreamBegin announces the first chunk of a stream.
	MessageTypeStreamBegin MessageType = "CONTENT_STREAM_BEGIN"
	// MessageTypeStreamChunk carries an incremental chunk.
	MessageTypeStreamChunk MessageType = "CONTENT_STREAM_CHUNK"
	// MessageTypeStreamEnd closes a stream; CONTENT follows.
	MessageTypeStreamEnd MessageType = "CONTENT_STREAM_END"
	// MessageTypeBookKeeping carries a BookKeepingRecord.
	MessageTypeBookKeeping MessageType = "BOOKKEEPING"
	// MessageTypeBookKeepingDone signals that the run is complete.
	MessageTypeBookKeepingDone MessageType = "BOOKKEEPING_DONE"
	// MessageTypeErrors carries a list of error strings.
	MessageTypeErrors MessageType = "ERRORS"
	// MessageTypeStreamError carries stream level errors (timeouts, upstream failures).
	MessageTypeStreamError MessageType = "STREAM_ERROR"
	// MessageTypeToolInvoke is a point-to-point tool call from the agent.
	MessageTypeToolInvoke MessageType = "TOOL_INVOKE"
	// MessageTypeAgentDone is emitted once by the agent when its loop ends.
	MessageTypeAgentDone MessageType = "AGENT_DONE"
)

// Reserved actor names. They are owned by the runtime and rejected in
// user supplied actor configs.
const (
	InputActorName       = "input"
	OutputActorName      = "output"
	AgentActorName       = "agent"
	CoordinatorActorName = "coordinator"
	BookKeepingActorName = "bookkeeping"
)

// IsReservedName reports whether name is owned by the runtime.
func IsReservedName(name string) bool {
	switch name {
	case InputActorName, OutputActorName, AgentActorName, CoordinatorActorName, BookKeepingActorName:
		return true
	}
	return false
}

// Message is the envelope relayed through the coordinator. After it has been
// handed to a relay it must be treated as immutable.
//
// Sender is always the declared name of the producing actor. Receiver is set
// only for point-to-point messages (TOOL_INVOKE, coordinator to input
// delivery, tool replies). Key is stamped by the coordinator with the sender's
// template key when a message fans out to dependents.
type Message struct {
	ID       string      `json:"id"`
	Type     MessageType `json:"type"`
	Sender   string      `json:"sender"`
	Receiver string      `json:"receiver,omitempty"`
	ReplyTo  string      `json:"reply_to,omitempty"`
	Key      string      `json:"key,omitempty"`
	Data     value.Value `json:"data,omitempty"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(typ MessageType, sender string, data value.Value) Message {
	if data == nil {
		data = value.Null{}
	}
	return Message{
		ID:     NewID(),
		Type:   typ,
		Sender: sender,
		Data:   data,
	}
}

// NewErrorsMessage creates an ERRORS message carrying errs.
func NewErrorsMessage(sender string, errs ...string) Message {
	return NewMessage(MessageTypeErrors, sender, ErrorsValue(errs...))
}

// To returns a copy of m addressed point-to-point to receiver.
func (m Message) To(receiver string) Message {
	m.Receiver = receiver
	return m
}

// WithReplyTo returns a copy of m that answers the message with the given id.
func (m Message) WithReplyTo(id string) Message {
	m.ReplyTo = id
	return m
}

// WithKey returns a copy of m tagged with the given template key.
func (m Message) WithKey(key string) Message {
	m.Key = key
	return m
}

// IsPointToPoint reports whether the message names an explicit receiver.
func (m Message) IsPointToPoint() bool { return m.Receiver != "" }

// ErrorsValue encodes error strings as the data of ERRORS / STREAM_ERROR messages.
func ErrorsValue(errs ...string) value.List {
	out := make(value.List, 0, len(errs))
	for _, e := range errs {
		out = append(out, value.String(e))
	}
	return out
}

// ErrorStrings decodes the data of ERRORS / STREAM_ERROR messages. A scalar
// payload is returned as a single-element slice.
func ErrorStrings(v value.Value) []string {
	switch t := v.(type) {
	case value.List:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, value.Text(item))
		}
		return out
	case nil, value.Null:
		return nil
	}
	return []string{value.Text(v)}
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }
