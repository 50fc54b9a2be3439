package testutil

import (
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/value"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder(core.MessageTypeContent).From("leaf").Map("output_str", "hi").Build()
//
// Chain only the parts you need; sender defaults to "test".
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a message of the given type.
func NewMessageBuilder(typ core.MessageType) *MessageBuilder {
	return &MessageBuilder{msg: core.NewMessage(typ, "test", value.Null{})}
}

// From sets the sender (chainable).
func (b *MessageBuilder) From(sender string) *MessageBuilder { b.msg.Sender = sender; return b }

// To addresses the message point-to-point (chainable).
func (b *MessageBuilder) To(receiver string) *MessageBuilder { b.msg.Receiver = receiver; return b }

// Key sets the template key the message is delivered under (chainable).
func (b *MessageBuilder) Key(key string) *MessageBuilder { b.msg.Key = key; return b }

// ReplyTo sets the id of the message being answered (chainable).
func (b *MessageBuilder) ReplyTo(id string) *MessageBuilder { b.msg.ReplyTo = id; return b }

// ID overrides the generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// Data sets the payload (chainable).
func (b *MessageBuilder) Data(v value.Value) *MessageBuilder { b.msg.Data = v; return b }

// Map sets one key of a map payload, converting val with value.FromAny
// (chainable).
func (b *MessageBuilder) Map(key string, val any) *MessageBuilder {
	m, ok := b.msg.Data.(value.Map)
	if !ok {
		m = value.Map{}
	}
	m[key] = value.FromAny(val)
	b.msg.Data = m
	return b
}

// Errors sets an error list payload (chainable).
func (b *MessageBuilder) Errors(errs ...string) *MessageBuilder {
	b.msg.Data = core.ErrorsValue(errs...)
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() core.Message { return b.msg }

// Content is shorthand for a CONTENT message from sender carrying data.
func Content(sender string, data map[string]any) core.Message {
	return core.NewMessage(core.MessageTypeContent, sender, value.FromAny(data))
}

// Chunk is shorthand for a CONTENT_STREAM_CHUNK message from sender.
func Chunk(sender string, data map[string]any) core.Message {
	return core.NewMessage(core.MessageTypeStreamChunk, sender, value.FromAny(data))
}
