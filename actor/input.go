package actor

import (
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/value"
)

// InputActor publishes the caller's input as the output of the reserved
// "input" actor. The coordinator delivers the input point-to-point.
type InputActor struct{}

// NewInputActor creates the input actor.
func NewInputActor() *InputActor { return &InputActor{} }

// Name implements Actor.
func (*InputActor) Name() string { return core.InputActorName }

// TemplateKey implements Actor.
func (*InputActor) TemplateKey() string { return core.InputActorName }

// Dependencies implements Actor.
func (*InputActor) Dependencies() []string { return nil }

// Input implements Actor. The input actor fires on BEGIN without data.
func (*InputActor) Input(*Context, value.Map) error { return nil }

// Receive publishes the delivered input unchanged.
func (*InputActor) Receive(actx *Context, msg core.Message) error {
	if msg.Type != core.MessageTypeContent {
		return nil
	}

	if actx.Stream.Finalized() {
		actx.LogWarn("actor.input.duplicate", "message_id", msg.ID)
		return nil
	}

	data := msg.Data
	if data == nil {
		data = value.Null{}
	}

	if err := actx.Stream.Write(data); err != nil {
		return err
	}

	out, err := actx.Stream.Finalize()
	if err != nil {
		return err
	}

	rec := core.NewBookKeepingRecord()
	rec.Input = data
	rec.Output = out
	actx.Stream.Bookkeep(rec)

	return nil
}
