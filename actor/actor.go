package actor

import (
	"context"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/value"
)

// Actor is the base execution unit of a run.
//
// Input is invoked exactly once, when a message has been buffered for every
// key of the actor's resolved dependency set (or on BEGIN when that set is
// empty). The inputs map is keyed by dependency template key.
type Actor interface {
	// Name returns the unique actor name (the message sender id).
	Name() string

	// TemplateKey returns the key downstream templates use to address this
	// actor's output.
	TemplateKey() string

	// Dependencies returns the declared plus dynamically discovered
	// dependency keys. The coordinator intersects them with the keys of the
	// run, dropping unknown names.
	Dependencies() []string

	// Input consumes the complete set of dependency values.
	Input(actx *Context, inputs value.Map) error
}

// StreamReceiver is implemented by actors that observe upstream chunks
// before Input fires.
type StreamReceiver interface {
	InputStream(actx *Context, key string, chunk value.Value) error
}

// ErrorReceiver is implemented by actors with custom dependency failure
// handling. Actors without it emit ERRORS naming the failed dependency.
type ErrorReceiver interface {
	OnError(actx *Context, key string, errs []string) error
}

// DirectReceiver is implemented by actors that accept point-to-point
// messages (tool invocations, tool replies, bookkeeping traffic).
type DirectReceiver interface {
	Receive(actx *Context, msg core.Message) error
}

// Stopper is implemented by actors that need to release resources or hand
// off state when the run stops.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// Relay accepts messages on behalf of the coordinator. Tell never blocks
// and returns false once the relay has shut down.
type Relay interface {
	Tell(msg core.Message) bool
}

// RelayFunc adapts a function to the Relay interface.
type RelayFunc func(msg core.Message) bool

// Tell implements Relay.
func (f RelayFunc) Tell(msg core.Message) bool { return f(msg) }

// Context carries the per-actor execution scope passed to Actor methods:
// the cancellation Context, run identifiers, the actor's own OutputStream
// and the session-data store.
type Context struct {
	Context          context.Context
	SessionID, RunID string
	Stream           *OutputStream
	Store            core.SessionDataStore

	name  string
	relay Relay

	*core.LoggerAdapter
}

// NewContext constructs a Context for the named actor.
func NewContext(
	ctx context.Context,
	name, sessionID, runID string,
	relay Relay,
	store core.SessionDataStore,
	logger logging.Logger,
) *Context {
	return &Context{
		Context:       ctx,
		SessionID:     sessionID,
		RunID:         runID,
		Stream:        NewOutputStream(name, relay),
		Store:         store,
		name:          name,
		relay:         relay,
		LoggerAdapter: core.NewLoggerAdapter(logger, "actor", name, "run_id", runID),
	}
}

// Name returns the owning actor's name.
func (c *Context) Name() string { return c.name }

// Send relays msg with the owning actor as sender.
func (c *Context) Send(msg core.Message) bool {
	msg.Sender = c.name
	return c.relay.Tell(msg)
}

// LoadSessionData reads the actor's session data; a missing store yields
// an empty map.
func (c *Context) LoadSessionData(actorKey string) (map[string]any, error) {
	if c.Store == nil {
		return map[string]any{}, nil
	}
	data, err := c.Store.Get(c.Context, c.SessionID, actorKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// SaveSessionData persists the actor's session data. It is a no-op without
// a store or session id.
func (c *Context) SaveSessionData(actorKey string, data map[string]any) error {
	if c.Store == nil || c.SessionID == "" || len(data) == 0 {
		return nil
	}
	return c.Store.Put(c.Context, c.SessionID, actorKey, data)
}
