package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/value"
)

// ErrActorStopped is returned by Stop on an actor that was already stopped.
var ErrActorStopped = errors.New("actor already stopped")

// SpawnOptions configure a spawned actor.
type SpawnOptions struct {
	// Dependencies are the resolved dependency keys used for readiness.
	// When nil the actor's own Dependencies() are used verbatim.
	Dependencies []string
	SessionID    string
	RunID        string
	Store        core.SessionDataStore
	Logger       logging.Logger
}

// Handle is the explicit reference to a spawned actor. It is returned by
// Spawn and passed by value to collaborators; there is no global lookup.
type Handle struct {
	actor   Actor
	deps    map[string]struct{}
	actx    *Context
	cancel  context.CancelFunc
	mailbox *Mailbox[core.Message]
	logger  logging.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	// owned by the actor goroutine
	buffer     value.Map
	fired      bool
	propagated bool
}

// Spawn wires a to relay and returns its handle. The actor goroutine starts
// lazily on the first message told to the handle.
func Spawn(ctx context.Context, a Actor, relay Relay, optFns ...func(o *SpawnOptions)) *Handle {
	opts := SpawnOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)

	deps := opts.Dependencies
	if deps == nil {
		deps = a.Dependencies()
	}

	depSet := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		depSet[d] = struct{}{}
	}

	actorCtx, cancel := context.WithCancel(ctx)

	return &Handle{
		actor:   a,
		deps:    depSet,
		actx:    NewContext(actorCtx, a.Name(), opts.SessionID, opts.RunID, relay, opts.Store, logger),
		cancel:  cancel,
		mailbox: NewMailbox[core.Message](),
		logger:  logger,
		done:    make(chan struct{}),
		buffer:  value.Map{},
	}
}

// Name returns the actor name.
func (h *Handle) Name() string { return h.actor.Name() }

// TemplateKey returns the actor's template key.
func (h *Handle) TemplateKey() string { return h.actor.TemplateKey() }

// Actor returns the wrapped actor.
func (h *Handle) Actor() Actor { return h.actor }

// Stream returns the actor's OutputStream.
func (h *Handle) Stream() *OutputStream { return h.actx.Stream }

// Dependencies returns the sorted readiness keys.
func (h *Handle) Dependencies() []string {
	out := make([]string, 0, len(h.deps))
	for d := range h.deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Tell enqueues msg and starts the actor goroutine if needed. It returns
// false once the actor has stopped.
func (h *Handle) Tell(msg core.Message) bool {
	if !h.mailbox.Put(msg) {
		return false
	}
	h.startOnce.Do(func() { go h.loop() })
	return true
}

// Alive reports whether the actor accepts messages.
func (h *Handle) Alive() bool { return !h.mailbox.Closed() }

// Done is closed when the actor goroutine has exited (or the actor was
// stopped before it ever started).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop cancels the actor, waits for its goroutine to exit (bounded by ctx)
// and runs its OnStop hook. Stopping twice returns ErrActorStopped.
func (h *Handle) Stop(ctx context.Context) error {
	first := false
	h.stopOnce.Do(func() { first = true })
	if !first {
		return ErrActorStopped
	}

	h.mailbox.Close()
	h.cancel()

	h.startOnce.Do(func() { close(h.done) })

	select {
	case <-h.done:
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", h.Name(), ctx.Err())
	}

	if s, ok := h.actor.(Stopper); ok {
		if err := s.OnStop(ctx); err != nil {
			return fmt.Errorf("stop %s: %w", h.Name(), err)
		}
	}

	return nil
}

func (h *Handle) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.actx.Context.Done():
			return
		case <-h.mailbox.Ready():
		}

		for _, msg := range h.mailbox.Drain() {
			if h.actx.Context.Err() != nil {
				return
			}
			if err := h.dispatch(msg); err != nil {
				h.fail(err)
				return
			}
		}

		if h.mailbox.Closed() && h.mailbox.Len() == 0 {
			return
		}
	}
}

// dispatch routes one message. A returned error is fatal for the actor.
func (h *Handle) dispatch(msg core.Message) error {
	if msg.IsPointToPoint() || isDirectType(msg.Type) {
		if dr, ok := h.actor.(DirectReceiver); ok {
			return h.safeCall(func() error { return dr.Receive(h.actx, msg) })
		}
		if isDirectType(msg.Type) {
			h.logger.Warn("actor.drop", "actor", h.Name(), "type", string(msg.Type), "sender", msg.Sender)
			return nil
		}
	}

	switch msg.Type {
	case core.MessageTypeBegin:
		if len(h.deps) == 0 && !h.fired {
			return h.fire()
		}
	case core.MessageTypeStreamChunk:
		if h.fired {
			return nil
		}
		if sr, ok := h.actor.(StreamReceiver); ok {
			return h.safeCall(func() error { return sr.InputStream(h.actx, keyOf(msg), msg.Data) })
		}
	case core.MessageTypeContent:
		key := keyOf(msg)
		if _, want := h.deps[key]; !want {
			return nil
		}
		// Last write wins per key.
		h.buffer[key] = msg.Data
		if !h.fired && h.ready() {
			return h.fire()
		}
	case core.MessageTypeErrors, core.MessageTypeStreamError:
		return h.onError(keyOf(msg), core.ErrorStrings(msg.Data))
	}

	return nil
}

func (h *Handle) ready() bool {
	if len(h.buffer) != len(h.deps) {
		return false
	}
	for k := range h.deps {
		if _, ok := h.buffer[k]; !ok {
			return false
		}
	}
	return true
}

func (h *Handle) fire() error {
	h.fired = true
	inputs := make(value.Map, len(h.buffer))
	for k, v := range h.buffer {
		inputs[k] = v
	}
	return h.safeCall(func() error { return h.actor.Input(h.actx, inputs) })
}

func (h *Handle) onError(key string, errs []string) error {
	if er, ok := h.actor.(ErrorReceiver); ok {
		return h.safeCall(func() error { return er.OnError(h.actx, key, errs) })
	}

	if h.fired || h.propagated {
		return nil
	}
	h.propagated = true

	msg := fmt.Sprintf("dependency %s failed: %s", key, strings.Join(errs, "; "))
	h.logger.Warn("actor.dependency_failed", "actor", h.Name(), "dependency", key, "errors", errs)
	h.actx.Stream.Errors(msg)
	h.actx.Stream.Bookkeep(ErrorRecord(msg))

	return nil
}

// reportedError is returned by actors that already emitted ERRORS and the
// error bookkeeping record for a failure; the supervisor only stops them.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// fail is the supervisor path: it converts err into ERRORS plus an error
// bookkeeping record, then stops accepting messages.
func (h *Handle) fail(err error) {
	var reported *reportedError
	if errors.As(err, &reported) {
		h.logger.Debug("actor.stopped_after_failure", "actor", h.Name(), "error", reported.Error())
		h.mailbox.Close()
		return
	}

	var perr *core.ActorProcessingError
	if !errors.As(err, &perr) {
		perr = &core.ActorProcessingError{Actor: h.Name(), Err: err}
	}

	h.logger.Error("actor.failed", "actor", h.Name(), "error", perr.Error())

	if !h.actx.Stream.Terminal() {
		h.actx.Stream.Errors(perr.Error())
	}
	h.actx.Stream.Bookkeep(ErrorRecord(perr.Error()))
	h.mailbox.Close()
}

func (h *Handle) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("actor.panic", "actor", h.Name(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = &core.ActorProcessingError{Actor: h.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

// ErrorRecord builds the bookkeeping record emitted for a failed actor.
func ErrorRecord(msgs ...string) core.BookKeepingRecord {
	rec := core.NewBookKeepingRecord()
	rec.RunData = value.Map{"errors": core.ErrorsValue(msgs...)}
	return rec
}

func keyOf(msg core.Message) string {
	if msg.Key != "" {
		return msg.Key
	}
	return msg.Sender
}

func isDirectType(t core.MessageType) bool {
	switch t {
	case core.MessageTypeToolInvoke, core.MessageTypeBookKeeping, core.MessageTypeAgentDone:
		return true
	}
	return false
}
