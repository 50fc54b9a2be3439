package actor

import (
	"errors"
	"runtime"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

var (
	// ErrAlreadyFinalized is returned by a second Finalize call.
	ErrAlreadyFinalized = errors.New("output stream already finalized")
	// ErrStreamClosed is returned when writing to a finalized or failed stream.
	ErrStreamClosed = errors.New("output stream closed")
)

// OutputStream is the single-writer channel through which an actor emits
// incremental and final results. Every operation enqueues a message on the
// relay and returns without waiting for delivery.
type OutputStream struct {
	owner    string
	relay    Relay
	receiver string
	replyTo  string
	template string

	mu        sync.Mutex
	acc       value.Value
	started   bool
	finalized bool
	failed    bool
}

// NewOutputStream creates a stream owned by the named actor.
func NewOutputStream(owner string, relay Relay) *OutputStream {
	return &OutputStream{owner: owner, relay: relay, acc: value.Null{}}
}

// Owner returns the owning actor's name.
func (s *OutputStream) Owner() string { return s.owner }

// Reply derives a stream whose messages are addressed point-to-point to
// receiver and answer the message replyTo. Bookkeeping sent through it is
// still routed to the bookkeeping sink.
func (s *OutputStream) Reply(receiver, replyTo string) *OutputStream {
	return &OutputStream{
		owner:    s.owner,
		relay:    s.relay,
		receiver: receiver,
		replyTo:  replyTo,
		acc:      value.Null{},
	}
}

// WithTemplate binds a consumer template to the stream; see Dependencies.
func (s *OutputStream) WithTemplate(tpl string) *OutputStream {
	s.template = tpl
	return s
}

// Dependencies returns the top-level identifiers referenced by the bound
// template.
func (s *OutputStream) Dependencies() []string {
	if s.template == "" {
		return nil
	}
	return template.Identifiers(s.template)
}

// Write stitches v into the accumulated value and relays it as a
// CONTENT_STREAM_CHUNK. The first write is preceded by CONTENT_STREAM_BEGIN.
func (s *OutputStream) Write(v value.Value) error {
	s.mu.Lock()
	if s.finalized || s.failed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	first := !s.started
	s.started = true
	s.acc = value.Stitch(s.acc, v)
	s.mu.Unlock()

	if first {
		s.send(core.MessageTypeStreamBegin, value.Null{})
	}
	s.send(core.MessageTypeStreamChunk, v)

	runtime.Gosched()

	return nil
}

// Finalize sends CONTENT_STREAM_END followed by CONTENT carrying the stitched
// value, clears the buffer and returns the value. It may be called at most
// once.
func (s *OutputStream) Finalize() (value.Value, error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil, ErrAlreadyFinalized
	}
	if s.failed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.finalized = true
	out := s.acc
	s.acc = value.Null{}
	s.mu.Unlock()

	s.send(core.MessageTypeStreamEnd, value.Null{})
	s.send(core.MessageTypeContent, out)

	runtime.Gosched()

	return out, nil
}

// Bookkeep sends the actor's audit record. Records without a MessageID
// replace any earlier record from the same actor.
func (s *OutputStream) Bookkeep(rec core.BookKeepingRecord) {
	msg := core.NewMessage(core.MessageTypeBookKeeping, s.owner, rec.Value())
	s.relay.Tell(msg)
}

// BookkeepDone signals that the run's bookkeeping aggregate is complete.
func (s *OutputStream) BookkeepDone() {
	s.relay.Tell(core.NewMessage(core.MessageTypeBookKeepingDone, s.owner, value.Null{}))
}

// Error sends ERRORS carrying err and marks the stream terminal.
func (s *OutputStream) Error(err error) {
	s.Errors(err.Error())
}

// Errors sends ERRORS carrying msgs and marks the stream terminal.
func (s *OutputStream) Errors(msgs ...string) {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()

	s.send(core.MessageTypeErrors, core.ErrorsValue(msgs...))
}

// Value returns a snapshot of the accumulated value.
func (s *OutputStream) Value() value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.acc
}

// Finalized reports whether Finalize has run.
func (s *OutputStream) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finalized
}

// Terminal reports whether the stream has been finalized or failed.
func (s *OutputStream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finalized || s.failed
}

func (s *OutputStream) send(typ core.MessageType, data value.Value) {
	msg := core.NewMessage(typ, s.owner, data)
	if s.receiver != "" {
		msg = msg.To(s.receiver).WithReplyTo(s.replyTo)
	}
	s.relay.Tell(msg)
}
