package testutil

import (
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// Recorder is a relay that records every message told to it. An optional
// forward function observes each message after it was recorded.
type Recorder struct {
	mu       sync.Mutex
	messages []core.Message
	closed   bool
	notify   chan struct{}
	forward  func(core.Message)
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// OnMessage registers fn to be called for every recorded message (chainable).
func (r *Recorder) OnMessage(fn func(core.Message)) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.forward = fn
	return r
}

// Tell implements actor.Relay.
func (r *Recorder) Tell(msg core.Message) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.messages = append(r.messages, msg)
	fwd := r.forward
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}

	if fwd != nil {
		fwd(msg)
	}

	return true
}

// Close makes further Tell calls return false.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Message(nil), r.messages...)
}

// OfType returns the recorded messages of the given types.
func (r *Recorder) OfType(types ...core.MessageType) []core.Message {
	var out []core.Message
	for _, m := range r.Messages() {
		for _, t := range types {
			if m.Type == t {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Types returns the types of the recorded messages in order.
func (r *Recorder) Types() []core.MessageType {
	msgs := r.Messages()
	out := make([]core.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

// WaitFor blocks until a recorded message satisfies pred or timeout
// elapses. It returns the first matching message.
func (r *Recorder) WaitFor(pred func(core.Message) bool, timeout time.Duration) (core.Message, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, m := range r.Messages() {
			if pred(m) {
				return m, true
			}
		}

		select {
		case <-r.notify:
		case <-deadline.C:
			return core.Message{}, false
		}
	}
}

// WaitForType waits for the first message of type typ.
func (r *Recorder) WaitForType(typ core.MessageType, timeout time.Duration) (core.Message, bool) {
	return r.WaitFor(func(m core.Message) bool { return m.Type == typ }, timeout)
}
