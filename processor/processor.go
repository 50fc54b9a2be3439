// Package processor defines the plugin contract implemented by every
// concrete graph step, the registry that resolves an actor config's
// (processor_slug, provider_slug) pair to a processor, and the built-in
// processors.
//
// A Processor receives its input as a value map whose strings have already
// been rendered against upstream outputs. Loose input and config maps are
// decoded into one typed parameter struct per processor with Decode.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/value"
)

// ErrUnknownProcessor is returned when no processor is registered for a
// (processor_slug, provider_slug) pair.
var ErrUnknownProcessor = errors.New("unknown processor")

// Processor is the contract of a concrete step.
//
// Process returns the final output. A processor that streams partial results
// through Env.Emit may return nil; the stitched emissions then become the
// output.
type Processor interface {
	Process(env *Env, input value.Map) (value.Value, error)
}

// SessionPersister is implemented by processors that keep session data
// between runs of the same session.
type SessionPersister interface {
	SessionDataToPersist() map[string]any
}

// ErrorHandler is implemented by processors that want to react to a failed
// dependency. A non-nil fallback output is finalized in place of an error.
type ErrorHandler interface {
	OnError(env *Env, dependency string, errs []string) (value.Value, error)
}

// Env is the execution environment handed to a processor. Credentials are
// opaque to the runtime and passed through untouched.
type Env struct {
	Context     context.Context
	SessionID   string
	RunID       string
	ActorKey    string
	SessionData map[string]any
	Credentials map[string]any

	emit  func(value.Value) error
	usage value.Value

	*core.LoggerAdapter
}

// NewEnv constructs an Env. emit may be nil, in which case Emit discards.
func NewEnv(
	ctx context.Context,
	sessionID, runID, actorKey string,
	sessionData map[string]any,
	emit func(value.Value) error,
	logger logging.Logger,
) *Env {
	if sessionData == nil {
		sessionData = map[string]any{}
	}
	return &Env{
		Context:       ctx,
		SessionID:     sessionID,
		RunID:         runID,
		ActorKey:      actorKey,
		SessionData:   sessionData,
		Credentials:   map[string]any{},
		emit:          emit,
		usage:         value.Null{},
		LoggerAdapter: core.NewLoggerAdapter(logger, "actor_key", actorKey),
	}
}

// Emit streams a partial output chunk.
func (e *Env) Emit(v value.Value) error {
	if e.emit == nil {
		return nil
	}
	return e.emit(v)
}

// RecordUsage stitches usage data (token counts, API units) into the
// actor's bookkeeping usage record.
func (e *Env) RecordUsage(v value.Value) {
	e.usage = mergeUsage(e.usage, v)
}

// Usage returns the recorded usage data.
func (e *Env) Usage() value.Value { return e.usage }

// mergeUsage adds numeric fields and otherwise stitches.
func mergeUsage(a, b value.Value) value.Value {
	am, aok := a.(value.Map)
	bm, bok := b.(value.Map)
	if !aok || !bok {
		return value.Stitch(a, b)
	}
	out := make(value.Map, len(am)+len(bm))
	for k, v := range am {
		out[k] = v
	}
	for k, v := range bm {
		x, xok := out[k].(value.Number)
		y, yok := v.(value.Number)
		if xok && yok {
			out[k] = x + y
			continue
		}
		out[k] = value.Stitch(out[k], v)
	}
	return out
}

// Spec describes a registered processor.
type Spec struct {
	ProcessorSlug string
	ProviderSlug  string
	Description   string
	// InputSchema is the JSON schema of the processor input; used for tool
	// definitions when the actor config does not supply one.
	InputSchema map[string]any
	New         func(cfg core.ActorConfig) (Processor, error)
}

// Key returns the registry key of the spec.
func (s Spec) Key() string { return Key(s.ProcessorSlug, s.ProviderSlug) }

// Key builds the registry key for a slug pair.
func Key(processorSlug, providerSlug string) string {
	return providerSlug + "/" + processorSlug
}

// Registry resolves slug pairs to processor specs. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: map[string]Spec{}}
}

// Register adds a spec. Registering the same slug pair twice is an error.
func (r *Registry) Register(s Spec) error {
	if s.ProcessorSlug == "" || s.ProviderSlug == "" {
		return fmt.Errorf("register processor: empty slug")
	}
	if s.New == nil {
		return fmt.Errorf("register processor %s: nil constructor", s.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.specs[s.Key()]; dup {
		return fmt.Errorf("register processor %s: already registered", s.Key())
	}
	r.specs[s.Key()] = s

	return nil
}

// MustRegister registers s and panics on error.
func (r *Registry) MustRegister(s Spec) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup returns the spec for a slug pair.
func (r *Registry) Lookup(processorSlug, providerSlug string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[Key(processorSlug, providerSlug)]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, Key(processorSlug, providerSlug))
	}

	return s, nil
}

// New instantiates the processor for cfg.
func (r *Registry) New(cfg core.ActorConfig) (Processor, Spec, error) {
	s, err := r.Lookup(cfg.ProcessorSlug, cfg.ProviderSlug)
	if err != nil {
		return nil, Spec{}, err
	}

	p, err := s.New(cfg)
	if err != nil {
		return nil, Spec{}, fmt.Errorf("create processor %s for %s: %w", s.Key(), cfg.Name, err)
	}

	return p, s, nil
}

// Keys returns the sorted registry keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.specs))
	for k := range r.specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Decode decodes a loose value (typically an input or config map) into the
// typed struct pointed to by out. Field names follow json tags and scalar
// types are converted weakly ("3" decodes into an int).
func Decode(in value.Value, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}

	raw := value.ToAny(in)
	if raw == nil {
		raw = map[string]any{}
	}

	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}

	return nil
}
