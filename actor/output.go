package actor

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// DefaultStopReason is published to consumers when a run stops before the
// output actor produced a final value or an error.
const DefaultStopReason = "run stopped before output was produced"

// OutputActor renders the run's response template against upstream
// outputs. Every upstream chunk re-renders the template against the
// stitched partial values and publishes the monotonic text delta to
// consumers. Consumers read through Chunks or Result; both end on finalize,
// on a terminal error or when the run stops.
type OutputActor struct {
	tpl      string
	renderer template.Renderer

	mu         sync.Mutex
	runID      string
	deps       []string
	partial    value.Map
	published  string
	terminal   bool
	result     core.Result
	stopReason string

	chunks   *Mailbox[core.Chunk]
	done     chan struct{}
	pumpOnce sync.Once
	pump     chan core.Chunk
}

// NewOutputActor creates the output actor for tpl. A nil renderer uses the
// default pongo2 renderer.
func NewOutputActor(tpl string, renderer template.Renderer) *OutputActor {
	if renderer == nil {
		renderer = template.Default()
	}
	return &OutputActor{
		tpl:        tpl,
		renderer:   renderer,
		partial:    value.Map{},
		stopReason: DefaultStopReason,
		chunks:     NewMailbox[core.Chunk](),
		done:       make(chan struct{}),
	}
}

// Name implements Actor.
func (*OutputActor) Name() string { return core.OutputActorName }

// TemplateKey implements Actor.
func (*OutputActor) TemplateKey() string { return core.OutputActorName }

// Template returns the configured response template.
func (o *OutputActor) Template() string { return o.tpl }

// Dependencies returns the top-level identifiers referenced by the template.
func (o *OutputActor) Dependencies() []string {
	return NewOutputStream(core.OutputActorName, nil).WithTemplate(o.tpl).Dependencies()
}

// SetStopReason sets the error published when the run stops without output.
func (o *OutputActor) SetStopReason(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopReason = reason
}

// InputStream re-renders the template against the stitched partial values
// and publishes any text appended since the last publication.
func (o *OutputActor) InputStream(actx *Context, key string, chunk value.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil
	}

	if prev, ok := o.partial[key]; ok {
		o.partial[key] = value.Stitch(prev, chunk)
	} else {
		o.partial[key] = chunk
	}

	// Rendering before every dependency has started would publish text
	// that later renders cannot extend.
	for _, d := range o.deps {
		if _, ok := o.partial[d]; !ok {
			return nil
		}
	}

	text, err := o.renderer.Render(o.tpl, o.partial)
	if err != nil {
		actx.LogDebug("actor.output.partial_render_failed", "error", err.Error())
		return nil
	}

	if delta, ok := extends(o.published, text); ok && delta != "" {
		o.published = text
		o.chunks.Put(core.Chunk{Delta: delta})
	}

	return nil
}

// Input renders the final response, finalizes it and publishes the final
// chunk.
func (o *OutputActor) Input(actx *Context, inputs value.Map) error {
	text, err := o.renderer.Render(o.tpl, inputs)
	if err != nil {
		return o.OnError(actx, core.OutputActorName, []string{"render output: " + err.Error()})
	}

	if err := actx.Stream.Write(value.String(text)); err != nil {
		return err
	}
	out, err := actx.Stream.Finalize()
	if err != nil {
		return err
	}

	rec := core.NewBookKeepingRecord()
	rec.Input = inputs
	rec.Output = out
	actx.Stream.Bookkeep(rec)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil
	}

	delta, _ := extends(o.published, text)
	o.published = text
	o.finish(core.Result{RunID: actx.RunID, Output: out}, core.Chunk{Delta: delta, Output: out, Final: true})

	return nil
}

// OnError publishes the dependency failure as the terminal chunk.
func (o *OutputActor) OnError(actx *Context, key string, errs []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil
	}

	if len(errs) == 0 {
		errs = []string{"dependency " + key + " failed"}
	}

	actx.LogWarn("actor.output.error", "dependency", key, "errors", errs)
	actx.Stream.Bookkeep(ErrorRecord(errs...))

	o.finish(core.Result{RunID: actx.RunID, Errors: errs}, core.Chunk{Errors: errs})

	return nil
}

// OnStop publishes the stop reason when no terminal chunk was published.
func (o *OutputActor) OnStop(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.terminal {
		return nil
	}

	errs := []string{o.stopReason}
	o.finish(core.Result{RunID: o.runID, Errors: errs}, core.Chunk{Errors: errs})

	return nil
}

// SetDependencies sets the resolved dependency keys that must all have
// streamed before partial renders are published.
func (o *OutputActor) SetDependencies(keys []string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.deps = append([]string(nil), keys...)
}

// SetRunID records the run id reported when the run stops early.
func (o *OutputActor) SetRunID(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.runID = runID
}

// finish publishes the terminal chunk. Callers hold o.mu.
func (o *OutputActor) finish(res core.Result, last core.Chunk) {
	o.terminal = true
	if res.RunID == "" {
		res.RunID = o.runID
	}
	o.result = res
	o.chunks.Put(last)
	o.chunks.Close()
	close(o.done)
}

// Done is closed once the output is terminal.
func (o *OutputActor) Done() <-chan struct{} { return o.done }

// Result blocks until the output is terminal or ctx is done.
func (o *OutputActor) Result(ctx context.Context) (core.Result, error) {
	select {
	case <-o.done:
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	return o.result, nil
}

// Chunks returns the stream of published chunks. The channel is closed
// after the terminal chunk. Every call returns the same channel.
func (o *OutputActor) Chunks() <-chan core.Chunk {
	o.pumpOnce.Do(func() {
		o.pump = make(chan core.Chunk)
		go o.forward()
	})
	return o.pump
}

func (o *OutputActor) forward() {
	defer close(o.pump)

	for {
		<-o.chunks.Ready()

		for _, c := range o.chunks.Drain() {
			o.pump <- c
			if c.IsTerminal() {
				return
			}
		}
	}
}

// extends reports whether next extends prev and returns the appended text.
func extends(prev, next string) (string, bool) {
	if !strings.HasPrefix(next, prev) {
		return "", false
	}
	return next[len(prev):], true
}
