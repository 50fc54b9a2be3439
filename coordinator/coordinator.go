package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentgraph/actor"
	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/processor"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// Default timing of a run.
const (
	DefaultIdleTimeout      = 120 * time.Second
	DefaultStopGrace        = 10 * time.Second
	DefaultActorStopTimeout = 5 * time.Second
)

// Metrics observes coordinator, tool and model activity. The metrics
// package provides the Prometheus implementation.
type Metrics interface {
	actor.ToolObserver
	agent.ModelObserver
	ObserveRelay(typ core.MessageType)
	ObserveIdleTimeout()
}

// Options configure a Coordinator.
type Options struct {
	SessionID string
	// RunID defaults to a new uuid.
	RunID string

	IdleTimeout      time.Duration
	StopGrace        time.Duration
	ActorStopTimeout time.Duration

	// OutputTemplate is the response template rendered by the output actor.
	OutputTemplate string

	// Registry resolves (processor_slug, provider_slug) to processors.
	Registry *processor.Registry

	// Agent enables agent mode; Models creates the agent's model.
	Agent  *agent.Config
	Models agent.ModelFactory

	Store       core.SessionDataStore
	Queue       core.JobQueue
	Renderer    template.Renderer
	Credentials map[string]any

	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics Metrics
}

// Coordinator owns the actors of one run and relays every message between
// them.
type Coordinator struct {
	opts   Options
	graph  *graph
	logger logging.Logger

	handles     map[string]*actor.Handle
	bookkeeping *actor.Handle
	mailbox     *actor.Mailbox[core.Message]

	// owned by the relay goroutine
	streamErrors map[string][]string
	idle         *time.Timer
	grace        <-chan time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	started   time.Time
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New validates cfgs, builds the actor graph and spawns (but does not start)
// every actor. Construction errors are returned as *core.GraphConstructionError.
func New(cfgs []core.ActorConfig, optFns ...func(o *Options)) (*Coordinator, error) {
	opts := Options{
		IdleTimeout:      DefaultIdleTimeout,
		StopGrace:        DefaultStopGrace,
		ActorStopTimeout: DefaultActorStopTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RunID == "" {
		opts.RunID = core.NewID()
	}
	if opts.Renderer == nil {
		opts.Renderer = template.Default()
	}
	if opts.Registry == nil {
		opts.Registry = processor.NewRegistry()
		if err := processor.RegisterBuiltins(opts.Registry, opts.Renderer); err != nil {
			return nil, err
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentgraph/coordinator")
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	g, err := buildGraph(cfgs, &opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		opts:         opts,
		graph:        g,
		logger:       opts.Logger,
		handles:      make(map[string]*actor.Handle, len(g.actors)),
		mailbox:      actor.NewMailbox[core.Message](),
		streamErrors: map[string][]string{},
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	for _, a := range g.actors {
		deps := g.dependencies[a.Name()]
		if deps == nil {
			deps = []string{}
		}
		c.handles[a.Name()] = actor.Spawn(ctx, a, c, func(o *actor.SpawnOptions) {
			o.Dependencies = deps
			o.SessionID = opts.SessionID
			o.RunID = opts.RunID
			o.Store = opts.Store
			o.Logger = opts.Logger
		})
	}

	bk := actor.NewBookKeepingActor(g.participants, func(o *actor.BookKeepingOptions) {
		o.SessionID = opts.SessionID
		o.RunID = opts.RunID
		o.AgentMode = g.agent != nil
		o.Queue = opts.Queue
		o.Logger = opts.Logger
	})
	c.bookkeeping = actor.Spawn(ctx, bk, c, func(o *actor.SpawnOptions) {
		o.Dependencies = g.participants
		o.SessionID = opts.SessionID
		o.RunID = opts.RunID
		o.Logger = opts.Logger
	})

	g.output.SetDependencies(g.dependencies[core.OutputActorName])
	g.output.SetRunID(opts.RunID)

	return c, nil
}

// SessionID returns the run's session id.
func (c *Coordinator) SessionID() string { return c.opts.SessionID }

// RunID returns the run id.
func (c *Coordinator) RunID() string { return c.opts.RunID }

// Output returns the output actor, through which callers read the result.
func (c *Coordinator) Output() *actor.OutputActor { return c.graph.output }

// Dependencies returns the resolved dependency keys of the named actor.
func (c *Coordinator) Dependencies(name string) []string {
	return append([]string(nil), c.graph.dependencies[name]...)
}

// Dependents returns the names of the actors that consume name's output.
func (c *Coordinator) Dependents(name string) []string {
	return append([]string(nil), c.graph.dependents[name]...)
}

// Actors returns the names of every spawned actor, sorted.
func (c *Coordinator) Actors() []string {
	out := make([]string, 0, len(c.handles))
	for name := range c.handles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Done is closed once the run has stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Start begins the run: it starts the relay goroutine, sends BEGIN to every
// actor without dependencies and delivers input to the input actor. Start
// may be called once.
func (c *Coordinator) Start(ctx context.Context, input value.Map) (err error) {
	first := false
	c.startOnce.Do(func() { first = true })
	if !first {
		return &core.RunCoordinationError{Op: "starting", Err: fmt.Errorf("run %s already started", c.opts.RunID)}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordinator.start.panic", "run_id", c.opts.RunID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = &core.RunCoordinationError{Op: "starting", Err: fmt.Errorf("panic: %v", r)}
			c.stop(context.Background(), "start failed")
		}
	}()

	_, c.span = c.opts.Tracer.Start(ctx, "coordinator.run", trace.WithAttributes(
		attribute.String("agentgraph.session_id", c.opts.SessionID),
		attribute.String("agentgraph.run_id", c.opts.RunID),
		attribute.Int("agentgraph.actors", len(c.handles)),
		attribute.Bool("agentgraph.agent_mode", c.graph.agent != nil),
	))
	c.started = time.Now()

	// A caller cancelling the run context stops the run.
	go func() {
		select {
		case <-ctx.Done():
			c.Stop(context.Background())
		case <-c.done:
		}
	}()

	c.idle = time.NewTimer(c.opts.IdleTimeout)
	go c.relay()

	c.logger.Info("coordinator.start", "session_id", c.opts.SessionID, "run_id", c.opts.RunID, "actors", len(c.handles))

	for _, name := range c.Actors() {
		if c.graph.isTool(name) || len(c.graph.dependencies[name]) > 0 {
			continue
		}
		c.handles[name].Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, value.Null{}))
	}

	if input == nil {
		input = value.Map{}
	}
	c.Tell(core.NewMessage(core.MessageTypeContent, core.CoordinatorActorName, input).To(core.InputActorName))

	return nil
}

// Tell implements actor.Relay. It enqueues msg on the relay mailbox and
// returns false once the run has stopped.
func (c *Coordinator) Tell(msg core.Message) bool {
	return c.mailbox.Put(msg)
}

func (c *Coordinator) relay() {
	defer func() {
		if r := recover(); r != nil {
			err := &core.RunCoordinationError{Op: "streaming", Err: fmt.Errorf("panic: %v", r)}
			c.logger.Error("coordinator.relay.panic", "run_id", c.opts.RunID, "error", err.Error(), "stack", string(debug.Stack()))
			c.graph.output.SetStopReason(err.Error())
			go c.Stop(context.Background())
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.idle.C:
			c.onIdle()
		case <-c.grace:
			c.logger.Warn("coordinator.grace_expired", "run_id", c.opts.RunID)
			go c.Stop(context.Background())
			return
		case <-c.mailbox.Ready():
			for _, msg := range c.mailbox.Drain() {
				if stop := c.route(msg); stop {
					go c.Stop(context.Background())
					return
				}
			}
		}
	}
}

// route relays one message. It reports whether the run is complete.
func (c *Coordinator) route(msg core.Message) bool {
	c.resetIdle()

	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveRelay(msg.Type)
	}

	c.logger.Debug("coordinator.relay", "type", string(msg.Type), "sender", msg.Sender, "receiver", msg.Receiver)

	switch msg.Type {
	case core.MessageTypeStreamError, core.MessageTypeErrors:
		// Point-to-point ERRORS are tool replies the agent handles itself.
		if !msg.IsPointToPoint() {
			c.streamErrors[msg.Sender] = append(c.streamErrors[msg.Sender], core.ErrorStrings(msg.Data)...)
		}
	case core.MessageTypeBookKeepingDone:
		c.logger.Info("coordinator.bookkeeping_done", "run_id", c.opts.RunID)
		return true
	case core.MessageTypeBookKeeping, core.MessageTypeAgentDone:
		c.bookkeeping.Tell(msg)
		return false
	}

	if msg.IsPointToPoint() {
		c.deliver(msg)
		return false
	}

	key := c.graph.keys[msg.Sender]
	for _, name := range c.graph.dependents[msg.Sender] {
		if h := c.handles[name]; h != nil {
			h.Tell(msg.WithKey(key))
		}
	}

	return false
}

// deliver hands a point-to-point message to its receiver. An undeliverable
// TOOL_INVOKE is answered with ERRORS so the agent loop can continue.
func (c *Coordinator) deliver(msg core.Message) {
	if h := c.handles[msg.Receiver]; h != nil && h.Tell(msg) {
		return
	}

	c.logger.Warn("coordinator.undeliverable", "type", string(msg.Type), "sender", msg.Sender, "receiver", msg.Receiver)

	if msg.Type != core.MessageTypeToolInvoke {
		return
	}

	reply := core.NewErrorsMessage(msg.Receiver, fmt.Sprintf("tool %s is not available", msg.Receiver)).
		To(msg.Sender).
		WithReplyTo(msg.ID)
	if h := c.handles[msg.Sender]; h != nil {
		h.Tell(reply)
	}
}

func (c *Coordinator) resetIdle() {
	if c.grace != nil {
		// Past the idle deadline the hard stop is no longer postponed.
		return
	}
	if !c.idle.Stop() {
		select {
		case <-c.idle.C:
		default:
		}
	}
	c.idle.Reset(c.opts.IdleTimeout)
}

// onIdle hands the collected stream errors (or a timeout error) to the
// output actor and arms the hard stop.
func (c *Coordinator) onIdle() {
	var errs []string

	senders := make([]string, 0, len(c.streamErrors))
	for s := range c.streamErrors {
		senders = append(senders, s)
	}
	sort.Strings(senders)
	for _, s := range senders {
		errs = append(errs, c.streamErrors[s]...)
	}
	if len(errs) == 0 {
		errs = []string{core.ErrIdleTimeout.Error()}
	}

	c.logger.Warn("coordinator.idle_timeout", "run_id", c.opts.RunID, "timeout", c.opts.IdleTimeout.String(), "errors", errs)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveIdleTimeout()
	}
	if c.span != nil {
		c.span.AddEvent("idle_timeout")
	}

	c.graph.output.SetStopReason(errs[0])
	c.handles[core.OutputActorName].Tell(core.NewMessage(core.MessageTypeStreamError, core.CoordinatorActorName, core.ErrorsValue(errs...)))

	c.grace = time.After(c.opts.StopGrace)
}

// Stop stops every actor and waits for them, bounded by ActorStopTimeout
// each. Failures while stopping are logged and swallowed. Stop is safe to
// call more than once and from any goroutine.
func (c *Coordinator) Stop(ctx context.Context) {
	c.stop(ctx, "")
}

func (c *Coordinator) stop(ctx context.Context, reason string) {
	c.stopOnce.Do(func() {
		defer close(c.done)

		if reason != "" {
			c.graph.output.SetStopReason(reason)
		}

		c.mailbox.Close()
		c.cancel()

		stopOne := func(h *actor.Handle) error {
			sctx, cancel := context.WithTimeout(ctx, c.opts.ActorStopTimeout)
			defer cancel()

			if err := h.Stop(sctx); err != nil {
				c.logger.Warn("coordinator.stop.actor_failed", "actor", h.Name(), "error", err.Error())
			}
			return nil
		}

		var eg errgroup.Group
		for _, h := range c.handles {
			eg.Go(func() error { return stopOne(h) })
		}
		_ = eg.Wait()

		// Bookkeeping stops last so its aggregate holds every record.
		_ = stopOne(c.bookkeeping)

		c.finishSpan()

		c.logger.Info("coordinator.stop", "run_id", c.opts.RunID, "duration", time.Since(c.started).String())
	})
}

func (c *Coordinator) finishSpan() {
	if c.span == nil {
		return
	}

	select {
	case <-c.graph.output.Done():
		res, err := c.graph.output.Result(context.Background())
		if err == nil && !res.OK() {
			c.span.SetStatus(codes.Error, res.Errors[0])
		}
	default:
		c.span.SetStatus(codes.Error, "output not terminal")
	}
	c.span.End()
}
