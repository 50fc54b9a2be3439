package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/app"
	"github.com/hupe1980/agentgraph/coordinator"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/processor"
	"github.com/hupe1980/agentgraph/session"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// ErrRunNotFound is returned by Stop for unknown or finished runs.
var ErrRunNotFound = errors.New("run not found")

// ErrIncompleteRun is returned by InvokeSync when a run's stream closed
// without an output or errors.
var ErrIncompleteRun = errors.New("run ended without a result")

// Config defines tuning parameters of the Engine.
type Config struct {
	// MaxConcurrentRuns bounds the runs executing at once. Invoke blocks
	// until a slot is free or its context is done.
	MaxConcurrentRuns int

	// ChunkBufferSize is the buffer of the chunk channel returned by Invoke.
	ChunkBufferSize int

	IdleTimeout      time.Duration
	StopGrace        time.Duration
	ActorStopTimeout time.Duration

	// MaxSteps is applied to agents that do not set their own step budget.
	MaxSteps int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	ChunkBufferSize:   64,
	IdleTimeout:       coordinator.DefaultIdleTimeout,
	StopGrace:         coordinator.DefaultStopGrace,
	ActorStopTimeout:  coordinator.DefaultActorStopTimeout,
	MaxSteps:          core.DefaultMaxSteps,
}

// Options configures an Engine instance.
type Options struct {
	Config Config

	// Registry resolves processors. Defaults to the built-in processors plus
	// the chat processors of Providers.
	Registry *processor.Registry

	// Providers configures the built-in LLM providers.
	Providers ProviderConfig

	// Models creates agent models. Defaults to Providers.AgentModels().
	Models agent.ModelFactory

	// Store holds session data. Defaults to an in-memory store.
	Store core.SessionDataStore

	// Queue receives the bookkeeping of every finished run. Nil drops it.
	Queue core.JobQueue

	Renderer    template.Renderer
	Credentials map[string]any

	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Collector
	Hooks   *Hooks
}

// Engine runs app definitions. Every invocation builds a fresh Coordinator
// for the request; runs are independent except for the shared session store.
// An Engine is safe for concurrent use.
type Engine struct {
	opts   Options
	logger logging.Logger
	sem    *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// New creates an Engine with sensible defaults.
//
// Example:
//
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Store = redis.New("localhost:6379", "", 0)
//	    o.Logger = logger
//	})
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Config: DefaultConfig,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.MaxConcurrentRuns < 1 {
		opts.Config.MaxConcurrentRuns = 1
	}
	if opts.Config.ChunkBufferSize < 0 {
		opts.Config.ChunkBufferSize = 0
	}
	if opts.Renderer == nil {
		opts.Renderer = template.Default()
	}
	if opts.Registry == nil {
		opts.Registry = processor.NewRegistry()
		if err := processor.RegisterBuiltins(opts.Registry, opts.Renderer); err != nil {
			return nil, err
		}
		if err := opts.Providers.RegisterChat(opts.Registry); err != nil {
			return nil, err
		}
	}
	if opts.Models == nil {
		opts.Models = opts.Providers.AgentModels()
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentgraph/engine")
	}

	return &Engine{
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
		sem:    semaphore.NewWeighted(int64(opts.Config.MaxConcurrentRuns)),
		runs:   make(map[string]context.CancelFunc),
	}, nil
}

// Registry returns the processor registry of the engine.
func (e *Engine) Registry() *processor.Registry { return e.opts.Registry }

// Invoke starts a run of def and returns its id and output stream. The
// stream ends with exactly one terminal chunk (final or errors) and is then
// closed. Cancelling ctx stops the run.
//
// Example:
//
//	runID, chunks, err := eng.Invoke(ctx, "session-1", def, value.Map{"data": value.String("New!")})
//	if err != nil {
//	    return err
//	}
//	for c := range chunks {
//	    fmt.Print(c.Delta)
//	}
func (e *Engine) Invoke(
	ctx context.Context,
	sessionID string,
	def *app.Definition,
	input value.Map,
) (string, <-chan core.Chunk, error) {
	if def == nil {
		return "", nil, errors.New("app definition is required")
	}

	cfgs, err := def.ActorConfigs()
	if err != nil {
		return "", nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", nil, fmt.Errorf("waiting for a run slot: %w", err)
	}

	released := false
	release := func() {
		if !released {
			released = true
			e.sem.Release(1)
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	runCtx, span := e.opts.Tracer.Start(runCtx, "engine.invoke", trace.WithAttributes(
		attribute.String("agentgraph.session_id", sessionID),
		attribute.String("agentgraph.app", def.Name),
	))

	c, err := coordinator.New(cfgs, func(o *coordinator.Options) {
		o.SessionID = sessionID
		o.IdleTimeout = e.opts.Config.IdleTimeout
		o.StopGrace = e.opts.Config.StopGrace
		o.ActorStopTimeout = e.opts.Config.ActorStopTimeout
		o.OutputTemplate = def.OutputTemplate
		o.Registry = e.opts.Registry
		o.Agent = e.agentConfig(def)
		o.Models = e.opts.Models
		o.Store = e.opts.Store
		o.Queue = e.opts.Queue
		o.Renderer = e.opts.Renderer
		o.Credentials = e.opts.Credentials
		o.Logger = e.logger
		o.Tracer = e.opts.Tracer
		if e.opts.Metrics != nil {
			o.Metrics = e.opts.Metrics
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "graph construction failed")
		span.End()
		return "", nil, err
	}

	runID := c.RunID()
	span.SetAttributes(attribute.String("agentgraph.run_id", runID))

	info := &RunInfo{SessionID: sessionID, RunID: runID, App: def, Started: time.Now()}
	if err = e.opts.Hooks.run(runCtx, StageBeforeRun, info); err != nil {
		c.Stop(context.Background())
		span.RecordError(err)
		span.End()
		return "", nil, err
	}

	e.mu.Lock()
	e.runs[runID] = cancel
	e.mu.Unlock()

	e.opts.Metrics.RunStarted()
	started := time.Now()

	if err = c.Start(runCtx, input); err != nil {
		e.untrack(runID)
		e.opts.Metrics.RunFinished(time.Since(started), err)
		span.RecordError(err)
		span.End()
		return "", nil, err
	}

	e.logger.Info("engine.run.started", "session_id", sessionID, "run_id", runID, "app", def.Name)

	out := make(chan core.Chunk, e.opts.Config.ChunkBufferSize)

	go func() {
		defer release()
		defer cancel()
		defer span.End()

		e.forward(ctx, c, out)

		// Bookkeeping is enqueued before the coordinator reports done.
		<-c.Done()

		res, _ := c.Output().Result(context.Background())
		e.untrack(runID)

		var runErr error
		if !res.OK() {
			runErr = fmt.Errorf("run %s: %v", runID, res.Errors)
			span.SetStatus(codes.Error, "run failed")
		}
		e.opts.Metrics.RunFinished(time.Since(started), runErr)

		info.Result = &res
		if runErr != nil {
			if err := e.opts.Hooks.run(context.Background(), StageOnError, info); err != nil {
				e.logger.Warn("engine.hook.failed", "run_id", runID, "error", err)
			}
		}
		if err := e.opts.Hooks.run(context.Background(), StageAfterRun, info); err != nil {
			e.logger.Warn("engine.hook.failed", "run_id", runID, "error", err)
		}

		e.logger.Info("engine.run.finished", "session_id", sessionID, "run_id", runID, "ok", res.OK(), "duration_ms", time.Since(started).Milliseconds())
	}()

	return runID, out, nil
}

// forward copies the output chunks of c to out and closes out after the
// terminal chunk. ctx is the caller's context: once it is done further
// deltas are dropped, but the terminal chunk is still handed over when out
// has room.
func (e *Engine) forward(ctx context.Context, c *coordinator.Coordinator, out chan<- core.Chunk) {
	defer close(out)

	abandoned := false
	for chunk := range c.Output().Chunks() {
		if chunk.IsTerminal() {
			select {
			case out <- chunk:
			case <-ctx.Done():
				select {
				case out <- chunk:
				default:
				}
			}
			continue
		}
		if abandoned {
			continue
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			abandoned = true
		}
	}
}

// InvokeSync runs def to completion and returns its result. Run failures
// are reported in Result.Errors; the error return is reserved for runs that
// could not be started, a done ctx, or a stream that closed without a
// terminal chunk (ErrIncompleteRun).
func (e *Engine) InvokeSync(
	ctx context.Context,
	sessionID string,
	def *app.Definition,
	input value.Map,
) (core.Result, error) {
	runID, chunks, err := e.Invoke(ctx, sessionID, def, input)
	if err != nil {
		return core.Result{}, err
	}

	res := core.Result{RunID: runID}
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if res.Output == nil && len(res.Errors) == 0 {
					if err := ctx.Err(); err != nil {
						return res, err
					}
					return res, fmt.Errorf("%w: %s", ErrIncompleteRun, runID)
				}
				return res, nil
			}
			if chunk.Final {
				res.Output = chunk.Output
			}
			if len(chunk.Errors) > 0 {
				res.Errors = chunk.Errors
			}
		}
	}
}

// Stop cancels a running run. The run's stream still ends with a terminal
// chunk.
func (e *Engine) Stop(runID string) error {
	e.mu.Lock()
	cancel, ok := e.runs[runID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()
	return nil
}

// ActiveRuns returns the number of runs in flight.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.runs)
}

func (e *Engine) untrack(runID string) {
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}

func (e *Engine) agentConfig(def *app.Definition) *agent.Config {
	if def.Agent == nil {
		return nil
	}

	cfg := *def.Agent
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = e.opts.Config.MaxSteps
	}

	return &cfg
}
