package actor

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/schema"
	"github.com/hupe1980/agentgraph/processor"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

// ToolObserver is notified about every tool invocation served by a
// processor actor.
type ToolObserver interface {
	ObserveToolCall(tool string, d time.Duration, err error)
}

// ProcessorActorOptions configure a ProcessorActor.
type ProcessorActorOptions struct {
	Renderer    template.Renderer
	Credentials map[string]any
	// InputSchema is the tool schema used when the config declares none.
	InputSchema map[string]any
	Observer    ToolObserver
}

// ProcessorActor runs a processor.Processor as a graph step. In agent mode
// it also serves TOOL_INVOKE messages, answering each call on its own
// reply stream.
type ProcessorActor struct {
	cfg  core.ActorConfig
	proc processor.Processor
	opts ProcessorActorOptions
}

// NewProcessorActor wraps proc for cfg.
func NewProcessorActor(cfg core.ActorConfig, proc processor.Processor, optFns ...func(o *ProcessorActorOptions)) *ProcessorActor {
	opts := ProcessorActorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Renderer == nil {
		opts.Renderer = template.Default()
	}
	return &ProcessorActor{cfg: cfg, proc: proc, opts: opts}
}

// Name implements Actor.
func (p *ProcessorActor) Name() string { return p.cfg.Name }

// TemplateKey implements Actor.
func (p *ProcessorActor) TemplateKey() string { return p.cfg.Key() }

// Config returns the actor config.
func (p *ProcessorActor) Config() core.ActorConfig { return p.cfg }

// Dependencies returns the declared dependencies plus every top-level
// identifier referenced by the configured input.
func (p *ProcessorActor) Dependencies() []string {
	set := map[string]struct{}{}
	for _, d := range p.cfg.Dependencies {
		set[d] = struct{}{}
	}
	for _, d := range template.MapIdentifiers(p.cfg.Input) {
		set[d] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)

	return out
}

// ToolSchema returns the JSON schema advertised for tool calls.
func (p *ProcessorActor) ToolSchema() map[string]any {
	if len(p.cfg.Parameters) > 0 {
		return p.cfg.Parameters
	}
	if len(p.opts.InputSchema) > 0 {
		return p.opts.InputSchema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Input renders the configured input against the dependency outputs and
// runs the processor. A processing failure is reported on the stream and
// bookkept before the actor stops.
func (p *ProcessorActor) Input(actx *Context, inputs value.Map) error {
	start := time.Now()

	in := inputs
	if len(p.cfg.Input) > 0 {
		rendered, err := p.renderInput(inputs)
		if err != nil {
			return p.failed(actx, inputs, start, err)
		}
		in = rendered
	}

	sessionData, err := actx.LoadSessionData(p.cfg.Key())
	if err != nil {
		actx.LogWarn("actor.session_data.load_failed", "error", err.Error())
		sessionData = map[string]any{}
	}

	env, emitted := p.newEnv(actx, actx.Stream, sessionData)

	out, err := p.proc.Process(env, in)
	if err != nil {
		return p.failed(actx, in, start, err)
	}

	if !*emitted && out != nil {
		if err := actx.Stream.Write(out); err != nil {
			return err
		}
	}

	if err := p.cfg.CheckOutput(actx.Stream.Value()); err != nil {
		return p.failed(actx, in, start, err)
	}

	final, err := actx.Stream.Finalize()
	if err != nil {
		return err
	}

	persisted := value.Value(value.Null{})
	if sp, ok := p.proc.(processor.SessionPersister); ok {
		data := sp.SessionDataToPersist()
		if err := actx.SaveSessionData(p.cfg.Key(), data); err != nil {
			actx.LogWarn("actor.session_data.save_failed", "error", err.Error())
		}
		persisted = value.FromAny(data)
	}

	rec := p.record(in, start)
	rec.Output = final
	rec.SessionData = persisted
	rec.UsageData = env.Usage()
	actx.Stream.Bookkeep(rec)

	actx.LogDebug("actor.processed", "duration_ms", time.Since(start).Milliseconds())

	return nil
}

// OnError lets processors implementing processor.ErrorHandler supply a
// fallback output for a failed dependency.
func (p *ProcessorActor) OnError(actx *Context, key string, errs []string) error {
	if actx.Stream.Terminal() {
		return nil
	}

	msg := fmt.Sprintf("dependency %s failed: %s", key, strings.Join(errs, "; "))

	h, ok := p.proc.(processor.ErrorHandler)
	if !ok {
		actx.LogWarn("actor.dependency_failed", "dependency", key, "errors", errs)
		actx.Stream.Errors(msg)
		actx.Stream.Bookkeep(ErrorRecord(msg))
		return nil
	}

	env, _ := p.newEnv(actx, actx.Stream, nil)

	fallback, err := h.OnError(env, key, errs)
	if err != nil || fallback == nil {
		if err != nil {
			msg = err.Error()
		}
		actx.Stream.Errors(msg)
		actx.Stream.Bookkeep(ErrorRecord(msg))
		return nil
	}

	if err := actx.Stream.Write(fallback); err != nil {
		return err
	}
	final, err := actx.Stream.Finalize()
	if err != nil {
		return err
	}

	rec := core.NewBookKeepingRecord()
	rec.Output = final
	rec.RunData = value.Map{"errors": core.ErrorsValue(errs...)}
	actx.Stream.Bookkeep(rec)

	return nil
}

// Receive serves TOOL_INVOKE messages.
func (p *ProcessorActor) Receive(actx *Context, msg core.Message) error {
	if msg.Type != core.MessageTypeToolInvoke {
		return nil
	}

	start := time.Now()
	callID := value.Text(value.Get(msg.Data, "id"))
	reply := actx.Stream.Reply(msg.Sender, msg.ID)

	args, out, err := p.safeInvoke(actx, reply, value.Text(value.Get(msg.Data, "arguments")), callID)

	if p.opts.Observer != nil {
		p.opts.Observer.ObserveToolCall(p.Name(), time.Since(start), err)
	}

	rec := p.record(args, start)
	rec.MessageID = callID

	if err != nil {
		reply.Errors(toolMessage(err))
		rec.RunData = value.Map{
			"duration": value.Number(time.Since(start).Seconds()),
			"errors":   core.ErrorsValue(toolMessage(err)),
		}
		actx.Stream.Bookkeep(rec)
		actx.LogWarn("actor.tool.failed", "tool", p.Name(), "call_id", callID, "error", err.Error())
		return nil
	}

	rec.Output = out
	actx.Stream.Bookkeep(rec)
	actx.LogDebug("actor.tool.completed", "tool", p.Name(), "call_id", callID)

	return nil
}

// safeInvoke runs invoke and turns a panic into an EXECUTION_ERROR so the
// caller still gets a reply for the call.
func (p *ProcessorActor) safeInvoke(actx *Context, reply *OutputStream, rawArgs, callID string) (args value.Map, out value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			actx.LogError("actor.tool.panic", "tool", p.Name(), "call_id", callID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if args == nil {
				args = value.Map{}
			}
			out = nil
			err = core.NewToolInvocationError(p.Name(), callID, core.ToolErrorExecution, fmt.Sprintf("panic: %v", r))
		}
	}()

	return p.invoke(actx, reply, rawArgs, callID)
}

// invoke parses and validates the arguments, runs the processor and
// finalizes the reply stream.
func (p *ProcessorActor) invoke(actx *Context, reply *OutputStream, rawArgs, callID string) (value.Map, value.Value, error) {
	args := value.Map{}
	if rawArgs != "" {
		parsed, err := value.Parse([]byte(rawArgs))
		if err != nil {
			return args, nil, core.NewToolInvocationError(p.Name(), callID, core.ToolErrorValidation,
				fmt.Sprintf("invalid arguments: %v", err))
		}
		m, ok := parsed.(value.Map)
		if !ok {
			return args, nil, core.NewToolInvocationError(p.Name(), callID, core.ToolErrorValidation,
				"arguments must be a JSON object")
		}
		args = m
	}

	raw, _ := value.ToAny(args).(map[string]any)
	if err := schema.Validate(raw, p.ToolSchema()); err != nil {
		return args, nil, core.NewToolInvocationError(p.Name(), callID, core.ToolErrorValidation,
			fmt.Sprintf("parameter validation failed: %v", err))
	}

	in := value.Map{}
	if len(p.cfg.Input) > 0 {
		rendered, err := p.renderInput(args)
		if err != nil {
			return args, nil, core.NewToolInvocationError(p.Name(), callID, core.ToolErrorValidation, err.Error())
		}
		in = rendered
	}
	for k, v := range args {
		in[k] = v
	}

	sessionData, err := actx.LoadSessionData(p.cfg.Key())
	if err != nil {
		sessionData = map[string]any{}
	}

	env, emitted := p.newEnv(actx, reply, sessionData)

	out, err := p.proc.Process(env, in)
	if err != nil {
		return in, nil, err
	}

	if !*emitted && out != nil {
		if err := reply.Write(out); err != nil {
			return in, nil, err
		}
	}

	if err := p.cfg.CheckOutput(reply.Value()); err != nil {
		return in, nil, core.NewToolInvocationError(p.Name(), callID, core.ToolErrorExecution, err.Error())
	}

	final, err := reply.Finalize()
	if err != nil {
		return in, nil, err
	}

	return in, final, nil
}

func (p *ProcessorActor) renderInput(data value.Map) (value.Map, error) {
	rendered, err := template.RenderValue(p.opts.Renderer, p.cfg.Input, data)
	if err != nil {
		return nil, fmt.Errorf("render input: %w", err)
	}
	m, ok := rendered.(value.Map)
	if !ok {
		return nil, fmt.Errorf("render input: expected map, got %T", rendered)
	}
	return m, nil
}

func (p *ProcessorActor) newEnv(actx *Context, out *OutputStream, sessionData map[string]any) (*processor.Env, *bool) {
	emitted := new(bool)
	env := processor.NewEnv(actx.Context, actx.SessionID, actx.RunID, p.cfg.Key(), sessionData,
		func(v value.Value) error {
			*emitted = true
			return out.Write(v)
		}, actx.Logger())
	for k, v := range p.opts.Credentials {
		env.Credentials[k] = v
	}
	return env, emitted
}

func (p *ProcessorActor) record(in value.Value, start time.Time) core.BookKeepingRecord {
	rec := core.NewBookKeepingRecord()
	rec.Input = in
	rec.Config = p.cfg.Config
	rec.Timestamp = start.UTC()
	rec.RunData = value.Map{
		"duration": value.Number(time.Since(start).Seconds()),
		"errors":   value.List{},
	}
	return rec
}

func (p *ProcessorActor) failed(actx *Context, in value.Value, start time.Time, err error) error {
	actx.LogError("actor.process_failed", "error", err.Error())

	msg := (&core.ActorProcessingError{Actor: p.Name(), Err: err}).Error()
	actx.Stream.Errors(msg)

	rec := p.record(in, start)
	rec.RunData = value.Map{
		"duration": value.Number(time.Since(start).Seconds()),
		"errors":   core.ErrorsValue(msg),
	}
	actx.Stream.Bookkeep(rec)

	return &reportedError{err: err}
}

func toolMessage(err error) string {
	var toolErr *core.ToolInvocationError
	if errors.As(err, &toolErr) {
		return toolErr.Message
	}
	return err.Error()
}
