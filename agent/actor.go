package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/actor"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/template"
	"github.com/hupe1980/agentgraph/value"
)

const historyKey = "history"

// ModelObserver is notified about every model call made by the agent.
type ModelObserver interface {
	ObserveModelCall(provider, model string, d time.Duration, tokens int, err error)
}

// ActorOptions configure the agent actor.
type ActorOptions struct {
	Tools    []model.ToolDefinition
	Renderer template.Renderer
	Tracer   trace.Tracer
	Observer ModelObserver
}

// Actor is the reserved "agent" actor. It depends on the input actor and
// drives a Controller, dispatching tool calls to sibling actors named
// after the tools.
type Actor struct {
	cfg   Config
	model model.Model
	opts  ActorOptions

	controller *Controller
	// invocations maps TOOL_INVOKE message ids to tool call ids.
	invocations map[string]string
	inputs      value.Map
	start       time.Time
	streamed    bool
	finished    bool
}

// NewActor creates the agent actor.
func NewActor(cfg Config, m model.Model, optFns ...func(o *ActorOptions)) *Actor {
	opts := ActorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Renderer == nil {
		opts.Renderer = template.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentgraph/agent")
	}

	a := &Actor{
		cfg:         cfg,
		model:       m,
		opts:        opts,
		invocations: map[string]string{},
	}

	a.controller = NewController(m, func(o *ControllerOptions) {
		o.SystemMessage = NewInstructionFromText(cfg.SystemMessage)
		o.UserMessage = NewInstructionFromText(cfg.UserMessageTemplate)
		o.Tools = opts.Tools
		o.MaxSteps = cfg.MaxSteps
		o.Stream = cfg.Stream
		o.Temperature = cfg.Temperature
		o.Renderer = opts.Renderer
	})

	return a
}

// Name implements actor.Actor.
func (*Actor) Name() string { return core.AgentActorName }

// TemplateKey implements actor.Actor.
func (*Actor) TemplateKey() string { return core.AgentActorName }

// Dependencies implements actor.Actor.
func (*Actor) Dependencies() []string { return []string{core.InputActorName} }

// Controller returns the underlying controller.
func (a *Actor) Controller() *Controller { return a.controller }

// Input starts the loop with the user input.
func (a *Actor) Input(actx *actor.Context, inputs value.Map) error {
	a.start = time.Now()
	a.inputs = inputs

	history, err := a.loadHistory(actx)
	if err != nil {
		actx.LogWarn("agent.history.load_failed", "error", err.Error())
	}

	if err := a.controller.Start(history, inputs); err != nil {
		a.finishWithError(actx, err)
		return nil
	}

	a.run(actx)

	return nil
}

// Receive collects tool replies.
func (a *Actor) Receive(actx *actor.Context, msg core.Message) error {
	callID, ok := a.invocations[msg.ReplyTo]
	if !ok || a.finished {
		return nil
	}

	var (
		resolved bool
		result   string
	)

	switch msg.Type {
	case core.MessageTypeContent:
		result = value.Text(msg.Data)
		resolved = a.controller.Resolve(callID, result, nil)
		delete(a.invocations, msg.ReplyTo)
	case core.MessageTypeErrors, core.MessageTypeStreamError:
		result = strings.Join(core.ErrorStrings(msg.Data), "; ")
		resolved = a.controller.Resolve(callID, "", fmt.Errorf("%s", result))
		delete(a.invocations, msg.ReplyTo)
	default:
		return nil
	}

	actx.LogDebug("agent.tool.result", "tool", msg.Sender, "call_id", callID, "pending", a.controller.Pending())

	if resolved {
		a.run(actx)
	}

	return nil
}

// OnError ends the loop when the input actor fails.
func (a *Actor) OnError(actx *actor.Context, key string, errs []string) error {
	if a.finished {
		return nil
	}
	a.finishWithError(actx, fmt.Errorf("dependency %s failed: %s", key, strings.Join(errs, "; ")))
	return nil
}

// run steps the controller until it dispatches tool calls or ends.
func (a *Actor) run(actx *actor.Context) {
	for {
		out := a.step(actx)

		switch {
		case out.Err != nil:
			a.finishWithError(actx, out.Err)
			return
		case out.Done:
			a.finish(actx, out)
			return
		case len(out.Dispatch) > 0:
			a.dispatch(actx, out.Dispatch)
			return
		}
		// Every call resolved locally; call the model again.
	}
}

func (a *Actor) step(actx *actor.Context) Outcome {
	info := a.model.Info()

	ctx, span := a.opts.Tracer.Start(actx.Context, "agent.model_call",
		trace.WithAttributes(
			attribute.String("agent.provider", info.Provider),
			attribute.String("agent.model", info.Name),
			attribute.Int("agent.step", a.controller.Steps()+1),
		))
	defer span.End()

	start := time.Now()
	before := a.controller.Usage().TotalTokens

	out := a.controller.Step(ctx, func(delta string) error {
		a.streamed = true
		return actx.Stream.Write(value.Map{"text": value.String(delta)})
	})

	tokens := a.controller.Usage().TotalTokens - before
	if a.opts.Observer != nil && !out.Truncated {
		a.opts.Observer.ObserveModelCall(info.Provider, info.Name, time.Since(start), tokens, out.Err)
	}

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		actx.LogError("agent.model_call.failed", "model", info.Name, "error", out.Err.Error())
	} else {
		span.SetAttributes(attribute.Int("agent.tool_calls", len(out.Dispatch)))
		actx.LogDebug("agent.model_call", "model", info.Name, "tool_calls", len(out.Dispatch), "done", out.Done)
	}

	return out
}

func (a *Actor) dispatch(actx *actor.Context, calls []core.ToolCall) {
	for _, call := range calls {
		msg := core.NewMessage(core.MessageTypeToolInvoke, core.AgentActorName, value.Map{
			"id":        value.String(call.ID),
			"name":      value.String(call.Name),
			"arguments": value.String(call.Arguments),
		}).To(call.Name)

		a.invocations[msg.ID] = call.ID

		actx.LogDebug("agent.tool.dispatch", "tool", call.Name, "call_id", call.ID)

		if !actx.Send(msg) {
			delete(a.invocations, msg.ID)
			a.controller.Resolve(call.ID, "", fmt.Errorf("tool %s unavailable", call.Name))
		}
	}

	if a.controller.State() == StateModelCall {
		a.run(actx)
	}
}

func (a *Actor) finish(actx *actor.Context, out Outcome) {
	a.finished = true

	if !a.streamed || out.Truncated {
		text := out.Text
		if a.streamed {
			text = "\n" + text
		}
		if err := actx.Stream.Write(value.Map{"text": value.String(text)}); err != nil {
			actx.LogWarn("agent.output.write_failed", "error", err.Error())
		}
	}

	final, err := actx.Stream.Finalize()
	if err != nil {
		actx.LogWarn("agent.output.finalize_failed", "error", err.Error())
	}

	a.saveHistory(actx)

	rec := a.record()
	rec.Output = final
	actx.Stream.Bookkeep(rec)

	actx.LogInfo("agent.done", "steps", a.controller.Steps(), "truncated", out.Truncated)

	a.done(actx)
}

func (a *Actor) finishWithError(actx *actor.Context, err error) {
	a.finished = true

	msg := err.Error()
	actx.Stream.Errors(msg)

	rec := a.record()
	rec.RunData = value.Map{
		"duration": value.Number(a.elapsed().Seconds()),
		"steps":    value.Number(a.controller.Steps()),
		"errors":   core.ErrorsValue(msg),
	}
	actx.Stream.Bookkeep(rec)

	a.done(actx)
}

func (a *Actor) done(actx *actor.Context) {
	actx.Send(core.NewMessage(core.MessageTypeAgentDone, core.AgentActorName, value.Null{}))
}

func (a *Actor) record() core.BookKeepingRecord {
	usage := a.controller.Usage()

	rec := core.NewBookKeepingRecord()
	rec.Input = a.inputs
	rec.Config = value.FromAny(a.cfg)
	rec.RunData = value.Map{
		"duration": value.Number(a.elapsed().Seconds()),
		"steps":    value.Number(a.controller.Steps()),
		"errors":   value.List{},
	}
	rec.UsageData = value.Map{
		"prompt_tokens":     value.Number(usage.PromptTokens),
		"completion_tokens": value.Number(usage.CompletionTokens),
		"total_tokens":      value.Number(usage.TotalTokens),
	}

	return rec
}

func (a *Actor) elapsed() time.Duration {
	if a.start.IsZero() {
		return 0
	}
	return time.Since(a.start)
}

func (a *Actor) loadHistory(actx *actor.Context) ([]core.AgentTurn, error) {
	data, err := actx.LoadSessionData(core.AgentActorName)
	if err != nil {
		return nil, err
	}

	raw, ok := data[historyKey]
	if !ok || raw == nil {
		return nil, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var turns []core.AgentTurn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	return turns, nil
}

func (a *Actor) saveHistory(actx *actor.Context) {
	b, err := json.Marshal(a.controller.History())
	if err != nil {
		actx.LogWarn("agent.history.encode_failed", "error", err.Error())
		return
	}

	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		actx.LogWarn("agent.history.encode_failed", "error", err.Error())
		return
	}

	if err := actx.SaveSessionData(core.AgentActorName, map[string]any{historyKey: raw}); err != nil {
		actx.LogWarn("agent.history.save_failed", "error", err.Error())
	}
}
