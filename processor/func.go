package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/schema"
	"github.com/hupe1980/agentgraph/value"
)

// ProviderFunction is the provider slug under which Func processors are
// registered.
const ProviderFunction = "function"

// Func is a generic adapter that exposes a plain Go function as a
// processor, typically one serving tool calls from the agent loop.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Failures are normalized to *core.ToolInvocationError:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> the function returned an error
//
// A *core.ToolInvocationError returned by the function is forwarded
// unchanged. Func holds no mutable state and is safe for concurrent use.
type Func struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(env *Env, args map[string]any) (any, error)
}

// NewFunc constructs a Func from an explicit schema and function.
//
// Example:
//
//	sum := NewFunc(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(env *Env, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunc(
	name, description string,
	parameters map[string]any,
	fn func(env *Env, args map[string]any) (any, error),
) *Func {
	return &Func{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFuncFromStruct derives the parameter schema from a struct using
// reflection (see schema.Of).
func NewFuncFromStruct(
	name, description string,
	structType any,
	fn func(env *Env, args map[string]any) (any, error),
) *Func {
	return NewFunc(name, description, schema.Of(structType), fn)
}

// Name returns the function name.
func (f *Func) Name() string { return f.name }

// Description returns the description exposed to models.
func (f *Func) Description() string { return f.description }

// Parameters returns the JSON schema of the accepted arguments.
func (f *Func) Parameters() map[string]any { return f.parameters }

// Process implements Processor.
func (f *Func) Process(env *Env, input value.Map) (value.Value, error) {
	start := time.Now()

	args, _ := value.ToAny(input).(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	env.LogDebug("tool.call.start", "tool", f.name)

	if err := schema.Validate(args, f.parameters); err != nil {
		env.LogWarn("tool.call.validation_failed", "tool", f.name, "error", err.Error())
		return nil, core.NewToolInvocationError(f.name, "", core.ToolErrorValidation,
			fmt.Sprintf("parameter validation failed: %v", err))
	}

	result, err := f.fn(env, args)
	if err != nil {
		var toolErr *core.ToolInvocationError
		if errors.As(err, &toolErr) {
			env.LogError("tool.call.error", "tool", f.name, "error", toolErr.Message)
			return nil, toolErr
		}

		env.LogError("tool.call.error", "tool", f.name, "error", err.Error())

		return nil, core.NewToolInvocationError(f.name, "", core.ToolErrorExecution, err.Error())
	}

	env.LogInfo("tool.call.success", "tool", f.name, "duration_ms", time.Since(start).Milliseconds())

	return value.FromAny(result), nil
}

// Spec registers f under (name, "function").
func (f *Func) Spec() Spec {
	return Spec{
		ProcessorSlug: f.name,
		ProviderSlug:  ProviderFunction,
		Description:   f.description,
		InputSchema:   f.parameters,
		New: func(core.ActorConfig) (Processor, error) {
			return f, nil
		},
	}
}
