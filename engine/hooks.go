package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/app"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// Stage is a point in the run lifecycle where hooks execute.
type Stage string

const (
	// StageBeforeRun follows graph construction and precedes Start. A hook
	// error aborts the invocation.
	StageBeforeRun Stage = "before_run"
	// StageOnError fires when a run ends with errors, before StageAfterRun.
	StageOnError Stage = "on_error"
	// StageAfterRun fires once per started run after it stopped.
	StageAfterRun Stage = "after_run"
)

// RunInfo describes the run a hook executes for.
type RunInfo struct {
	Stage     Stage
	SessionID string
	RunID     string
	App       *app.Definition
	Started   time.Time

	// Result is nil during StageBeforeRun.
	Result *core.Result
}

// Hook is a lifecycle callback.
type Hook func(ctx context.Context, info *RunInfo) error

// Hooks holds lifecycle callbacks per stage. The zero value and nil are
// ready to use.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[Stage][]Hook
}

// On registers fn for stage. Hooks run in registration order.
func (h *Hooks) On(stage Stage, fn Hook) *Hooks {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hooks == nil {
		h.hooks = map[Stage][]Hook{}
	}
	h.hooks[stage] = append(h.hooks[stage], fn)

	return h
}

// run executes the hooks of stage and stops at the first error.
func (h *Hooks) run(ctx context.Context, stage Stage, info *RunInfo) error {
	if h == nil {
		return nil
	}

	h.mu.RLock()
	fns := h.hooks[stage]
	h.mu.RUnlock()

	info.Stage = stage
	for _, fn := range fns {
		if err := fn(ctx, info); err != nil {
			return fmt.Errorf("%s hook: %w", stage, err)
		}
	}

	return nil
}

// LogHook logs every stage it is registered for as "engine.hook.<stage>".
func LogHook(l logging.Logger) Hook {
	l = logging.OrNoOp(l)

	return func(_ context.Context, info *RunInfo) error {
		args := []any{"session_id", info.SessionID, "run_id", info.RunID}
		if info.App != nil {
			args = append(args, "app", info.App.Name)
		}
		if info.Result != nil {
			args = append(args, "ok", info.Result.OK(), "duration_ms", time.Since(info.Started).Milliseconds())
			if !info.Result.OK() {
				args = append(args, "errors", info.Result.Errors)
			}
		}
		l.Info("engine.hook."+string(info.Stage), args...)
		return nil
	}
}
