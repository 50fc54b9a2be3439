package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/app"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/jobs"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/processor"
	"github.com/hupe1980/agentgraph/value"
)

const helloApp = `
name: hello
output_template: "{{ leaf.output_str }} {{ input.data }}"
actors:
  - id: leaf
    processor_slug: echo
    provider_slug: builtin
    input:
      input_str: "Hello, World!"
    config:
      stream: true
      chunk_size: 3
`

func parseApp(t *testing.T, src string) *app.Definition {
	t.Helper()

	def, err := app.Parse([]byte(src), "yaml")
	require.NoError(t, err)

	return def
}

type blockingProcessor struct{}

func (blockingProcessor) Process(env *processor.Env, _ value.Map) (value.Value, error) {
	<-env.Context.Done()
	return nil, env.Context.Err()
}

func newEngine(t *testing.T, optFns ...func(o *Options)) *Engine {
	t.Helper()

	eng, err := New(append([]func(o *Options){func(o *Options) {
		o.Config.StopGrace = 50 * time.Millisecond
	}}, optFns...)...)
	require.NoError(t, err)

	return eng
}

func TestEngine_InvokeSync(t *testing.T) {
	var (
		mu     sync.Mutex
		jobIDs []string
	)
	q := jobs.NewQueue(jobs.SinkFunc(func(_ context.Context, job core.BookKeepingJob) error {
		mu.Lock()
		defer mu.Unlock()
		jobIDs = append(jobIDs, job.RunID)
		return nil
	}))

	var after []*RunInfo
	hooks := (&Hooks{}).
		On(StageAfterRun, LogHook(logging.NoOpLogger{})).
		On(StageAfterRun, func(_ context.Context, info *RunInfo) error {
			mu.Lock()
			defer mu.Unlock()
			after = append(after, info)
			return nil
		})

	eng := newEngine(t, func(o *Options) {
		o.Queue = q
		o.Hooks = hooks
		o.Metrics = metrics.New(prometheus.NewRegistry())
	})

	res, err := eng.InvokeSync(context.Background(), "sess-1", parseApp(t, helloApp), value.Map{"data": value.String("New!")})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, value.String("Hello, World! New!"), res.Output)
	assert.NotEmpty(t, res.RunID)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(after) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, eng.ActiveRuns())
	require.NoError(t, q.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{res.RunID}, jobIDs)
	assert.Equal(t, StageAfterRun, after[0].Stage)
	assert.Equal(t, res.RunID, after[0].RunID)
	assert.Equal(t, "hello", after[0].App.Name)
	assert.True(t, after[0].Result.OK())
	assert.Contains(t, after[0], res.RunID)
}

func TestEngine_InvokeStreams(t *testing.T) {
	eng := newEngine(t)

	runID, chunks, err := eng.Invoke(context.Background(), "sess-1", parseApp(t, helloApp), value.Map{"data": value.String("New!")})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	var (
		text  strings.Builder
		final core.Chunk
	)
	for c := range chunks {
		text.WriteString(c.Delta)
		if c.IsTerminal() {
			final = c
		}
	}

	assert.True(t, final.Final)
	assert.Equal(t, "Hello, World! New!", text.String())
}

func TestEngine_AgentMode(t *testing.T) {
	m := model.NewMockModel("mock", "mock").AddScript(
		model.Script{ToolCalls: []core.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{"input_str":"42"}`}}},
		model.Script{Text: "The answer is 42."},
	)

	eng := newEngine(t, func(o *Options) {
		o.Models = func(cfg agent.Config) (model.Model, error) {
			assert.Equal(t, 30, cfg.MaxSteps)
			return m, nil
		}
	})

	def := parseApp(t, `
agent:
  provider: mock
actors:
  - id: lookup
    kind: tool
    processor_slug: echo
    provider_slug: builtin
    description: Echo the query
`)

	res, err := eng.InvokeSync(context.Background(), "sess-1", def, value.Map{"data": value.String("what?")})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, value.String("The answer is 42."), res.Output)
}

func TestEngine_ConstructionError(t *testing.T) {
	eng := newEngine(t)

	def := parseApp(t, `
actors:
  - id: leaf
    processor_slug: nope
    provider_slug: builtin
`)

	_, _, err := eng.Invoke(context.Background(), "sess-1", def, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrUnknownProcessor)
	assert.Equal(t, 0, eng.ActiveRuns())

	_, _, err = eng.Invoke(context.Background(), "sess-1", nil, nil)
	assert.Error(t, err)
}

func TestEngine_BeforeRunHookAborts(t *testing.T) {
	hooks := (&Hooks{}).On(StageBeforeRun, func(context.Context, *RunInfo) error {
		return errors.New("quota exceeded")
	})

	eng := newEngine(t, func(o *Options) {
		o.Hooks = hooks
		o.Config.MaxConcurrentRuns = 1
	})

	_, _, err := eng.Invoke(context.Background(), "sess-1", parseApp(t, helloApp), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	// A leaked run slot would make the second call time out instead.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = eng.InvokeSync(ctx, "sess-1", parseApp(t, helloApp), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 0, eng.ActiveRuns())
}

func blockingRegistry(t *testing.T) *processor.Registry {
	t.Helper()

	r := processor.NewRegistry()
	require.NoError(t, processor.RegisterBuiltins(r, nil))
	r.MustRegister(processor.Spec{
		ProcessorSlug: "block",
		ProviderSlug:  "test",
		New:           func(core.ActorConfig) (processor.Processor, error) { return blockingProcessor{}, nil },
	})

	return r
}

const blockingApp = `
actors:
  - {id: slow, processor_slug: block, provider_slug: test}
`

func TestEngine_Stop(t *testing.T) {
	var (
		mu      sync.Mutex
		onError []string
	)
	hooks := (&Hooks{}).On(StageOnError, func(_ context.Context, info *RunInfo) error {
		mu.Lock()
		defer mu.Unlock()
		onError = append(onError, info.Result.Errors...)
		return nil
	})

	eng := newEngine(t, func(o *Options) {
		o.Registry = blockingRegistry(t)
		o.Hooks = hooks
	})

	runID, chunks, err := eng.Invoke(context.Background(), "sess-1", parseApp(t, blockingApp), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.ActiveRuns())

	require.NoError(t, eng.Stop(runID))

	var last core.Chunk
	for c := range chunks {
		last = c
	}
	assert.NotEmpty(t, last.Errors)

	assert.Eventually(t, func() bool { return eng.ActiveRuns() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, eng.Stop(runID), ErrRunNotFound)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(onError) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_StopAlwaysEndsWithErrors(t *testing.T) {
	eng := newEngine(t, func(o *Options) { o.Registry = blockingRegistry(t) })

	for i := 0; i < 25; i++ {
		runID, chunks, err := eng.Invoke(context.Background(), "sess-1", parseApp(t, blockingApp), nil)
		require.NoError(t, err)
		require.NoError(t, eng.Stop(runID))

		var last core.Chunk
		for c := range chunks {
			last = c
		}
		require.True(t, last.IsTerminal(), "run %d", i)
		require.NotEmpty(t, last.Errors, "run %d", i)
	}
}

func TestEngine_InvokeSyncStopped(t *testing.T) {
	runIDs := make(chan string, 1)
	hooks := (&Hooks{}).On(StageBeforeRun, func(_ context.Context, info *RunInfo) error {
		runIDs <- info.RunID
		return nil
	})

	eng := newEngine(t, func(o *Options) {
		o.Registry = blockingRegistry(t)
		o.Hooks = hooks
	})

	go func() {
		runID := <-runIDs
		assert.Eventually(t, func() bool { return eng.ActiveRuns() == 1 }, time.Second, time.Millisecond)
		assert.NoError(t, eng.Stop(runID))
	}()

	res, err := eng.InvokeSync(context.Background(), "sess-1", parseApp(t, blockingApp), nil)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.NotEmpty(t, res.Errors)
}

func TestEngine_BoundedConcurrency(t *testing.T) {
	eng := newEngine(t, func(o *Options) {
		o.Registry = blockingRegistry(t)
		o.Config.MaxConcurrentRuns = 1
	})

	runID, chunks, err := eng.Invoke(context.Background(), "sess-1", parseApp(t, blockingApp), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = eng.Invoke(ctx, "sess-1", parseApp(t, blockingApp), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, eng.Stop(runID))
	for range chunks {
	}
}

func TestProviderConfig_NewModel(t *testing.T) {
	p := ProviderConfig{OpenAIModel: "gpt-4o-mini", AnthropicModel: "claude-3-5-sonnet-20241022", AnthropicAPIKey: "test"}

	m, err := p.NewModel(ProviderOpenAI, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", m.Info().Name)

	m, err = p.NewModel(ProviderAnthropic, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-20241022", m.Info().Name)

	_, err = p.NewModel("acme", "", nil)
	assert.Error(t, err)
}

func TestEngine_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	eng := newEngine(t, func(o *Options) { o.Tracer = tp.Tracer("test") })

	res, err := eng.InvokeSync(context.Background(), "sess-1", parseApp(t, helloApp), value.Map{"data": value.String("New!")})
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Eventually(t, func() bool {
		names := map[string]bool{}
		for _, s := range sr.Ended() {
			names[s.Name()] = true
		}
		return names["engine.invoke"] && names["coordinator.run"]
	}, time.Second, 5*time.Millisecond)
}
