package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/value"
)

const waitTimeout = 2 * time.Second

type recordingActor struct {
	name  string
	deps  []string
	fn    func(actx *Context, inputs value.Map) error
	mu    sync.Mutex
	calls []value.Map
}

func (a *recordingActor) Name() string           { return a.name }
func (a *recordingActor) TemplateKey() string    { return a.name }
func (a *recordingActor) Dependencies() []string { return a.deps }

func (a *recordingActor) Input(actx *Context, inputs value.Map) error {
	a.mu.Lock()
	a.calls = append(a.calls, inputs)
	a.mu.Unlock()
	if a.fn != nil {
		return a.fn(actx, inputs)
	}
	_, err := actx.Stream.Finalize()
	return err
}

func (a *recordingActor) Calls() []value.Map {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]value.Map(nil), a.calls...)
}

func content(key string, v value.Value) core.Message {
	return testutil.NewMessageBuilder(core.MessageTypeContent).From(key).Key(key).Data(v).Build()
}

func TestHandle_FiresOnceWhenAllDependenciesArrive(t *testing.T) {
	orders := [][]string{{"a", "b"}, {"b", "a"}}

	for _, order := range orders {
		t.Run(order[0]+"_first", func(t *testing.T) {
			rec := testutil.NewRecorder()
			a := &recordingActor{name: "join", deps: []string{"a", "b"}}
			h := Spawn(context.Background(), a, rec)
			defer func() { _ = h.Stop(context.Background()) }()

			h.Tell(content(order[0], value.String("1")))
			h.Tell(content("unrelated", value.String("x")))

			_, ok := rec.WaitForType(core.MessageTypeContent, 50*time.Millisecond)
			assert.False(t, ok, "must not fire before every dependency arrived")

			h.Tell(content(order[1], value.String("2")))
			h.Tell(content(order[0], value.String("again")))

			_, ok = rec.WaitForType(core.MessageTypeContent, waitTimeout)
			require.True(t, ok)

			time.Sleep(20 * time.Millisecond)
			calls := a.Calls()
			require.Len(t, calls, 1)
			assert.Len(t, calls[0], 2)
		})
	}
}

func TestHandle_LastWriteWins(t *testing.T) {
	rec := testutil.NewRecorder()
	a := &recordingActor{name: "join", deps: []string{"a", "b"}}
	h := Spawn(context.Background(), a, rec)
	defer func() { _ = h.Stop(context.Background()) }()

	h.Tell(content("a", value.String("first")))
	h.Tell(content("a", value.String("second")))
	h.Tell(content("b", value.String("b")))

	_, ok := rec.WaitForType(core.MessageTypeContent, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, value.String("second"), a.Calls()[0]["a"])
}

func TestHandle_BeginFiresActorsWithoutDependencies(t *testing.T) {
	rec := testutil.NewRecorder()
	a := &recordingActor{name: "leaf"}
	h := Spawn(context.Background(), a, rec)
	defer func() { _ = h.Stop(context.Background()) }()

	h.Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, nil))
	h.Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, nil))

	_, ok := rec.WaitForType(core.MessageTypeContent, waitTimeout)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, a.Calls(), 1)
}

func TestHandle_SupervisorRecoversPanics(t *testing.T) {
	rec := testutil.NewRecorder()
	a := &recordingActor{name: "leaf", fn: func(*Context, value.Map) error { panic("kaboom") }}
	h := Spawn(context.Background(), a, rec)

	h.Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, nil))

	msg, ok := rec.WaitForType(core.MessageTypeErrors, waitTimeout)
	require.True(t, ok)
	assert.Contains(t, core.ErrorStrings(msg.Data)[0], "panic: kaboom")

	bk, ok := rec.WaitForType(core.MessageTypeBookKeeping, waitTimeout)
	require.True(t, ok)
	errs := core.ErrorStrings(value.Get(bk.Data, "run_data", "errors"))
	require.Len(t, errs, 1)

	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		t.Fatal("actor goroutine did not exit")
	}
	assert.False(t, h.Alive())
	assert.False(t, h.Tell(content("x", value.Null{})))
}

func TestHandle_ReturnedErrorStopsActor(t *testing.T) {
	rec := testutil.NewRecorder()
	a := &recordingActor{name: "leaf", fn: func(*Context, value.Map) error { return errors.New("bad input") }}
	h := Spawn(context.Background(), a, rec)

	h.Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, nil))

	msg, ok := rec.WaitForType(core.MessageTypeErrors, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, []string{"actor leaf: bad input"}, core.ErrorStrings(msg.Data))
}

func TestHandle_DependencyErrorPropagatesOnce(t *testing.T) {
	rec := testutil.NewRecorder()
	a := &recordingActor{name: "summary", deps: []string{"leaf"}}
	h := Spawn(context.Background(), a, rec)
	defer func() { _ = h.Stop(context.Background()) }()

	failure := testutil.NewMessageBuilder(core.MessageTypeErrors).From("leaf").Key("leaf").Errors("boom").Build()
	h.Tell(failure)
	h.Tell(failure)

	msg, ok := rec.WaitForType(core.MessageTypeErrors, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, []string{"dependency leaf failed: boom"}, core.ErrorStrings(msg.Data))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.OfType(core.MessageTypeErrors), 1)
	assert.Len(t, rec.OfType(core.MessageTypeBookKeeping), 1)
	assert.Empty(t, a.Calls())
}

type stopAwareActor struct {
	recordingActor
	stopped chan struct{}
}

func (a *stopAwareActor) OnStop(context.Context) error {
	close(a.stopped)
	return nil
}

func TestHandle_Stop(t *testing.T) {
	a := &stopAwareActor{recordingActor: recordingActor{name: "leaf", deps: []string{"x"}}, stopped: make(chan struct{})}
	h := Spawn(context.Background(), a, testutil.NewRecorder())

	require.NoError(t, h.Stop(context.Background()), "stopping a never started actor")
	<-a.stopped

	assert.ErrorIs(t, h.Stop(context.Background()), ErrActorStopped)
	assert.False(t, h.Tell(content("x", value.Null{})))
}

func TestHandle_DirectMessages(t *testing.T) {
	rec := testutil.NewRecorder()
	h := Spawn(context.Background(), NewInputActor(), rec)
	defer func() { _ = h.Stop(context.Background()) }()

	assert.Empty(t, h.Dependencies())

	h.Tell(core.NewMessage(core.MessageTypeBegin, core.CoordinatorActorName, nil))
	h.Tell(testutil.NewMessageBuilder(core.MessageTypeContent).
		From(core.CoordinatorActorName).
		To(core.InputActorName).
		Map("data", "New!").
		Build())

	msg, ok := rec.WaitForType(core.MessageTypeContent, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, value.Map{"data": value.String("New!")}, msg.Data)
	assert.Equal(t, core.InputActorName, msg.Sender)

	bk, ok := rec.WaitForType(core.MessageTypeBookKeeping, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, value.Map{"data": value.String("New!")}, value.Get(bk.Data, "input"))
}
