package registry

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scripting "github.com/goliatone/go-scripting"
)

type runtimeScheduler struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (s *runtimeScheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.startErr
}

func (s *runtimeScheduler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func upperBackend() scripting.Backend {
	return scripting.ExecuteFunc(func(_ context.Context, code io.Reader, _ any, _ string) (any, error) {
		raw, err := io.ReadAll(code)
		return strings.ToUpper(string(raw)), err
	})
}

func TestRuntimeStartsEngineAndScheduler(t *testing.T) {
	scheduler := &runtimeScheduler{}
	var events []scripting.EventKind
	var mu sync.Mutex

	rt := NewRuntime(RuntimeDependencies{
		Backend:   upperBackend(),
		Scheduler: scheduler,
		Listeners: []scripting.ExecutionListener{scripting.ListenerFunc(func(_ *scripting.Engine, _ *scripting.Script, kind scripting.EventKind) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, kind)
		})},
		EngineOptions: []scripting.Option{scripting.WithLogger(scripting.NewFmtLogger(io.Discard))},
	})
	require.NotNil(t, rt.Registry())

	require.NoError(t, rt.Start(context.Background()))
	assert.Equal(t, 1, scheduler.starts)

	result, err := rt.Engine().SubmitSync(context.Background(), "hello")
	require.NoError(t, err)
	value, err := result.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HELLO", value)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, 1, scheduler.stops)
	assert.Equal(t, scripting.StateTerminated, rt.Engine().State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, scripting.EventEngineEnd, events[len(events)-1])
}

func TestRuntimeSchedulerFailureTerminatesEngine(t *testing.T) {
	rt := NewRuntime(RuntimeDependencies{
		Backend:       upperBackend(),
		Scheduler:     &runtimeScheduler{startErr: errors.New("bad spec")},
		EngineOptions: []scripting.Option{scripting.WithLogger(scripting.NewFmtLogger(io.Discard))},
	})

	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "SCHEDULER_START_FAILED", textCode(t, err))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = rt.Engine().Wait(ctx)
	require.NoError(t, err)
}

func TestRuntimeIsInstanceFirst(t *testing.T) {
	a := NewRuntime(RuntimeDependencies{Backend: upperBackend()})
	b := NewRuntime(RuntimeDependencies{Backend: upperBackend()})

	require.NoError(t, a.Registry().RegisterFunc("tenant-a", func(context.Context, *scripting.Engine) error { return nil }))
	assert.True(t, a.Registry().Has("tenant-a"))
	assert.False(t, b.Registry().Has("tenant-a"))
	assert.False(t, Default().Has("tenant-a"))
}

func TestRuntimeDependenciesSnapshot(t *testing.T) {
	reg := New()
	rt := NewRuntime(RuntimeDependencies{
		Backend:       upperBackend(),
		Registry:      reg,
		EngineOptions: []scripting.Option{scripting.WithID("snap")},
	})
	snapshot := rt.Dependencies()
	assert.Same(t, reg, snapshot.Registry)
	assert.Len(t, snapshot.EngineOptions, 1)
	assert.Equal(t, "snap", rt.Engine().ID())

	snapshot.EngineOptions[0] = nil
	assert.NotNil(t, rt.Dependencies().EngineOptions[0])
}

func TestRuntimeBuildsSchedulerFromEngine(t *testing.T) {
	sched := &runtimeScheduler{}
	var fedBy *scripting.Engine
	rt := NewRuntime(RuntimeDependencies{
		Backend: upperBackend(),
		NewScheduler: func(engine *scripting.Engine) Scheduler {
			fedBy = engine
			return sched
		},
	})
	assert.Same(t, rt.Engine(), fedBy)

	require.NoError(t, rt.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Stop(ctx))

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, 1, sched.starts)
	assert.Equal(t, 1, sched.stops)
}
