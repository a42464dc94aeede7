package registry

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"

	scripting "github.com/goliatone/go-scripting"
)

// Scheduler is the minimum cron dependency a Runtime starts and stops
// alongside its engine.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RuntimeDependencies captures explicit runtime wiring dependencies.
type RuntimeDependencies struct {
	Backend  scripting.Backend
	Registry *Registry

	Listeners     []scripting.ExecutionListener
	Scheduler     Scheduler
	EngineOptions []scripting.Option

	// NewScheduler builds a scheduler fed by the runtime's engine. It is
	// used only when Scheduler is nil.
	NewScheduler func(engine *scripting.Engine) Scheduler
}

// Runtime is an instance-first composition of an engine, its launch
// extensions, listeners and an optional scheduler.
type Runtime struct {
	mu      sync.Mutex
	deps    RuntimeDependencies
	reg     *Registry
	engine  *scripting.Engine
	started bool
}

// NewRuntime builds the engine from deps. A nil Registry gets a fresh one,
// never the process-wide default.
func NewRuntime(deps RuntimeDependencies) *Runtime {
	reg := deps.Registry
	if reg == nil {
		reg = New()
	}

	opts := []scripting.Option{scripting.WithLaunchExtensions(reg)}
	if len(deps.Listeners) > 0 {
		opts = append(opts, scripting.WithListener(deps.Listeners...))
	}
	opts = append(opts, deps.EngineOptions...)

	engine := scripting.New(deps.Backend, opts...)
	if deps.Scheduler == nil && deps.NewScheduler != nil {
		deps.Scheduler = deps.NewScheduler(engine)
	}

	return &Runtime{
		deps:   deps,
		reg:    reg,
		engine: engine,
	}
}

// Dependencies returns a copy of runtime dependencies.
func (r *Runtime) Dependencies() RuntimeDependencies {
	if r == nil {
		return RuntimeDependencies{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copyDeps := r.deps
	copyDeps.Registry = r.reg
	if len(copyDeps.Listeners) > 0 {
		copyDeps.Listeners = append([]scripting.ExecutionListener(nil), copyDeps.Listeners...)
	}
	if len(copyDeps.EngineOptions) > 0 {
		copyDeps.EngineOptions = append([]scripting.Option(nil), copyDeps.EngineOptions...)
	}
	return copyDeps
}

func (r *Runtime) Registry() *Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Runtime) Engine() *scripting.Engine {
	if r == nil {
		return nil
	}
	return r.engine
}

// Start starts the engine, then the scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.engine == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("runtime already started", errors.CategoryConflict).
			WithTextCode("RUNTIME_ALREADY_STARTED")
	}
	if err := r.engine.Start(ctx); err != nil {
		return err
	}
	if r.deps.Scheduler != nil {
		if err := r.deps.Scheduler.Start(ctx); err != nil {
			r.engine.Terminate()
			return errors.Wrap(err, errors.CategoryExternal, "scheduler failed to start").
				WithTextCode("SCHEDULER_START_FAILED")
		}
	}
	r.started = true
	return nil
}

// Stop halts the scheduler so nothing new is submitted, terminates the
// engine and waits for its worker to exit or ctx to end.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil || r.engine == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	if r.deps.Scheduler != nil {
		if err := r.deps.Scheduler.Stop(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	r.engine.Terminate()
	if r.started {
		if _, err := r.engine.Wait(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	r.started = false
	return errs
}
