package scripting

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-scripting/runner"
)

// State is the lifecycle position of an Engine.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Engine serializes script execution on a single worker goroutine. Scripts
// submitted from any goroutine run one at a time in FIFO order; a running
// script may Inject nested scripts, which run synchronously on the worker.
type Engine struct {
	backend Backend
	logger  Logger

	idMu  sync.RWMutex
	id    string
	idSet bool

	state            atomic.Int32
	terminateOnIdle  atomic.Bool
	terminated       atomic.Bool
	queueBeforeStart bool

	queue     *queue
	listeners listenerRegistry

	task atomic.Pointer[runner.Task]

	traceMu sync.RWMutex
	trace   *FileTrace
	current atomic.Pointer[Script]

	streamsMu sync.RWMutex
	output    io.Writer
	errOut    io.Writer
	input     io.Reader

	extensions LaunchExtensionSource
	setupOpts  []runner.Option
}

// New builds an Engine around backend. The engine does nothing until Start.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		logger:  NewFmtLogger(nil),
		queue:   newQueue(),
		trace:   NewFileTrace(),
		output:  os.Stdout,
		errOut:  os.Stderr,
		input:   os.Stdin,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = normalizeLogger(e.logger)
	return e
}

func (e *Engine) ID() string {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return e.id
}

// SetID assigns the identifier once. Later calls are ignored and report false.
func (e *Engine) SetID(id string) bool {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if e.idSet || id == "" {
		return false
	}
	e.id = id
	e.idSet = true
	return true
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) Logger() Logger {
	return e.logger
}

// Start runs the launch extensions and spawns the worker. ctx bounds the
// worker's lifetime: cancelling it stops the engine after the current script.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !e.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		if e.State() == StateTerminated {
			return newError(ErrEngineTerminated, "", nil, map[string]any{"engine_id": e.ID()})
		}
		return newError(ErrEngineAlreadyStarted, "", nil, map[string]any{"engine_id": e.ID()})
	}

	if err := e.runLaunchExtensions(ctx); err != nil {
		e.logger.Warn("launch extensions reported errors for engine %q: %v", e.ID(), err)
	}

	e.task.Store(runner.Go(ctx, "script-engine", e.run))
	if e.terminated.Load() {
		e.task.Load().Cancel(newError(ErrEngineTerminated, "", nil, nil))
	}
	return nil
}

// Run starts the engine and blocks until the worker stops.
func (e *Engine) Run(ctx context.Context) (runner.Status, error) {
	if err := e.Start(ctx); err != nil {
		return runner.StatusCanceled, err
	}
	return e.Wait(context.Background())
}

// Wait blocks until the worker finishes or ctx ends. It reports
// StatusCanceled for an engine that never started.
func (e *Engine) Wait(ctx context.Context) (runner.Status, error) {
	task := e.task.Load()
	if task == nil {
		if e.State() == StateTerminated {
			return runner.StatusCanceled, nil
		}
		return runner.StatusPending, newError(ErrEngineNotStarted, "", nil, nil)
	}
	return task.Wait(ctx)
}

// Done is closed when the worker has stopped. It is nil before Start.
func (e *Engine) Done() <-chan struct{} {
	if task := e.task.Load(); task != nil {
		return task.Done()
	}
	return nil
}

// SubmitAsync wraps content in a Script and queues it. It never fails at
// the call site; refusals resolve the returned result instead.
func (e *Engine) SubmitAsync(content any, opts ...ScriptOption) *ScriptResult {
	return e.Submit(NewScript(content, opts...))
}

// Submit queues a prepared script.
func (e *Engine) Submit(script *Script) *ScriptResult {
	if e.State() == StateNotStarted && !e.queueBeforeStart && !e.queue.isClosed() {
		_ = script.result.SetException(newError(ErrEngineNotStarted, "", nil, map[string]any{
			"script_id": script.ID(),
		}))
		return script.result
	}

	if err := e.queue.push(script); err != nil {
		_ = script.result.SetException(err)
		return script.result
	}
	e.logger.Trace("script %s queued on engine %q", script.ID(), e.ID())
	return script.result
}

// SubmitSync queues content and waits for its result. It fails with
// ENGINE_NOT_STARTED, without queueing, when Start has not been called.
// It must not be called from the worker itself; use Inject there.
func (e *Engine) SubmitSync(ctx context.Context, content any, opts ...ScriptOption) (*ScriptResult, error) {
	return e.SubmitScriptSync(ctx, NewScript(content, opts...))
}

// SubmitScriptSync is SubmitSync for a prepared script. A ctx error leaves
// the script queued; its result can still be awaited.
func (e *Engine) SubmitScriptSync(ctx context.Context, script *Script) (*ScriptResult, error) {
	if e.State() == StateNotStarted {
		return nil, newError(ErrEngineNotStarted, "", nil, map[string]any{
			"engine_id": e.ID(),
			"script_id": script.ID(),
		})
	}
	result := e.Submit(script)
	if err := result.Await(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Inject runs content synchronously on the calling goroutine, nested inside
// whatever is executing. No SCRIPT_START or SCRIPT_END events fire. Callers
// must be the worker, normally from inside a running script, or otherwise
// guarantee that nothing else executes concurrently.
func (e *Engine) Inject(ctx context.Context, content any, opts ...ScriptOption) *ScriptResult {
	if ctx == nil {
		ctx = context.Background()
	}
	script := NewScript(content, opts...)
	e.execute(ctx, script, false)
	return script.result
}

// Terminate stops the engine. Queued scripts resolve with
// ENGINE_TERMINATED, the running one is asked to abort, and any later
// submission is refused.
func (e *Engine) Terminate() {
	// Close before raising the flag: a worker that sees terminated must
	// find the queue already refusing with ENGINE_TERMINATED.
	dropped := e.queue.close(ErrEngineTerminated)
	e.terminated.Store(true)
	e.terminateOnIdle.Store(true)
	for _, s := range dropped {
		_ = s.result.SetException(newError(ErrEngineTerminated, "", nil, map[string]any{"script_id": s.ID()}))
	}

	if e.backend != nil {
		e.backend.TerminateCurrent()
	}

	if task := e.task.Load(); task != nil {
		task.Cancel(newError(ErrEngineTerminated, "", nil, nil))
	} else {
		e.state.CompareAndSwap(int32(StateNotStarted), int32(StateTerminated))
	}

	e.logger.Info("engine %q terminated, %d queued script(s) dropped", e.ID(), len(dropped))
}

// Reset drops every queued script with ENGINE_RESET and re-runs the launch
// extensions. The running script, if any, is not interrupted.
func (e *Engine) Reset(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dropped := e.queue.drain()
	for _, s := range dropped {
		_ = s.result.SetException(newError(ErrEngineReset, "", nil, map[string]any{"script_id": s.ID()}))
	}
	e.logger.Debug("engine %q reset, %d queued script(s) dropped", e.ID(), len(dropped))
	return e.runLaunchExtensions(ctx)
}

// IsIdle reports whether nothing is queued.
func (e *Engine) IsIdle() bool {
	return e.queue.len() == 0
}

func (e *Engine) QueueLength() int {
	return e.queue.len()
}

func (e *Engine) TerminateOnIdle() bool {
	return e.terminateOnIdle.Load()
}

// SetTerminateOnIdle toggles idle shutdown. Enabling it on an idle engine
// stops the worker promptly.
func (e *Engine) SetTerminateOnIdle(enabled bool) {
	e.terminateOnIdle.Store(enabled)
	e.queue.signal()
}

// FileTrace is the trace of the current worker run.
func (e *Engine) FileTrace() *FileTrace {
	e.traceMu.RLock()
	defer e.traceMu.RUnlock()
	return e.trace
}

// CurrentScript is the innermost script executing, or nil.
func (e *Engine) CurrentScript() *Script {
	return e.current.Load()
}

// AddExecutionListener registers l. Adding an equal listener twice keeps
// one registration.
func (e *Engine) AddExecutionListener(l ExecutionListener) Subscription {
	return e.listeners.add(l)
}

func (e *Engine) RemoveExecutionListener(l ExecutionListener) bool {
	return e.listeners.remove(l)
}

func (e *Engine) OutputStream() io.Writer {
	e.streamsMu.RLock()
	defer e.streamsMu.RUnlock()
	return e.output
}

func (e *Engine) ErrorStream() io.Writer {
	e.streamsMu.RLock()
	defer e.streamsMu.RUnlock()
	return e.errOut
}

func (e *Engine) InputStream() io.Reader {
	e.streamsMu.RLock()
	defer e.streamsMu.RUnlock()
	return e.input
}

func (e *Engine) SetOutputStream(w io.Writer) {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	e.output = w
}

func (e *Engine) SetErrorStream(w io.Writer) {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	e.errOut = w
}

func (e *Engine) SetInputStream(r io.Reader) {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	e.input = r
}

func (e *Engine) run(ctx context.Context) runner.Status {
	logger := withLoggerFields(e.logger.WithContext(ctx), map[string]any{"engine_id": e.ID()})

	if err := e.setup(ctx); err != nil {
		logger.Error("engine setup failed: %v", err)
		e.state.Store(int32(StateTerminated))
		for _, s := range e.queue.close(ErrEngineSetupFailed) {
			_ = s.result.SetException(newError(ErrEngineSetupFailed, "", err, map[string]any{"script_id": s.ID()}))
		}
		return runner.StatusCanceled
	}

	e.traceMu.Lock()
	e.trace = NewFileTrace()
	e.traceMu.Unlock()

	e.state.Store(int32(StateRunning))
	logger.Info("engine started")
	e.notify(nil, EventEngineStart)

	for ctx.Err() == nil && !e.terminated.Load() {
		if script, ok := e.queue.pop(); ok {
			e.execute(ctx, script, true)
			continue
		}
		if e.terminateOnIdle.Load() {
			break
		}
		e.queue.wait(ctx)
	}

	canceled := ctx.Err() != nil || e.terminated.Load()

	exitErr := ErrEngineExited
	if e.terminated.Load() {
		exitErr = ErrEngineTerminated
	}
	for _, s := range e.queue.close(exitErr) {
		_ = s.result.SetException(newError(exitErr, "", nil, map[string]any{"script_id": s.ID()}))
	}

	e.notify(nil, EventEngineEnd)

	if err := e.backend.Teardown(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("engine teardown failed: %v", err)
	}
	e.state.Store(int32(StateTerminated))

	if canceled {
		logger.Info("engine canceled")
		return runner.StatusCanceled
	}
	logger.Info("engine stopped on idle")
	return runner.StatusOK
}

func (e *Engine) setup(ctx context.Context) error {
	if e.backend == nil {
		return newError(ErrEngineSetupFailed, "no backend configured", nil, nil)
	}
	opts := append([]runner.Option{runner.WithMaxRetries(0), runner.WithLogger(e.logger)}, e.setupOpts...)
	return runner.NewHandler(opts...).Run(ctx, func(ctx context.Context) error {
		return e.backend.Setup(ctx, e)
	})
}

// execute is the body shared by queued and injected scripts. The trace
// entry is popped and the current script restored before the result
// resolves, so a woken waiter sees a balanced trace. SCRIPT_END fires after
// resolution and listeners may read or wait on the result.
func (e *Engine) execute(ctx context.Context, script *Script, notify bool) {
	defer func() {
		if !script.result.IsReady() {
			_ = script.result.resolve(Outcome{
				Kind: OutcomeFailure,
				Err:  newError(ErrExecutionFailed, "script execution aborted", nil, map[string]any{"script_id": script.ID()}),
			})
		}
	}()

	outcome := e.traced(ctx, script, notify)
	if err := script.result.resolve(outcome); err != nil {
		e.logger.Debug("script %s result was already set: %v", script.ID(), err)
	}

	if notify {
		e.notify(script, EventScriptEnd)
	}
}

// traced runs script inside its own trace frame. Unwinding restores the
// trace and the current script even when the worker goroutine exits early.
func (e *Engine) traced(ctx context.Context, script *Script, notify bool) Outcome {
	trace := e.FileTrace()
	trace.Push(script.Reference())
	defer trace.Pop()

	fileName := trace.FileName()
	previous := e.current.Swap(script)
	defer e.current.Store(previous)

	started := time.Now()
	if notify {
		e.notify(script, EventScriptStart)
	}

	outcome := e.invoke(ctx, script, fileName)
	script.result.SetMetadata("duration", time.Since(started))
	script.result.SetMetadata("file_name", fileName)
	return outcome
}

func (e *Engine) invoke(ctx context.Context, script *Script, fileName string) (outcome Outcome) {
	fields := map[string]any{"script_id": script.ID(), "file_name": fileName}

	defer func() {
		if r := recover(); r != nil {
			outcome = e.fail(script, panicError(r, fields))
		}
	}()

	code, err := script.Code()
	if err != nil || code == nil {
		if err == nil {
			err = fmt.Errorf("unsupported script content %T", script.Content())
		}
		return e.fail(script, newError(ErrInvalidInput, "", err, fields))
	}
	if _, owned := script.Content().(Source); owned {
		if closer, ok := code.(io.Closer); ok {
			defer closer.Close()
		}
	}

	value, err := e.backend.Execute(ContextWithScript(ctx, script), code, script.Reference(), fileName)
	outcome = Classify(value, err)
	if outcome.Kind != OutcomeFailure {
		return outcome
	}
	if ErrorCode(outcome.Err) == ErrCodeScriptPanic {
		return e.fail(script, outcome.Err)
	}
	return e.fail(script, newError(ErrExecutionFailed, "", outcome.Err, fields))
}

// fail reports err on the error stream and the log and returns it as a
// failure outcome.
func (e *Engine) fail(script *Script, err error) Outcome {
	if w := e.ErrorStream(); w != nil {
		fmt.Fprintln(w, sourceMessage(err))
	}
	e.logger.Error("script %s failed: %v", script.ID(), err)
	return Outcome{Kind: OutcomeFailure, Err: err}
}

func (e *Engine) notify(script *Script, kind EventKind) {
	for _, l := range e.listeners.snapshot() {
		e.notifyOne(l, script, kind)
	}
}

func (e *Engine) notifyOne(l ExecutionListener, script *Script, kind EventKind) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("execution listener panicked on %s: %v", kind, r)
		}
	}()
	l.Notify(e, script, kind)
}

func (e *Engine) runLaunchExtensions(ctx context.Context) error {
	if e.extensions == nil {
		return nil
	}
	var errs []error
	for _, ext := range e.extensions.LaunchExtensions() {
		if ext == nil {
			continue
		}
		if err := ext.CreateEngine(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
