// Package quickjs runs scripts on an embedded QuickJS interpreter.
package quickjs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-errors"
	"modernc.org/quickjs"

	scripting "github.com/goliatone/go-scripting"
)

const signalSentinel = "__script_signal__"

// Backend implements scripting.Backend on a single QuickJS VM owned by
// the engine's worker.
type Backend struct {
	mu     sync.Mutex
	vm     *quickjs.VM
	engine *scripting.Engine

	memoryLimitMB int
	timeout       time.Duration
	globalEval    bool

	// pending holds an exit/break requested by the running script. Nested
	// Execute calls save and restore it.
	pending     *signal
	active      context.Context
	interrupted atomic.Bool
}

type signal struct {
	kind    string
	payload string
}

// Option configures a Backend.
type Option func(*Backend)

// WithMemoryLimit caps the VM heap, in megabytes.
func WithMemoryLimit(mb int) Option {
	return func(b *Backend) {
		b.memoryLimitMB = mb
	}
}

// WithTimeout interrupts any single script running longer than d.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// WithGlobalEval evaluates scripts as global code instead of a function
// body. Top-level declarations then persist across scripts, but a bare
// return is a syntax error.
func WithGlobalEval() Option {
	return func(b *Backend) {
		b.globalEval = true
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Setup creates the VM and installs the script globals.
func (b *Backend) Setup(_ context.Context, engine *scripting.Engine) error {
	vm, err := quickjs.NewVM()
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "creating QuickJS VM").
			WithTextCode("QUICKJS_VM_FAILED")
	}
	if b.memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(b.memoryLimitMB) * 1024 * 1024)
	}

	b.mu.Lock()
	b.vm = vm
	b.engine = engine
	b.mu.Unlock()

	if err := b.installGlobals(vm); err != nil {
		b.closeVM()
		return errors.Wrap(err, errors.CategoryExternal, "installing script globals").
			WithTextCode("QUICKJS_SETUP_FAILED")
	}
	return nil
}

func (b *Backend) Teardown(context.Context, *scripting.Engine) error {
	b.closeVM()
	return nil
}

func (b *Backend) closeVM() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vm != nil {
		b.vm.Close()
		b.vm = nil
	}
}

// TerminateCurrent interrupts whatever the VM is evaluating.
func (b *Backend) TerminateCurrent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vm != nil {
		b.interrupted.Store(true)
		b.vm.Interrupt()
	}
}

// Execute evaluates code and returns its completion value decoded from JSON.
func (b *Backend) Execute(ctx context.Context, code io.Reader, _ any, fileName string) (value any, err error) {
	b.mu.Lock()
	vm := b.vm
	b.mu.Unlock()
	if vm == nil {
		return nil, errors.New("QuickJS VM is not running", errors.CategoryConflict).
			WithTextCode("QUICKJS_NOT_RUNNING")
	}

	raw, err := io.ReadAll(code)
	if err != nil {
		return nil, err
	}
	program, err := b.wrap(string(raw))
	if err != nil {
		return nil, err
	}

	outerSignal, outerCtx := b.pending, b.active
	b.pending, b.active = nil, ctx
	defer func() { b.pending, b.active = outerSignal, outerCtx }()
	if outerCtx == nil {
		b.interrupted.Store(false)
	}

	stop := context.AfterFunc(ctx, b.interrupt)
	defer stop()
	if b.timeout > 0 {
		watchdog := time.AfterFunc(b.timeout, b.interrupt)
		defer watchdog.Stop()
	}

	defer func() {
		if r := recover(); r != nil {
			value, err = nil, b.failure(ctx, fileName, fmt.Errorf("quickjs: %v", r))
		}
	}()

	result, evalErr := vm.Eval(program, quickjs.EvalGlobal)
	// A signal wins even when the script caught the sentinel error.
	if sig := b.pending; sig != nil {
		return nil, sig.toError()
	}
	if evalErr != nil {
		return nil, b.failure(ctx, fileName, evalErr)
	}
	return decodeResult(result)
}

func (b *Backend) interrupt() {
	b.interrupted.Store(true)
	b.mu.Lock()
	vm := b.vm
	b.mu.Unlock()
	if vm != nil {
		vm.Interrupt()
	}
}

// failure reports an interrupt as such, otherwise the script's own error.
func (b *Backend) failure(ctx context.Context, fileName string, err error) error {
	if b.interrupted.Swap(false) {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		return errors.Wrap(cause, errors.CategoryHandler, "script interrupted").
			WithTextCode("SCRIPT_INTERRUPTED").
			WithMetadata(map[string]any{"file_name": fileName})
	}
	return err
}

func (b *Backend) wrap(source string) (string, error) {
	literal, err := json.Marshal(source)
	if err != nil {
		return "", err
	}
	body := fmt.Sprintf("(new Function(%s)).call(globalThis)", literal)
	if b.globalEval {
		body = fmt.Sprintf("(0, eval)(%s)", literal)
	}
	return fmt.Sprintf(`(function() {
	var __value = %s;
	return __value === undefined ? undefined : JSON.stringify(__value);
})()`, body), nil
}

func decodeResult(result any) (any, error) {
	text, ok := result.(string)
	if !ok || text == "" {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text, nil
	}
	return value, nil
}

func (s *signal) toError() error {
	var value any
	if s.payload != "" {
		if err := json.Unmarshal([]byte(s.payload), &value); err != nil {
			value = s.payload
		}
	}
	if s.kind == "break" {
		return scripting.Break(value)
	}
	return scripting.Exit(value)
}
