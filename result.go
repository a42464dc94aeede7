package scripting

import (
	"context"
	"sync"
)

// ScriptResult is the future for a Script's outcome. It is resolved exactly
// once; later SetResult/SetException calls return ErrResultAlreadySet and
// leave the recorded outcome untouched.
type ScriptResult struct {
	mu       sync.RWMutex
	value    any
	err      error
	kind     OutcomeKind
	ready    bool
	done     chan struct{}
	metadata map[string]any
}

func NewScriptResult() *ScriptResult {
	return &ScriptResult{
		done:     make(chan struct{}),
		metadata: make(map[string]any),
	}
}

// SetResult records a successful outcome.
func (r *ScriptResult) SetResult(value any) error {
	return r.resolve(Outcome{Kind: OutcomeSuccess, Value: value})
}

// SetException records a failure outcome.
func (r *ScriptResult) SetException(err error) error {
	if err == nil {
		err = newError(ErrExecutionFailed, "", nil, nil)
	}
	return r.resolve(Outcome{Kind: OutcomeFailure, Err: err})
}

// resolve stores the outcome and wakes waiters under the same lock, so
// IsReady and Done never disagree.
func (r *ScriptResult) resolve(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return newError(ErrResultAlreadySet, "", nil, map[string]any{
			"outcome": r.kind.String(),
		})
	}

	r.kind = o.Kind
	if o.Successful() {
		r.value = o.Value
	} else {
		r.err = o.Err
	}
	r.ready = true
	close(r.done)
	return nil
}

func (r *ScriptResult) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Done is closed as soon as the outcome is recorded.
func (r *ScriptResult) Done() <-chan struct{} {
	return r.done
}

// Await blocks until the result is ready or ctx ends. A result recorded
// before the call returns immediately.
func (r *ScriptResult) Await(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	default:
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits for the outcome and returns it.
func (r *ScriptResult) Get(ctx context.Context) (any, error) {
	if err := r.Await(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.err
}

// Value returns the successful value, if any, without blocking.
func (r *ScriptResult) Value() (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.ready && r.err == nil
}

func (r *ScriptResult) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Kind reports how the script finished; exit and break stay visible here
// even though both resolve as success.
func (r *ScriptResult) Kind() OutcomeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kind
}

func (r *ScriptResult) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

func (r *ScriptResult) GetMetadata(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.metadata[key]
	return val, ok
}
