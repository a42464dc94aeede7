package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-errors"
)

// Status is the final report of a Task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusOK
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusOK:
		return "ok"
	case StatusCanceled:
		return "canceled"
	default:
		return "pending"
	}
}

// ErrTaskCanceled is the default cause recorded by Task.Cancel.
var ErrTaskCanceled = errors.New("task canceled", errors.CategoryConflict).
	WithTextCode("TASK_CANCELED")

// ExecutionControl exposes cooperative cancellation to the code a Task runs.
type ExecutionControl interface {
	Done() <-chan struct{}
	CancelCause() error
}

// Task runs one long-lived loop on its own goroutine. The loop observes
// cancellation through its context; nothing is preempted.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu       sync.RWMutex
	status   Status
	cause    error
	panicErr error
}

// Go starts fn on a new goroutine and returns its Task immediately.
func Go(parent context.Context, name string, fn func(ctx context.Context) Status) *Task {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	t := &Task{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusRunning,
	}

	go func() {
		defer close(t.done)
		defer cancel(nil)
		defer func() {
			if r := recover(); r != nil {
				t.finish(StatusCanceled, errors.New(fmt.Sprintf("task %s panicked: %v", name, r), errors.CategoryHandler).
					WithTextCode("TASK_PANIC"))
			}
		}()
		t.finish(fn(ctx), nil)
	}()

	return t
}

func (t *Task) finish(status Status, panicErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.panicErr = panicErr
}

// Cancel asks the loop to stop and records cause. Only the first cause sticks.
func (t *Task) Cancel(cause error) {
	if t == nil {
		return
	}
	if cause == nil {
		cause = ErrTaskCanceled
	}
	t.mu.Lock()
	if t.cause == nil {
		t.cause = cause
	}
	t.mu.Unlock()
	t.cancel(cause)
}

func (t *Task) Done() <-chan struct{} {
	if t == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.done
}

// CancelCause returns the cause passed to Cancel, or nil if never canceled.
func (t *Task) CancelCause() error {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cause
}

func (t *Task) Status() Status {
	if t == nil {
		return StatusPending
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Wait blocks until the loop returns or ctx ends. A panic in the loop is
// reported as StatusCanceled plus the panic error.
func (t *Task) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.Done():
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status, t.panicErr
}

var _ ExecutionControl = (*Task)(nil)
