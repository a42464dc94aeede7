package scripting

import (
	"context"
	"sync"

	apperrors "github.com/goliatone/go-errors"
)

// queue is the FIFO of pending scripts. Any goroutine may push; only the
// worker pops. wake holds at most one token, so a push that lands between
// the worker's empty check and its wait is never lost.
type queue struct {
	mu       sync.Mutex
	scripts  []*Script
	closed   bool
	closeErr *apperrors.Error
	wake     chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends s, or returns the close error once the queue is closed.
func (q *queue) push(s *Script) error {
	q.mu.Lock()
	if q.closed {
		base := q.closeErr
		q.mu.Unlock()
		return newError(base, "", nil, map[string]any{"script_id": s.ID()})
	}
	q.scripts = append(q.scripts, s)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *queue) pop() (*Script, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.scripts) == 0 {
		return nil, false
	}
	s := q.scripts[0]
	q.scripts[0] = nil
	q.scripts = q.scripts[1:]
	return s, true
}

// drain empties the queue and returns what was pending, in order.
func (q *queue) drain() []*Script {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.scripts
	q.scripts = nil
	return pending
}

// close refuses further pushes with base and returns what was pending.
// Only the first close sets the error.
func (q *queue) close(base *apperrors.Error) []*Script {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.closeErr = base
	}
	pending := q.scripts
	q.scripts = nil
	q.mu.Unlock()

	q.signal()
	return pending
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scripts)
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// wait blocks until signaled or ctx ends.
func (q *queue) wait(ctx context.Context) {
	select {
	case <-q.wake:
	case <-ctx.Done():
	}
}
