package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler runs a function with retries, timeout and deadline applied.
type Handler struct {
	mu sync.Mutex

	logger        Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy

	runs     int
	attempts int
	failures int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from various options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		errorHandler:  func(err error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Run calls fn until it succeeds or retries are exhausted. Intermediate
// failures go to the error handler; the last one is returned wrapped.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempt := 0
	for ; attempt <= maxRetries; attempt++ {
		h.countAttempt()
		if err = fn(ctx); err == nil {
			break
		}
		if attempt == maxRetries {
			break
		}

		h.handleError(errors.Wrap(err, errors.CategoryHandler,
			fmt.Sprintf("runner failed, attempt %d of %d", attempt+1, maxRetries+1)).
			WithTextCode("RUN_ATTEMPT_FAILED"))

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		if !sleepContext(ctx, decision.Delay) {
			err = ctx.Err()
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++

	if err == nil {
		return nil
	}

	h.failures++
	wrapped := errors.Wrap(err, errors.CategoryHandler,
		fmt.Sprintf("runner failed after %d attempts", attempt+1)).
		WithTextCode("RUN_FAILED")
	h.logError("runner failed: %v", err)
	return wrapped
}

// Runs returns how many Run calls finished.
func (h *Handler) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// Attempts returns how many times fn was invoked across all runs.
func (h *Handler) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

func (h *Handler) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

func (h *Handler) countAttempt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
}

func (h *Handler) handleError(err error) {
	h.errorHandler(err)
}

func (h *Handler) logError(format string, args ...any) {
	if h.logger != nil {
		h.logger.Error(format, args...)
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
