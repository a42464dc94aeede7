package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHandler_NoError_NoRetries(t *testing.T) {
	h := NewHandler()

	cf := countingFunc{failUntil: 0}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 1 {
		t.Errorf("expected calls=1, got %d", cf.calls)
	}
	if runs := h.Runs(); runs != 1 {
		t.Errorf("Handler.runs should be 1, got %d", runs)
	}
	if failures := h.Failures(); failures != 0 {
		t.Errorf("Handler.failures should be 0, got %d", failures)
	}
}

func TestHandler_SuccessOnSecondAttempt(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))

	cf := countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if h.Attempts() != 2 {
		t.Errorf("expected attempts=2, got %d", h.Attempts())
	}
}

func TestHandler_AllAttemptsFail(t *testing.T) {
	var handled []error
	h := NewHandler(
		WithMaxRetries(2),
		WithErrorHandler(func(err error) { handled = append(handled, err) }),
	)

	cf := countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, errFake) {
		t.Errorf("expected wrapped fake error, got %v", err)
	}

	if cf.calls != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.calls)
	}
	if len(handled) != 2 {
		t.Errorf("expected 2 intermediate errors, got %d", len(handled))
	}
	if h.Failures() != 1 {
		t.Errorf("expected failures=1, got %d", h.Failures())
	}
}

func TestHandler_DeciderStopsRetries(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(5),
		WithRetryStrategy(fixedDecisionStrategy{decision: RetryDecision{ShouldRetry: false}}),
	)

	cf := countingFunc{failUntil: 5}
	if err := h.Run(context.Background(), cf.fn); err == nil {
		t.Fatal("expected error")
	}
	if cf.calls != 1 {
		t.Errorf("expected decider to stop after first call, got %d", cf.calls)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := NewHandler(
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(0),
	)

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to time out quickly, but took too long")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHandler_Deadline(t *testing.T) {
	deadline := time.Now().Add(50 * time.Millisecond)
	h := NewHandler(WithDeadline(deadline))

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to stop at deadline, but took too long")
	}
	if err == nil {
		t.Error("expected deadline error")
	}
}

func TestHandler_CanceledDuringBackoff(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(3),
		WithRetryStrategy(ConstantDelayStrategy{Delay: time.Second}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	cf := countingFunc{failUntil: 10}
	err := h.Run(ctx, cf.fn)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if time.Since(start) >= time.Second {
		t.Fatal("expected backoff sleep to be interrupted")
	}
}

func TestHandler_Concurrency(t *testing.T) {
	h := NewHandler(WithMaxRetries(1))
	wg := sync.WaitGroup{}
	const goroutines = 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf := &countingFunc{failUntil: 1}
			_ = h.Run(context.Background(), cf.fn)
		}()
	}
	wg.Wait()

	if h.Runs() != goroutines {
		t.Errorf("expected Handler.runs=%d, got %d", goroutines, h.Runs())
	}
	if h.Failures() != 0 {
		t.Errorf("expected no failures, got %d", h.Failures())
	}
}

func TestHandler_Logger(t *testing.T) {
	ml := &mockLogger{}
	h := NewHandler(
		WithLogger(ml),
		WithMaxRetries(1),
	)

	cf := countingFunc{failUntil: 2}
	_ = h.Run(context.Background(), cf.fn)

	if len(ml.errorMessages) == 0 {
		t.Error("expected some error logs, got none")
	}
}

var errFake = errors.New("fake error")

type countingFunc struct {
	calls     int
	failUntil int
}

func (c *countingFunc) fn(ctx context.Context) error {
	c.calls++
	if c.calls <= c.failUntil {
		return errFake
	}
	return nil
}

type mockLogger struct {
	mu            sync.Mutex
	infoMessages  []string
	errorMessages []string
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMessages = append(m.infoMessages, fmt.Sprintf(msg, args...))
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMessages = append(m.errorMessages, fmt.Sprintf(msg, args...))
}
