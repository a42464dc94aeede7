package scripting

import (
	"io"

	"github.com/goliatone/go-scripting/runner"
)

// Option configures an Engine.
type Option func(*Engine)

// WithID fixes the engine identifier. SetID refuses to change it afterwards.
func WithID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.id = id
			e.idSet = true
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTerminateOnIdle makes the worker stop as soon as the queue runs dry.
func WithTerminateOnIdle(enabled bool) Option {
	return func(e *Engine) {
		e.terminateOnIdle.Store(enabled)
	}
}

// WithQueueBeforeStart lets SubmitAsync enqueue scripts before Start. They
// run once the worker comes up. Without it, early submissions resolve with
// ENGINE_NOT_STARTED.
func WithQueueBeforeStart(enabled bool) Option {
	return func(e *Engine) {
		e.queueBeforeStart = enabled
	}
}

func WithOutputStream(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.output = w
		}
	}
}

func WithErrorStream(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.errOut = w
		}
	}
}

func WithInputStream(r io.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.input = r
		}
	}
}

// WithLaunchExtensions sets the source consulted at Start and on Reset.
func WithLaunchExtensions(source LaunchExtensionSource) Option {
	return func(e *Engine) {
		e.extensions = source
	}
}

// WithListener registers listeners before the engine starts.
func WithListener(listeners ...ExecutionListener) Option {
	return func(e *Engine) {
		for _, l := range listeners {
			if l != nil {
				e.listeners.add(l)
			}
		}
	}
}

// WithSetupOptions tunes how Backend.Setup is retried and bounded.
func WithSetupOptions(opts ...runner.Option) Option {
	return func(e *Engine) {
		e.setupOpts = append(e.setupOpts, opts...)
	}
}
