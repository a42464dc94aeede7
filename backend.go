package scripting

import (
	"context"
	"io"
)

// Backend is the concrete interpreter an Engine drives. The Engine calls
// Setup and Teardown once each from its worker and Execute for every script
// body, one at a time.
type Backend interface {
	// Setup runs before the engine enters the running state. An error aborts
	// startup and Teardown is skipped.
	Setup(ctx context.Context, engine *Engine) error
	// Teardown runs once when the worker stops.
	Teardown(ctx context.Context, engine *Engine) error
	// Execute interprets code. fileName is the innermost FileTrace entry,
	// used to resolve relative references. Return Exit or Break to end the
	// script through control flow; any other error is a failure.
	Execute(ctx context.Context, code io.Reader, reference any, fileName string) (any, error)
	// TerminateCurrent aborts in-flight execution on a best-effort basis.
	// It may be called from any goroutine.
	TerminateCurrent()
}

// ExecuteFunc is an adapter that lets you use a function as a Backend with
// no setup, teardown or abort support.
type ExecuteFunc func(ctx context.Context, code io.Reader, reference any, fileName string) (any, error)

func (f ExecuteFunc) Setup(context.Context, *Engine) error    { return nil }
func (f ExecuteFunc) Teardown(context.Context, *Engine) error { return nil }
func (f ExecuteFunc) TerminateCurrent()                        {}

func (f ExecuteFunc) Execute(ctx context.Context, code io.Reader, reference any, fileName string) (any, error) {
	return f(ctx, code, reference, fileName)
}

// LaunchExtension (re)configures an engine instance. Extensions run when the
// engine starts and again after every Reset.
type LaunchExtension interface {
	CreateEngine(ctx context.Context, engine *Engine) error
}

// LaunchExtensionFunc is an adapter that lets you use a function as a LaunchExtension
type LaunchExtensionFunc func(ctx context.Context, engine *Engine) error

func (f LaunchExtensionFunc) CreateEngine(ctx context.Context, engine *Engine) error {
	return f(ctx, engine)
}

// LaunchExtensionSource supplies the extensions an engine runs.
type LaunchExtensionSource interface {
	LaunchExtensions() []LaunchExtension
}

// LaunchExtensions is a fixed LaunchExtensionSource.
type LaunchExtensions []LaunchExtension

func (l LaunchExtensions) LaunchExtensions() []LaunchExtension {
	return l
}
