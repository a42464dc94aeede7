package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"

	scripting "github.com/goliatone/go-scripting"
)

// Registry holds named launch extensions. Extensions run in registration
// order whenever an engine built with the registry starts or is reset.
type Registry struct {
	mu         sync.RWMutex
	names      []string
	extensions map[string]scripting.LaunchExtension
}

func New() *Registry {
	return &Registry{
		extensions: make(map[string]scripting.LaunchExtension),
	}
}

func (r *Registry) Register(name string, ext scripting.LaunchExtension) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("launch extension name cannot be empty", errors.CategoryBadInput).
			WithTextCode("EMPTY_EXTENSION_NAME")
	}
	if ext == nil {
		return errors.New("launch extension cannot be nil", errors.CategoryBadInput).
			WithTextCode("NIL_EXTENSION").
			WithMetadata(map[string]any{"name": name})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extensions[name]; exists {
		return errors.New("launch extension already registered", errors.CategoryConflict).
			WithTextCode("EXTENSION_ALREADY_REGISTERED").
			WithMetadata(map[string]any{"name": name})
	}
	r.names = append(r.names, name)
	r.extensions[name] = ext
	return nil
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, engine *scripting.Engine) error) error {
	if fn == nil {
		return r.Register(name, nil)
	}
	return r.Register(name, scripting.LaunchExtensionFunc(fn))
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extensions[name]; !exists {
		return false
	}
	delete(r.extensions, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extensions[name]
	return ok
}

// Names lists registered extensions in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// LaunchExtensions implements scripting.LaunchExtensionSource. Each
// extension is wrapped so its failures carry the registered name.
func (r *Registry) LaunchExtensions() []scripting.LaunchExtension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scripting.LaunchExtension, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, namedExtension{name: name, ext: r.extensions[name]})
	}
	return out
}

// Apply runs every extension against engine and joins their errors.
func (r *Registry) Apply(ctx context.Context, engine *scripting.Engine) error {
	var errs error
	for _, ext := range r.LaunchExtensions() {
		if err := ext.CreateEngine(ctx, engine); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

type namedExtension struct {
	name string
	ext  scripting.LaunchExtension
}

func (n namedExtension) CreateEngine(ctx context.Context, engine *scripting.Engine) error {
	if err := n.ext.CreateEngine(ctx, engine); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "launch extension failed").
			WithTextCode("EXTENSION_FAILED").
			WithMetadata(map[string]any{"name": n.name})
	}
	return nil
}

var globalRegistry = New()
var globalMu sync.RWMutex

// Default returns the process-wide registry.
func Default() *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRegistry
}

// Register adds ext to the process-wide registry.
func Register(name string, ext scripting.LaunchExtension) error {
	return Default().Register(name, ext)
}

func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRegistry = New()
}

// WithTestRegistry swaps in an empty process-wide registry while fn runs.
func WithTestRegistry(fn func()) {
	globalMu.Lock()
	old := globalRegistry
	globalRegistry = New()
	globalMu.Unlock()

	defer func() {
		globalMu.Lock()
		globalRegistry = old
		globalMu.Unlock()
	}()
	fn()
}
