package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Factory builds a stopped engine for scope.
type Factory func(ctx context.Context, scope string) (*Engine, error)

// Registry owns the engines of every open scope. Scopes never share state;
// switching scopes disposes the engines of the scopes left behind.
type Registry struct {
	engines *xsync.MapOf[string, *Engine]
	factory Factory
	logger  *slog.Logger
	mu      sync.Mutex // сериализует Open/Switch/Close
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	return &Registry{
		engines: xsync.NewMapOf[string, *Engine](),
		factory: factory,
		logger:  logger,
	}
}

// Get returns the engine of an open scope.
func (r *Registry) Get(scope string) (*Engine, bool) {
	return r.engines.Load(scope)
}

// Scopes returns the open scopes.
func (r *Registry) Scopes() []string {
	scopes := make([]string, 0, r.engines.Size())
	r.engines.Range(func(scope string, _ *Engine) bool {
		scopes = append(scopes, scope)
		return true
	})
	return scopes
}

// Open returns the started engine of scope, creating it on first use.
func (r *Registry) Open(ctx context.Context, scope string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open(ctx, scope)
}

func (r *Registry) open(ctx context.Context, scope string) (*Engine, error) {
	if e, ok := r.engines.Load(scope); ok {
		return e, nil
	}

	e, err := r.factory(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for scope %s: %w", scope, err)
	}
	if err := e.Start(ctx); err != nil {
		_ = e.Dispose()
		return nil, err
	}

	r.engines.Store(scope, e)
	r.logger.Info("Scope opened", "scope", scope)
	return e, nil
}

// Switch opens scope and disposes every other engine.
func (r *Registry) Switch(ctx context.Context, scope string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	r.engines.Range(func(other string, e *Engine) bool {
		if other != scope {
			errs = append(errs, r.dispose(other, e))
		}
		return true
	})

	e, err := r.open(ctx, scope)
	if err != nil {
		errs = append(errs, err)
		return nil, errors.Join(errs...)
	}
	return e, errors.Join(errs...)
}

// Close disposes the engine of scope, if open.
func (r *Registry) Close(scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines.Load(scope)
	if !ok {
		return nil
	}
	return r.dispose(scope, e)
}

// Dispose disposes every engine.
func (r *Registry) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	r.engines.Range(func(scope string, e *Engine) bool {
		errs = append(errs, r.dispose(scope, e))
		return true
	})
	return errors.Join(errs...)
}

func (r *Registry) dispose(scope string, e *Engine) error {
	r.engines.Delete(scope)
	if err := e.Dispose(); err != nil {
		r.logger.Warn("Scope disposed with error", "scope", scope, "error", err)
		return fmt.Errorf("scope %s: %w", scope, err)
	}
	r.logger.Info("Scope disposed", "scope", scope)
	return nil
}
