package pipeline

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ModuleFactory produces a fresh Module instance.
type ModuleFactory func() Module

// AdapterFactory produces a fresh Adapter instance.
type AdapterFactory func() Adapter

// Registry holds the two process-wide name→factory maps for modules and
// adapters. It is written only during the single-writer startup phase
// (every module/adapter package registers itself from an init() func) and
// read-only once Engine.Run begins.
type Registry struct {
	mu       sync.RWMutex
	modules  map[string]ModuleFactory
	adapters map[string]AdapterFactory
	logger   *logrus.Logger
}

// globalRegistry is the process-wide registry every illustrative module and
// driver package registers into from its own init().
var globalRegistry = NewRegistry(logrus.StandardLogger())

// Global returns the process-wide Registry.
func Global() *Registry { return globalRegistry }

// NewRegistry builds an empty registry. Exposed (rather than only a package
// singleton) so tests can exercise duplicate-registration semantics without
// polluting the global instance used by main.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		modules:  make(map[string]ModuleFactory),
		adapters: make(map[string]AdapterFactory),
		logger:   logger,
	}
}

// RegisterModule registers a module factory under name. The first
// registration wins: a duplicate name logs a warning and is otherwise
// ignored, rather than silently overwriting a previously registered
// factory — overwriting would let load order change graph behavior, which
// is the kind of spooky-action this registry exists to avoid.
func (r *Registry) RegisterModule(name string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; exists {
		r.logger.WithField("module", name).Warn("duplicate module registration ignored")
		return
	}
	r.modules[name] = factory
}

// RegisterAdapter registers an adapter factory under name, with the same
// first-wins duplicate policy as RegisterModule.
func (r *Registry) RegisterAdapter(name string, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		r.logger.WithField("adapter", name).Warn("duplicate adapter registration ignored")
		return
	}
	r.adapters[name] = factory
}

// BuildModule instantiates a fresh Module for name. Looking up an
// unregistered name is a fatal configuration error, surfaced here rather
// than at packet time.
func (r *Registry) BuildModule(name string) (Module, error) {
	r.mu.RLock()
	factory, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return factory(), nil
}

// BuildAdapter instantiates a fresh Adapter for name.
func (r *Registry) BuildAdapter(name string) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	return factory(), nil
}

// HasModule reports whether name is registered, without building an
// instance. Builder does not call it; it resolves names through
// BuildModule.
func (r *Registry) HasModule(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}
