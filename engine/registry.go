// Package engine provides the registry through which hosts make their
// pipeline engines available to the server and command layers. An engine
// implementation registers a factory at init time; the profile selects one
// by name.
package engine

import (
	"fmt"
	"sync"

	"github.com/solteris/imagebridge/bridge"
)

// Runtime bundles what a host must supply to run scripts: the pipeline
// engine providing operations and user functions, and the evaluator for its
// scripting language.
type Runtime struct {
	Engine    bridge.Engine
	Evaluator bridge.Evaluator
}

// Factory constructs a Runtime for one session-independent host setup.
type Factory func() (*Runtime, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: make(map[string]Factory),
}

// Register makes a factory available under name. Registering a nil factory
// or the same name twice is an error.
func Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("engine name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("engine factory for %q cannot be nil", name)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.factories[name]; exists {
		return fmt.Errorf("duplicate engine registration for %q", name)
	}
	registry.factories[name] = factory
	return nil
}

// MustRegister is Register for init-time use; it panics on error.
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// New constructs the runtime registered under name.
func New(name string) (*Runtime, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no engine registered for %q", name)
	}
	rt, err := factory()
	if err != nil {
		return nil, fmt.Errorf("engine %q: %w", name, err)
	}
	if rt == nil || rt.Engine == nil || rt.Evaluator == nil {
		return nil, fmt.Errorf("engine %q returned an incomplete runtime", name)
	}
	return rt, nil
}

// Names returns the registered engine names.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	return names
}
