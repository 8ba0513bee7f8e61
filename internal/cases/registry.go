package cases

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an extension action from the "with" block of a manifest
// step. caseDir is the directory of the case being loaded.
type Factory func(caseDir string, with map[string]any) (Action, error)

// Registry maps extension names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("extension %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Resolve builds the action for the named extension.
func (r *Registry) Resolve(name, caseDir string, with map[string]any) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown extension %q (registered: %v)", name, r.Names())
	}
	action, err := f(caseDir, with)
	if err != nil {
		return nil, fmt.Errorf("extension %q: %w", name, err)
	}
	return action, nil
}

// Names lists the registered extensions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
