package processor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory creates a fresh processor instance for one run
type Factory func() DirectiveProcessor

// Registry maps processor kinds to factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under kind. Kinds are case-insensitive.
func (r *Registry) Register(kind string, factory Factory) error {
	key := strings.ToLower(strings.TrimSpace(kind))
	if key == "" {
		return fmt.Errorf("processor kind cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("processor %s has no factory", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("processor %s already registered", kind)
	}
	r.factories[key] = factory

	return nil
}

// Lookup creates a new processor of the given kind
func (r *Registry) Lookup(kind string) (DirectiveProcessor, bool) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(kind)]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names returns the registered kinds, sorted
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

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry holding the built-in processors
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		_ = defaultRegistry.Register(DataProcessorName, NewDataProcessor)
		_ = defaultRegistry.Register(EnvProcessorName, NewEnvProcessor)
	})
	return defaultRegistry
}
