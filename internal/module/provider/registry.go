package provider

import (
	"fmt"
	"sync"
)

// Registry holds the registered provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Provider]Adapter)}
}

// Register registers an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", p)
	}
	return a, nil
}

// Registered returns the set of providers with a registered adapter.
func (r *Registry) Registered() map[Provider]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Provider]bool, len(r.adapters))
	for p := range r.adapters {
		out[p] = true
	}
	return out
}
