// Package adapters implements the uniform service-adapter contract: a
// registry of named adapters, classified errors, output normalisation and
// the built-in HTTP, general-fallback and function adapters.
package adapters

import (
	"fmt"
	"sync"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/rs/zerolog/log"
)

// GeneralAdapterName is the registry key of the always-available fallback.
const GeneralAdapterName = "general"

// Registry is an explicit name → adapter table. It is built at startup and
// passed to the router and the engine; there is no package-level registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]contracts.Adapter
	order    []string // registration order
}

// NewRegistry creates a registry pre-populated with the given adapters.
func NewRegistry(adapters ...contracts.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]contracts.Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter. Replacing keeps the original position.
func (r *Registry) Register(a contracts.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
	log.Debug().Str("adapter", name).Msg("Registered service adapter")
}

// Get returns the adapter for name, or an error if none is registered.
func (r *Registry) Get(name string) (contracts.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", name)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

// Names returns adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Infos returns the descriptors of all adapters in registration order.
func (r *Registry) Infos() []models.AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AdapterInfo, 0, len(r.order))
	for _, name := range r.order {
		info := r.adapters[name].Describe()
		info.Name = name
		out = append(out, info)
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// General returns the fallback adapter, or nil when none is registered.
func (r *Registry) General() contracts.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[GeneralAdapterName]
}
