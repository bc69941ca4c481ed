// Package registry is a small generic keyed component registry.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

type Component interface {
	any
}

type Registry[C Component] struct {
	mu         sync.RWMutex
	components map[string]C
}

func NewRegistry[C Component]() *Registry[C] {
	return &Registry[C]{
		components: make(map[string]C),
	}
}

// Register stores a component under id. Registering twice under the same id
// is a programming error and panics, matching init-time usage.
func (r *Registry[C]) Register(id string, component C) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[id]; ok {
		panic(fmt.Sprintf("component already registered: %s", id))
	}
	r.components[id] = component
}

func (r *Registry[C]) Get(id string) (C, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	component, ok := r.components[id]
	if !ok {
		return component, fmt.Errorf("component not found: %s", id)
	}
	return component, nil
}

func (r *Registry[C]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[id]
	return ok
}

func (r *Registry[C]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.components))
	for id := range r.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
