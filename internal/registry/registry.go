// Package registry holds the process's downstream services, resolved
// by name. It is constructed once at startup and passed by reference,
// replacing scattered availability flags with a single answer to
// "which backends exist and can serve this kind".
package registry

import (
	"sort"
	"sync"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/task"
)

// Registry maps backend names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]backend.Backend
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{backends: make(map[string]backend.Backend)}
}

// Register adds a backend under its own name. Registering the same
// name again replaces the previous entry; registration happens only
// during startup wiring.
func (r *Registry) Register(b backend.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get resolves a backend by name.
func (r *Registry) Get(name string) (backend.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// IsAvailable reports whether a backend with the given name is
// registered.
func (r *Registry) IsAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Names returns all registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForKind returns the names of backends able to serve the given task
// kind, sorted.
func (r *Registry) ForKind(kind task.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, b := range r.backends {
		if backend.Serves(b, kind) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
