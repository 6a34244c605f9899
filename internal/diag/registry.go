// Package diag is a read-only HTTP introspection sidecar: given a set of
// named client.Context connections, it exposes their channel and connection
// state as JSON, plus the process's prometheus series, over gin.
package diag

import (
	"sort"
	"sync"

	"github.com/openpva/pva/internal/client"
)

// Registry tracks the set of named connections a Sidecar can report on.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*client.Context
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*client.Context)}
}

// Register adds or replaces the connection known as name.
func (r *Registry) Register(name string, ctx *client.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[name] = ctx
}

// Unregister removes name, if present. It does not close the connection.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, name)
}

// Get returns the connection known as name, if any.
func (r *Registry) Get(name string) (*client.Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.conns[name]
	return ctx, ok
}

// Names returns every registered connection's name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
