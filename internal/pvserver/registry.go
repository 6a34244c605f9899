package pvserver

import (
	"sync"

	"github.com/openpva/pva/internal/pvtype"
)

// Registry is the server's fixed set of named PVs, built at startup before
// any session is accepted.
type Registry struct {
	mu  sync.RWMutex
	pvs map[string]*PV
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pvs: make(map[string]*PV)}
}

// Declare adds a PV of the given type and returns it for the caller to
// seed with an initial value.
func (r *Registry) Declare(name string, desc *pvtype.FieldDesc) *PV {
	r.mu.Lock()
	defer r.mu.Unlock()
	pv := newPV(name, desc)
	r.pvs[name] = pv
	return pv
}

func (r *Registry) lookup(name string) (*PV, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pv, ok := r.pvs[name]
	return pv, ok
}

// Names returns every declared PV's name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pvs))
	for n := range r.pvs {
		names = append(names, n)
	}
	return names
}
