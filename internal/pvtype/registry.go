package pvtype

import "sync"

// Registry deduplicates descriptors by structural hash. Two descriptors are
// interchangeable iff their hash matches and a structural compare confirms
// it: hashes collide-resist only probabilistically, so every hit is
// verified (see spec: "the descriptor hash is not cryptographically
// strong").
type Registry struct {
	mu   sync.Mutex
	byID map[uint64][]*FieldDesc
}

// NewRegistry returns an empty descriptor registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64][]*FieldDesc)}
}

// Intern returns the canonical *FieldDesc equal to d, registering d itself
// if no structural match exists yet.
func (r *Registry) Intern(d *FieldDesc) *FieldDesc {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.byID[d.hash]
	for _, existing := range bucket {
		if Equal(existing, d) {
			return existing
		}
	}
	r.byID[d.hash] = append(bucket, d)
	return d
}

// Lookup finds a previously interned descriptor structurally equal to d,
// without registering d on a miss.
func (r *Registry) Lookup(d *FieldDesc) (*FieldDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID[d.hash] {
		if Equal(existing, d) {
			return existing, true
		}
	}
	return nil, false
}
