package transport

// ioidAllocator hands out per-connection monotonic, wrapping 32-bit
// operation ids. Reuse of a wrapped-around value is gated on the previous
// owner having already been removed from the connection's opByIOID map,
// so a slow-to-finish old operation can never collide with a freshly
// allocated one.
type ioidAllocator struct {
	next uint32
	inUse func(ioid uint32) bool
}

func newIOIDAllocator(inUse func(ioid uint32) bool) *ioidAllocator {
	return &ioidAllocator{next: 1, inUse: inUse}
}

// alloc returns the next free ioid, skipping any value inUse reports as
// still owned by a prior operation, and never allocating 0 (reserved as
// the zero/unset value).
func (a *ioidAllocator) alloc() uint32 {
	for {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if id == 0 {
			continue
		}
		if a.inUse != nil && a.inUse(id) {
			continue
		}
		return id
	}
}
