package pvserver

import (
	"sync"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
)

// PV is one named process variable: a fixed type plus its current value,
// with a set of live MONITOR subscriptions fed on every successful Put.
type PV struct {
	name string
	desc *pvtype.FieldDesc

	mu   sync.Mutex
	top  *pvstore.StructTop
	subs map[*subscription]struct{}
}

func newPV(name string, desc *pvtype.FieldDesc) *PV {
	return &PV{
		name: name,
		desc: desc,
		top:  pvstore.NewStructTop(desc),
		subs: make(map[*subscription]struct{}),
	}
}

// Name returns the PV's channel name.
func (pv *PV) Name() string { return pv.name }

// Desc returns the PV's fixed type.
func (pv *PV) Desc() *pvtype.FieldDesc { return pv.desc }

// Seed overwrites the PV's value wholesale, bypassing the wire-level Put
// path and its subscriber notifications. Intended for startup
// initialization before a Server's Serve is called.
func (pv *PV) Seed(mv pvvalue.MValue) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.top = mv.Top()
}

// Snapshot returns a frozen, independently-owned copy of the current
// value, safe to encode from any goroutine.
func (pv *PV) Snapshot() pvvalue.IValue {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pvvalue.Freeze(pvvalue.FromTop(pv.top).Clone())
}

// Put merges decoded's marked cells into the PV's value and notifies every
// live subscription of the change.
func (pv *PV) Put(decoded *pvstore.StructTop) {
	pv.mu.Lock()
	dst := pvvalue.FromTop(pv.top)
	src := pvvalue.FromTop(decoded)
	_ = pvvalue.Assign(dst, src.Value)
	ev := pvvalue.Freeze(pvvalue.FromTop(pv.top).Clone())
	subs := make([]*subscription, 0, len(pv.subs))
	for s := range pv.subs {
		subs = append(subs, s)
	}
	pv.mu.Unlock()

	for _, s := range subs {
		s.notify(ev, false)
	}
}

// subscribe registers s against the PV; every future Put reaches it until
// unsubscribe is called.
func (pv *PV) subscribe(s *subscription) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.subs[s] = struct{}{}
}

// unsubscribe removes s, firing a final finished event first so the peer's
// Monitor.Pop observes the end of the stream cleanly.
func (pv *PV) unsubscribe(s *subscription) {
	pv.mu.Lock()
	_, ok := pv.subs[s]
	delete(pv.subs, s)
	pv.mu.Unlock()
	if ok {
		s.notify(pvvalue.IValue{}, true)
	}
}
