package pvserver

import (
	"sync"

	"github.com/openpva/pva/internal/pvvalue"
)

// subscription is the server-side flow-control counterpart to a client's
// pvop.Monitor: it holds a credit balance and, while credit is exhausted,
// squashes further updates into one pending overrun-flagged event instead
// of queuing unboundedly — the same squash-on-full approach the client
// side takes in its own local FIFO.
type subscription struct {
	push func(overrun, finished bool, ev pvvalue.IValue)

	mu        sync.Mutex
	credit    int
	pending   bool
	pendingEv pvvalue.IValue
	done      bool
}

func newSubscription(push func(overrun, finished bool, ev pvvalue.IValue)) *subscription {
	return &subscription{push: push}
}

// notify is called by the owning PV on every Put (finished=false) or once,
// by unsubscribe, with finished=true and the zero value.
func (s *subscription) notify(ev pvvalue.IValue, finished bool) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if finished {
		s.done = true
		s.mu.Unlock()
		s.push(false, true, pvvalue.IValue{})
		return
	}
	if s.credit > 0 {
		s.credit--
		s.pending = false
		s.mu.Unlock()
		s.push(false, false, ev)
		return
	}
	s.pending = true
	s.pendingEv = ev
	s.mu.Unlock()
}

// grant adds n to the credit balance and, if an update was squashed while
// credit was exhausted, flushes it immediately with overrun set.
func (s *subscription) grant(n int) {
	s.mu.Lock()
	s.credit += n
	if !s.pending || s.credit <= 0 || s.done {
		s.mu.Unlock()
		return
	}
	s.credit--
	ev := s.pendingEv
	s.pending = false
	s.mu.Unlock()
	s.push(true, false, ev)
}
