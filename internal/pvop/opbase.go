// Package pvop implements the four operation kinds — Info, Get, Put, and
// Monitor — as the tagged variant the wire layer dispatches into instead of
// a class hierarchy: one shared header (connection, channel, ioid, state)
// plus per-kind request/reply handling layered on pvwire. Every operation
// implements transport.Operation, so a Channel drives it without pvop
// importing back into transport for anything but that interface.
package pvop

import (
	"encoding/binary"

	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// State is one of the three states every operation kind moves through.
type State int

const (
	StateConnecting State = iota
	StateExecuting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// opBase is the shared header every operation kind embeds. All of its
// state, and everything reachable through its methods, is only ever
// touched from closures running on conn.Exec() — callers that need to act
// from another goroutine (Cancel) post a closure rather than mutating
// directly.
type opBase struct {
	conn  *transport.Connection
	ch    *transport.Channel
	ioid  uint32
	state State
}

// newOpBase allocates a fresh ioid and starts the op in Connecting. Must be
// called from a closure running on conn.Exec(), same as the RegisterOp/
// AddOp calls every constructor makes immediately afterward.
func newOpBase(conn *transport.Connection, ch *transport.Channel) opBase {
	return opBase{conn: conn, ch: ch, ioid: conn.AllocIOID(), state: StateConnecting}
}

// IOID implements transport.Operation.
func (b *opBase) IOID() uint32 { return b.ioid }

func (b *opBase) order() binary.ByteOrder { return b.conn.Order() }

// send assembles and writes one sid/ioid/sub-prefixed operation message,
// the shape every request and reply on this connection shares.
func (b *opBase) send(cmd byte, sub byte, payload []byte) error {
	order := b.order()
	body := putU32(nil, b.ch.SID(), order)
	body = putU32(body, b.ioid, order)
	body = append(body, sub)
	body = append(body, payload...)
	return b.conn.Send(cmd, body)
}

func putU32(buf []byte, v uint32, order binary.ByteOrder) []byte {
	var tmp [4]byte
	order.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// detach unregisters this operation from its connection and channel, once,
// on the transition into Done.
func (b *opBase) detach() {
	b.conn.UnregisterOp(b.ioid)
	b.ch.RemoveOp(b.ioid)
}

// cancel is the shared any-state -> Done transition: detach, and if the
// operation had already sent its request, follow with a DESTROY_REQUEST.
// Idempotent. Must run on Exec; callers reach it via their own Cancel,
// which posts this closure and then discards the user callback.
func (b *opBase) cancel() {
	if b.state == StateDone {
		return
	}
	wasExecuting := b.state == StateExecuting
	b.state = StateDone
	b.detach()
	if wasExecuting {
		_ = b.send(pvwire.CmdDestroyRequest, pvwire.SubDestroy, nil)
	}
}

// safeInvoke runs fn, recovering and logging any panic so a misbehaving
// user callback can never take down the executor goroutine; the state
// machine continues regardless.
func safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger := logging.Named("pvop")
			logger.Warn().Interface("panic", r).Msg("operation callback panicked")
		}
	}()
	fn()
}
