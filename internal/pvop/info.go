package pvop

import (
	"errors"
	"fmt"

	"github.com/openpva/pva/internal/metrics"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// InfoResult is delivered once to an Info operation's callback: on success
// Value carries the received type with every cell's valid bit clear (the
// peer only described a shape, not a value); on failure Err explains why.
type InfoResult struct {
	Value pvvalue.IValue
	Err   error
}

// Info implements the GET_FIELD operation: a single round trip asking the
// peer to describe a (sub)field's type without fetching a value.
type Info struct {
	opBase
	subField string
	callback func(InfoResult)
}

// NewInfo creates and registers an Info operation against ch, to be driven
// once ch reaches Active. Must be called from a closure running on
// conn.Exec(). subField fills the request's reserved sub-field slot and is
// sent as given; only the empty string is supported (internal/pvserver
// ignores the slot and always describes the channel's whole type).
func NewInfo(conn *transport.Connection, ch *transport.Channel, subField string, callback func(InfoResult)) *Info {
	op := &Info{opBase: newOpBase(conn, ch), subField: subField, callback: callback}
	conn.RegisterOp(op.ioid, op)
	ch.AddOp(op)
	return op
}

// Cancel discards the operation; its callback, if not yet invoked, never
// will be. Safe to call from any goroutine.
func (op *Info) Cancel() {
	op.conn.Exec().Call(func() {
		if op.state != StateDone {
			metrics.RecordOperation(op.ch.Name(), "info", "cancelled")
		}
		op.cancel()
		op.callback = nil
	})
}

func (op *Info) OnChannelActive() {
	if op.state != StateConnecting {
		return
	}
	op.state = StateExecuting
	payload := pvwire.PutString(nil, op.subField, op.order())
	if err := op.send(pvwire.CmdGetField, pvwire.SubExec, payload); err != nil {
		op.complete(InfoResult{Err: err})
	}
}

// OnDisconnect re-enters Connecting; the next OnChannelActive resends the
// GET_FIELD request from scratch.
func (op *Info) OnDisconnect() {
	if op.state == StateExecuting {
		op.state = StateConnecting
	}
}

func (op *Info) OnReply(sub byte, body []byte) error {
	if op.state != StateExecuting {
		return nil
	}
	if len(body) < 1 {
		return fmt.Errorf("%w: short GET_FIELD reply", transport.ErrFatalProtocol)
	}
	status := body[0]
	if status != 0 {
		op.complete(InfoResult{Err: &transport.RemoteError{Status: status}})
		return nil
	}
	desc, _, err := pvwire.DecodeType(body[1:], op.conn.TypeStore(), op.order())
	if err != nil {
		if errors.Is(err, pvwire.ErrFatalProtocol) || errors.Is(err, pvwire.ErrUnknownType) {
			return fmt.Errorf("%w: %v", transport.ErrFatalProtocol, err)
		}
		return nil
	}
	top := pvstore.NewStructTop(desc)
	iv := pvvalue.Freeze(pvvalue.FromTop(top))
	op.complete(InfoResult{Value: iv})
	return nil
}

func (op *Info) complete(res InfoResult) {
	if op.state == StateDone {
		return
	}
	op.state = StateDone
	op.detach()
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	}
	metrics.RecordOperation(op.ch.Name(), "info", outcome)
	if op.callback != nil {
		cb := op.callback
		op.callback = nil
		safeInvoke(func() { cb(res) })
	}
}
