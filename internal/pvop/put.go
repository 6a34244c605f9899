package pvop

import (
	"errors"
	"fmt"

	"github.com/openpva/pva/internal/metrics"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// Put implements the two-round PUT operation, symmetric to Get: init
// exchanges pvRequest for the peer's chosen type and fires connect, then
// execute writes value's marked cells as a masked value and fires result
// with the reply's status only.
type Put struct {
	opBase
	pvRequest string
	value     pvvalue.MValue
	connect   func(desc *pvtype.FieldDesc, err error)
	result    func(error)
	desc      *pvtype.FieldDesc
}

// NewPut creates and registers a Put operation against ch. Must be called
// from a closure running on conn.Exec(). value's currently-marked cells are
// what execute sends; value must not be mutated again until result fires
// (or the operation is cancelled).
func NewPut(conn *transport.Connection, ch *transport.Channel, pvRequest string, value pvvalue.MValue, connect func(*pvtype.FieldDesc, error), result func(error)) *Put {
	op := &Put{opBase: newOpBase(conn, ch), pvRequest: pvRequest, value: value, connect: connect, result: result}
	conn.RegisterOp(op.ioid, op)
	ch.AddOp(op)
	return op
}

// Cancel discards the operation; neither callback, if not yet invoked,
// will be. Safe to call from any goroutine.
func (op *Put) Cancel() {
	op.conn.Exec().Call(func() {
		if op.state != StateDone {
			metrics.RecordOperation(op.ch.Name(), "put", "cancelled")
		}
		op.cancel()
		op.connect = nil
		op.result = nil
	})
}

func (op *Put) OnChannelActive() {
	if op.state != StateConnecting {
		return
	}
	op.state = StateExecuting
	payload := pvwire.PutString(nil, op.pvRequest, op.order())
	if err := op.send(pvwire.CmdPut, pvwire.SubInit, payload); err != nil {
		op.failInit(err)
	}
}

// OnDisconnect re-enters Connecting and discards the round-1 type; the next
// OnChannelActive replays the full two-round exchange, re-sending value's
// currently-marked cells again on the new connection.
func (op *Put) OnDisconnect() {
	if op.state == StateExecuting {
		op.state = StateConnecting
		op.desc = nil
	}
}

func (op *Put) OnReply(sub byte, body []byte) error {
	if op.state != StateExecuting {
		return nil
	}
	switch sub {
	case pvwire.SubInit:
		return op.handleInitReply(body)
	case pvwire.SubExec:
		return op.handleExecReply(body)
	default:
		return nil
	}
}

func (op *Put) handleInitReply(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: short PUT init reply", transport.ErrFatalProtocol)
	}
	status := body[0]
	if status != 0 {
		op.failInit(&transport.RemoteError{Status: status})
		return nil
	}
	desc, _, err := pvwire.DecodeType(body[1:], op.conn.TypeStore(), op.order())
	if err != nil {
		if errors.Is(err, pvwire.ErrFatalProtocol) || errors.Is(err, pvwire.ErrUnknownType) {
			return fmt.Errorf("%w: %v", transport.ErrFatalProtocol, err)
		}
		return nil
	}
	op.desc = desc
	if op.connect != nil {
		cb := op.connect
		safeInvoke(func() { cb(desc, nil) })
	}
	payload := pvwire.EncodeMaskedValue(nil, op.value.Top(), op.conn.OutCache(), op.order())
	if err := op.send(pvwire.CmdPut, pvwire.SubExec, payload); err != nil {
		op.failResult(err)
	}
	return nil
}

func (op *Put) handleExecReply(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: short PUT exec reply", transport.ErrFatalProtocol)
	}
	status := body[0]
	if status != 0 {
		op.failResult(&transport.RemoteError{Status: status})
		return nil
	}
	op.completeResult(nil)
	return nil
}

func (op *Put) failInit(err error) {
	if op.connect != nil {
		cb := op.connect
		safeInvoke(func() { cb(nil, err) })
	}
	op.completeResult(err)
}

func (op *Put) failResult(err error) {
	op.completeResult(err)
}

func (op *Put) completeResult(err error) {
	if op.state == StateDone {
		return
	}
	op.state = StateDone
	op.detach()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordOperation(op.ch.Name(), "put", outcome)
	if op.result != nil {
		cb := op.result
		op.connect, op.result = nil, nil
		safeInvoke(func() { cb(err) })
	}
}
