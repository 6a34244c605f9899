package pvop

import (
	"errors"
	"fmt"

	"github.com/openpva/pva/internal/metrics"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// GetResult is delivered once to a Get operation's result callback.
type GetResult struct {
	Value pvvalue.IValue
	Err   error
}

// Get implements the two-round GET operation: init exchanges pvRequest for
// the peer's chosen type and fires connect, then execute fetches the
// masked value and fires result. Both rounds run within one Executing
// state; which round a reply belongs to is read off its subcommand byte.
type Get struct {
	opBase
	pvRequest string
	connect   func(desc *pvtype.FieldDesc, err error)
	result    func(GetResult)
	desc      *pvtype.FieldDesc
}

// NewGet creates and registers a Get operation against ch. Must be called
// from a closure running on conn.Exec(). connect and result may each be
// nil; connect fires once after the type exchange (success or failure),
// result fires once with the fetched value or a terminal error.
func NewGet(conn *transport.Connection, ch *transport.Channel, pvRequest string, connect func(*pvtype.FieldDesc, error), result func(GetResult)) *Get {
	op := &Get{opBase: newOpBase(conn, ch), pvRequest: pvRequest, connect: connect, result: result}
	conn.RegisterOp(op.ioid, op)
	ch.AddOp(op)
	return op
}

// Cancel discards the operation; neither callback, if not yet invoked,
// will be. Safe to call from any goroutine.
func (op *Get) Cancel() {
	op.conn.Exec().Call(func() {
		if op.state != StateDone {
			metrics.RecordOperation(op.ch.Name(), "get", "cancelled")
		}
		op.cancel()
		op.connect = nil
		op.result = nil
	})
}

func (op *Get) OnChannelActive() {
	if op.state != StateConnecting {
		return
	}
	op.state = StateExecuting
	payload := pvwire.PutString(nil, op.pvRequest, op.order())
	if err := op.send(pvwire.CmdGet, pvwire.SubInit, payload); err != nil {
		op.failInit(err)
	}
}

// OnDisconnect re-enters Connecting and discards the round-1 type; the next
// OnChannelActive replays the full two-round exchange.
func (op *Get) OnDisconnect() {
	if op.state == StateExecuting {
		op.state = StateConnecting
		op.desc = nil
	}
}

func (op *Get) OnReply(sub byte, body []byte) error {
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

func (op *Get) handleInitReply(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: short GET init reply", transport.ErrFatalProtocol)
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
	if err := op.send(pvwire.CmdGet, pvwire.SubExec, nil); err != nil {
		op.failResult(err)
	}
	return nil
}

func (op *Get) handleExecReply(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: short GET exec reply", transport.ErrFatalProtocol)
	}
	status := body[0]
	if status != 0 {
		op.failResult(&transport.RemoteError{Status: status})
		return nil
	}
	if op.desc == nil {
		return fmt.Errorf("%w: GET value received before its type", transport.ErrFatalProtocol)
	}
	top := pvstore.NewStructTop(op.desc)
	if _, err := pvwire.DecodeMaskedValue(body[1:], top, op.conn.TypeStore(), op.order()); err != nil {
		if errors.Is(err, pvwire.ErrFatalProtocol) {
			return fmt.Errorf("%w: %v", transport.ErrFatalProtocol, err)
		}
		return nil
	}
	iv := pvvalue.Freeze(pvvalue.FromTop(top))
	op.completeResult(GetResult{Value: iv})
	return nil
}

func (op *Get) failInit(err error) {
	if op.connect != nil {
		cb := op.connect
		safeInvoke(func() { cb(nil, err) })
	}
	op.completeResult(GetResult{Err: err})
}

func (op *Get) failResult(err error) {
	op.completeResult(GetResult{Err: err})
}

func (op *Get) completeResult(res GetResult) {
	if op.state == StateDone {
		return
	}
	op.state = StateDone
	op.detach()
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	}
	metrics.RecordOperation(op.ch.Name(), "get", outcome)
	if op.result != nil {
		cb := op.result
		op.connect, op.result = nil, nil
		safeInvoke(func() { cb(res) })
	}
}
