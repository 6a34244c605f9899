package pvop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/metrics"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/pvwire"
	"github.com/openpva/pva/internal/transport"
)

// MonitorEvent is one posted update. Overrun reports whether the peer
// dropped earlier updates of its own to keep up. Value.IsEmpty() is the
// sentinel finish() posts: no more updates will follow, but the
// subscription was not disconnected.
type MonitorEvent struct {
	Value   pvvalue.IValue
	Overrun bool
}

type queueKind int

const (
	queueData queueKind = iota
	queueControl
)

type queueItem struct {
	kind queueKind
	ev   MonitorEvent
	err  error
}

// Monitor implements the MONITOR operation. After the initial type
// exchange the peer pushes event records asynchronously; Monitor maintains
// a local bounded FIFO the consumer drains with Pop, reporting flow-control
// credit back to the peer in blocks and firing edge-triggered watermark
// callbacks as the backlog grows and shrinks.
type Monitor struct {
	opBase
	pvRequest   string
	limit       int
	creditBlock int
	highWater   int
	lowWater    int
	connect     func(desc *pvtype.FieldDesc, err error)
	onHighWater func()
	onLowWater  func()

	desc *pvtype.FieldDesc

	mu            sync.Mutex
	queue         []queueItem
	notify        chan struct{}
	poppedOnce    bool
	pendingCredit int
	aboveHigh     bool
	belowLow      bool
}

// NewMonitor creates and registers a Monitor operation against ch. Must be
// called from a closure running on conn.Exec(). limit is the bounded
// queue's capacity in data entries; high and low are watermark thresholds
// measured in free slots (limit minus current backlog).
func NewMonitor(conn *transport.Connection, ch *transport.Channel, pvRequest string, limit, high, low int, connect func(*pvtype.FieldDesc, error)) *Monitor {
	if limit < 1 {
		limit = 1
	}
	op := &Monitor{
		opBase:      newOpBase(conn, ch),
		pvRequest:   pvRequest,
		limit:       limit,
		creditBlock: maxInt(limit/4, 1),
		highWater:   high,
		lowWater:    low,
		connect:     connect,
		notify:      make(chan struct{}),
	}
	conn.RegisterOp(op.ioid, op)
	ch.AddOp(op)
	return op
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// OnHighWater and OnLowWater register edge-triggered backpressure
// callbacks, firing at most once per crossing of their respective
// threshold. Set before the operation starts receiving events.
func (op *Monitor) OnHighWater(fn func()) { op.onHighWater = fn }
func (op *Monitor) OnLowWater(fn func())  { op.onLowWater = fn }

// Cancel discards the operation and unblocks any pending Pop with
// ErrCancelled. Safe to call from any goroutine.
func (op *Monitor) Cancel() {
	op.conn.Exec().Call(func() {
		if op.state != StateDone {
			metrics.RecordOperation(op.ch.Name(), "monitor", "cancelled")
		}
		op.cancel()
		op.connect = nil
	})
	op.postControl(ErrCancelled)
}

func (op *Monitor) OnChannelActive() {
	if op.state == StateDone {
		return
	}
	op.state = StateExecuting
	payload := pvwire.PutString(nil, op.pvRequest, op.order())
	if err := op.send(pvwire.CmdMonitor, pvwire.SubInit, payload); err != nil {
		op.failConnect(err)
	}
}

// OnDisconnect re-enters Connecting and surfaces Disconnect to the next
// Pop, but preserves the queue already posted, pvRequest, and the
// watermark-crossing state — only the server-side subscription itself
// needs to be re-established; the next OnChannelActive replays pvRequest.
func (op *Monitor) OnDisconnect() {
	if op.state == StateDone {
		return
	}
	if op.state == StateExecuting {
		op.state = StateConnecting
	}
	op.desc = nil
	op.postControl(transport.ErrDisconnect)
}

func (op *Monitor) OnReply(sub byte, body []byte) error {
	if op.state != StateExecuting {
		return nil
	}
	switch sub {
	case pvwire.SubInit:
		return op.handleInitReply(body)
	case pvwire.SubExec:
		return op.handleEventReply(body)
	default:
		return nil
	}
}

func (op *Monitor) handleInitReply(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: short MONITOR init reply", transport.ErrFatalProtocol)
	}
	status := body[0]
	if status != 0 {
		op.failConnect(&transport.RemoteError{Status: status})
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
	payload := pvwire.PutSize(nil, uint64(op.limit), op.order())
	if err := op.send(pvwire.CmdMonitor, pvwire.SubExec, payload); err != nil {
		logger := logging.Named("pvop")
		logger.Warn().Err(err).Msg("send initial monitor credit failed")
	}
	return nil
}

func (op *Monitor) handleEventReply(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: short MONITOR event", transport.ErrFatalProtocol)
	}
	overrun := body[0] != 0
	finished := body[1] != 0
	if finished {
		op.postData(MonitorEvent{})
		op.state = StateDone
		op.detach()
		metrics.RecordOperation(op.ch.Name(), "monitor", "ok")
		return nil
	}
	if op.desc == nil {
		return fmt.Errorf("%w: MONITOR event received before its type", transport.ErrFatalProtocol)
	}
	top := pvstore.NewStructTop(op.desc)
	if _, err := pvwire.DecodeMaskedValue(body[2:], top, op.conn.TypeStore(), op.order()); err != nil {
		if errors.Is(err, pvwire.ErrFatalProtocol) {
			return fmt.Errorf("%w: %v", transport.ErrFatalProtocol, err)
		}
		return nil
	}
	iv := pvvalue.Freeze(pvvalue.FromTop(top))
	op.postData(MonitorEvent{Value: iv, Overrun: overrun})
	return nil
}

func (op *Monitor) failConnect(err error) {
	if op.connect != nil {
		cb := op.connect
		safeInvoke(func() { cb(nil, err) })
	}
	op.state = StateDone
	op.detach()
	metrics.RecordOperation(op.ch.Name(), "monitor", "error")
	op.postControl(err)
}

// postData appends ev; if the queue is already at its limit, squash into
// the tail instead of growing further: OR the new masked cells onto the
// existing entry via pvvalue.Assign (restricted to marked cells) rather
// than dropping either update.
func (op *Monitor) postData(ev MonitorEvent) {
	finished := ev.Value.IsEmpty()
	var fire func()
	op.mu.Lock()
	switch {
	case finished, op.dataLenLocked() < op.limit:
		// finish()'s sentinel always gets through even at capacity, so a
		// consumer blocked in Pop is guaranteed to observe it.
		op.queue = append(op.queue, queueItem{kind: queueData, ev: ev})
	default:
		if tail := op.lastDataLocked(); tail != nil && !tail.ev.Value.IsEmpty() {
			dst := pvvalue.Thaw(tail.ev.Value)
			if err := pvvalue.Assign(dst, ev.Value.Value); err == nil {
				tail.ev.Value = pvvalue.Freeze(dst)
			}
			tail.ev.Overrun = tail.ev.Overrun || ev.Overrun
		}
	}
	op.wakeLocked()
	fire = op.checkWatermarksLocked()
	depth := op.dataLenLocked()
	op.mu.Unlock()
	metrics.SetMonitorQueueDepth(op.ch.Name(), depth)
	if fire != nil {
		safeInvoke(fire)
	}
}

// tryPost is post's drop-on-full variant: it never squashes, reporting
// false instead when the queue has no room. Unused by the wire path, which
// always squashes to avoid losing the freshest value, but available to a
// consumer that prefers dropping an update outright over merging it.
func (op *Monitor) tryPost(ev MonitorEvent) bool {
	op.mu.Lock()
	if op.dataLenLocked() >= op.limit {
		op.mu.Unlock()
		return false
	}
	op.queue = append(op.queue, queueItem{kind: queueData, ev: ev})
	op.wakeLocked()
	depth := op.dataLenLocked()
	op.mu.Unlock()
	metrics.SetMonitorQueueDepth(op.ch.Name(), depth)
	return true
}

func (op *Monitor) postControl(err error) {
	op.mu.Lock()
	op.queue = append(op.queue, queueItem{kind: queueControl, err: err})
	op.wakeLocked()
	op.mu.Unlock()
}

func (op *Monitor) dataLenLocked() int {
	n := 0
	for _, it := range op.queue {
		if it.kind == queueData {
			n++
		}
	}
	return n
}

func (op *Monitor) lastDataLocked() *queueItem {
	for i := len(op.queue) - 1; i >= 0; i-- {
		if op.queue[i].kind == queueData {
			return &op.queue[i]
		}
	}
	return nil
}

func (op *Monitor) wakeLocked() {
	close(op.notify)
	op.notify = make(chan struct{})
}

// checkWatermarksLocked returns the callback (if any) to fire for crossing
// a watermark, to be invoked by the caller after releasing the lock.
func (op *Monitor) checkWatermarksLocked() func() {
	fs := op.limit - op.dataLenLocked()
	switch {
	case fs > op.highWater && !op.aboveHigh:
		op.aboveHigh = true
		op.belowLow = false
		return op.onHighWater
	case fs <= op.lowWater && !op.belowLow:
		op.belowLow = true
		op.aboveHigh = false
		return op.onLowWater
	}
	return nil
}

// Pop blocks until an event, control condition, or ctx cancellation. The
// very first call after subscribe returns ErrConnected without consuming a
// queue entry, letting callers observe the connect transition without a
// parallel channel.
func (op *Monitor) Pop(ctx context.Context) (MonitorEvent, error) {
	op.mu.Lock()
	if !op.poppedOnce {
		op.poppedOnce = true
		op.mu.Unlock()
		return MonitorEvent{}, transport.ErrConnected
	}
	for len(op.queue) == 0 {
		notify := op.notify
		op.mu.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return MonitorEvent{}, ctx.Err()
		}
		op.mu.Lock()
	}
	item := op.queue[0]
	op.queue = op.queue[1:]
	depth := op.dataLenLocked()
	op.mu.Unlock()
	if item.kind == queueData {
		metrics.SetMonitorQueueDepth(op.ch.Name(), depth)
	}

	if item.kind == queueControl {
		return MonitorEvent{}, item.err
	}
	op.creditAfterPop()
	return item.ev, nil
}

// creditAfterPop accumulates one free slot and, once a full block has
// accrued, posts the replenishment to the peer — pipelined flow control
// instead of acking every single pop.
func (op *Monitor) creditAfterPop() {
	op.mu.Lock()
	op.pendingCredit++
	var grant int
	if op.pendingCredit >= op.creditBlock {
		grant = op.pendingCredit
		op.pendingCredit = 0
	}
	fire := op.checkWatermarksLocked()
	op.mu.Unlock()
	if fire != nil {
		safeInvoke(fire)
	}
	if grant == 0 {
		return
	}
	op.conn.Exec().Call(func() {
		if op.state != StateExecuting {
			return
		}
		payload := pvwire.PutSize(nil, uint64(grant), op.order())
		if err := op.send(pvwire.CmdMonitor, pvwire.SubExec, payload); err != nil {
			logger := logging.Named("pvop")
			logger.Warn().Err(err).Msg("send monitor credit failed")
		}
	})
}
