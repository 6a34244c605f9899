package client

import (
	"context"

	"github.com/openpva/pva/internal/pvop"
	"github.com/openpva/pva/internal/pvtype"
)

// MonitorBuilder configures a MONITOR subscription before it is started
// with Exec.
type MonitorBuilder struct {
	ctx       *Context
	name      string
	pvRequest string
	limit     int
	high, low int
	connect   func(*pvtype.FieldDesc, error)
	onHigh    func()
	onLow     func()
}

// Request overrides the default pvRequest string ("value").
func (b *MonitorBuilder) Request(pvRequest string) *MonitorBuilder {
	b.pvRequest = pvRequest
	return b
}

// QueueLimit sets the bounded local queue's capacity in data entries.
func (b *MonitorBuilder) QueueLimit(limit int) *MonitorBuilder {
	b.limit = limit
	return b
}

// Watermarks sets the high/low free-slot thresholds that trigger
// OnHighWater/OnLowWater, each firing at most once per crossing.
func (b *MonitorBuilder) Watermarks(high, low int) *MonitorBuilder {
	b.high, b.low = high, low
	return b
}

// OnConnect registers a callback fired once the type exchange completes.
func (b *MonitorBuilder) OnConnect(fn func(*pvtype.FieldDesc, error)) *MonitorBuilder {
	b.connect = fn
	return b
}

// OnHighWater registers the edge-triggered high-watermark callback.
func (b *MonitorBuilder) OnHighWater(fn func()) *MonitorBuilder {
	b.onHigh = fn
	return b
}

// OnLowWater registers the edge-triggered low-watermark callback.
func (b *MonitorBuilder) OnLowWater(fn func()) *MonitorBuilder {
	b.onLow = fn
	return b
}

// Exec starts the subscription and returns a handle whose Pop drains
// posted events. The caller must Cancel the handle once it is no longer
// needed.
func (b *MonitorBuilder) Exec(ctx context.Context) (*MonitorOp, error) {
	conn := b.ctx.conn
	opCh := make(chan *pvop.Monitor, 1)
	err := conn.Exec().CallSync(ctx, func() {
		ch := b.ctx.openChannel(b.name)
		op := pvop.NewMonitor(conn, ch, b.pvRequest, b.limit, b.high, b.low, b.connect)
		if b.onHigh != nil {
			op.OnHighWater(b.onHigh)
		}
		if b.onLow != nil {
			op.OnLowWater(b.onLow)
		}
		opCh <- op
	})
	if err != nil {
		return nil, err
	}
	return &MonitorOp{op: <-opCh}, nil
}

// MonitorOp is the handle returned by MonitorBuilder.Exec.
type MonitorOp struct{ op *pvop.Monitor }

// Pop blocks until the next event, control condition, or ctx cancellation.
// The first call after Exec returns transport.ErrConnected without
// consuming a queue entry.
func (h *MonitorOp) Pop(ctx context.Context) (pvop.MonitorEvent, error) {
	return h.op.Pop(ctx)
}

// Cancel discards the subscription and unblocks any pending Pop with
// pvop.ErrCancelled. Safe to call from any goroutine, any number of times.
func (h *MonitorOp) Cancel() { h.op.Cancel() }
