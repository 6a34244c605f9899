package client

import (
	"context"

	"github.com/openpva/pva/internal/pvop"
	"github.com/openpva/pva/internal/pvtype"
)

// GetBuilder configures a GET operation before it is started with Exec.
type GetBuilder struct {
	ctx       *Context
	name      string
	pvRequest string
	connect   func(*pvtype.FieldDesc, error)
}

// Request overrides the default pvRequest string ("value").
func (b *GetBuilder) Request(pvRequest string) *GetBuilder {
	b.pvRequest = pvRequest
	return b
}

// OnConnect registers a callback fired once the type exchange completes,
// successfully or not, before the value fetch begins.
func (b *GetBuilder) OnConnect(fn func(*pvtype.FieldDesc, error)) *GetBuilder {
	b.connect = fn
	return b
}

// Exec starts the operation and returns a handle; result is invoked exactly
// once with the fetched value or a terminal error. The caller must Cancel
// the handle once it is no longer needed.
func (b *GetBuilder) Exec(ctx context.Context, result func(pvop.GetResult)) (*GetOp, error) {
	conn := b.ctx.conn
	opCh := make(chan *pvop.Get, 1)
	err := conn.Exec().CallSync(ctx, func() {
		ch := b.ctx.openChannel(b.name)
		opCh <- pvop.NewGet(conn, ch, b.pvRequest, b.connect, result)
	})
	if err != nil {
		return nil, err
	}
	return &GetOp{op: <-opCh}, nil
}

// GetOp is the handle returned by GetBuilder.Exec.
type GetOp struct{ op *pvop.Get }

// Cancel discards the operation; its result callback, if not yet invoked,
// never will be. Safe to call from any goroutine, any number of times.
func (h *GetOp) Cancel() { h.op.Cancel() }
