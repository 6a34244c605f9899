package client

import (
	"context"

	"github.com/openpva/pva/internal/pvop"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
)

// PutBuilder configures a PUT operation before it is started with Exec.
type PutBuilder struct {
	ctx       *Context
	name      string
	pvRequest string
	connect   func(*pvtype.FieldDesc, error)
}

// Request overrides the default pvRequest string ("value").
func (b *PutBuilder) Request(pvRequest string) *PutBuilder {
	b.pvRequest = pvRequest
	return b
}

// OnConnect registers a callback fired once the type exchange completes,
// successfully or not, before value is written.
func (b *PutBuilder) OnConnect(fn func(*pvtype.FieldDesc, error)) *PutBuilder {
	b.connect = fn
	return b
}

// Exec starts the operation, writing value's currently-marked cells once
// the peer's type arrives; result is invoked exactly once. value must not
// be mutated again until result fires or the handle is cancelled. The
// caller must Cancel the handle once it is no longer needed.
func (b *PutBuilder) Exec(ctx context.Context, value pvvalue.MValue, result func(error)) (*PutOp, error) {
	conn := b.ctx.conn
	opCh := make(chan *pvop.Put, 1)
	err := conn.Exec().CallSync(ctx, func() {
		ch := b.ctx.openChannel(b.name)
		opCh <- pvop.NewPut(conn, ch, b.pvRequest, value, b.connect, result)
	})
	if err != nil {
		return nil, err
	}
	return &PutOp{op: <-opCh}, nil
}

// PutOp is the handle returned by PutBuilder.Exec.
type PutOp struct{ op *pvop.Put }

// Cancel discards the operation; its callback, if not yet invoked, never
// will be. Safe to call from any goroutine, any number of times.
func (h *PutOp) Cancel() { h.op.Cancel() }
