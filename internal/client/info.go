package client

import (
	"context"

	"github.com/openpva/pva/internal/pvop"
)

// InfoBuilder configures a GET_FIELD operation before it is started with
// Exec.
type InfoBuilder struct {
	ctx      *Context
	name     string
	subField string
}

// SubField sets the string carried in GET_FIELD's sub-field slot. Only the
// empty string, which asks for the whole channel's type, is supported;
// internal/pvserver ignores any other value.
func (b *InfoBuilder) SubField(name string) *InfoBuilder {
	b.subField = name
	return b
}

// Exec starts the operation and returns a handle; callback is invoked
// exactly once with the described type or a terminal error. The caller must
// Cancel the handle once it is no longer needed.
func (b *InfoBuilder) Exec(ctx context.Context, callback func(pvop.InfoResult)) (*InfoOp, error) {
	conn := b.ctx.conn
	opCh := make(chan *pvop.Info, 1)
	err := conn.Exec().CallSync(ctx, func() {
		ch := b.ctx.openChannel(b.name)
		opCh <- pvop.NewInfo(conn, ch, b.subField, callback)
	})
	if err != nil {
		return nil, err
	}
	return &InfoOp{op: <-opCh}, nil
}

// InfoOp is the handle returned by InfoBuilder.Exec.
type InfoOp struct{ op *pvop.Info }

// Cancel discards the operation; its callback, if not yet invoked, never
// will be. Safe to call from any goroutine, any number of times.
func (h *InfoOp) Cancel() { h.op.Cancel() }
