// Package client is the consumer-facing surface on top of internal/pvop:
// a Context per connection, and one builder per operation kind
// (Get/Info/Put/Monitor), each terminal on Exec. Unlike a destructor-driven
// handle, the returned operation handles need an explicit Cancel —
// there is no Go equivalent of running cancel() on scope exit — so every
// handle this package returns is documented as needing one.
package client

import (
	"context"

	"github.com/openpva/pva/internal/transport"
)

// Context owns one Connection and is the entry point for every operation
// builder. Safe for concurrent use — every builder's Exec posts through
// conn.Exec(), the connection's single executor.
type Context struct {
	conn *transport.Connection
}

// Connect dials addr and returns a Context wrapping the resulting
// Connection. The session handshake runs synchronously inside Dial; by the
// time Connect returns, the connection's read loop is already running.
func Connect(ctx context.Context, addr string, cfg transport.Config) (*Context, error) {
	conn, err := transport.Dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	return &Context{conn: conn}, nil
}

// Close tears down the underlying connection, discarding every channel and
// operation still attached to it.
func (c *Context) Close() { c.conn.Close() }

// Closed reports the underlying connection's closed signal.
func (c *Context) Closed() <-chan struct{} { return c.conn.Closed() }

// Get starts building a GET operation against name.
func (c *Context) Get(name string) *GetBuilder {
	return &GetBuilder{ctx: c, name: name, pvRequest: "value"}
}

// Info starts building a GET_FIELD operation against name.
func (c *Context) Info(name string) *InfoBuilder {
	return &InfoBuilder{ctx: c, name: name}
}

// Put starts building a PUT operation against name.
func (c *Context) Put(name string) *PutBuilder {
	return &PutBuilder{ctx: c, name: name, pvRequest: "value"}
}

// Monitor starts building a MONITOR subscription against name.
func (c *Context) Monitor(name string) *MonitorBuilder {
	return &MonitorBuilder{ctx: c, name: name, pvRequest: "value", limit: 4}
}

// openChannel returns the (possibly freshly created) channel for name.
// Must be called from a closure running on c.conn.Exec().
func (c *Context) openChannel(name string) *transport.Channel {
	return c.conn.OpenChannel(name)
}

// Addr returns the address this Context's connection was dialed against.
func (c *Context) Addr() string { return c.conn.Addr() }

// Snapshot returns a summary of every channel currently known to the
// underlying connection. Safe to call from any goroutine; blocks until the
// connection's executor has produced the snapshot or ctx is done.
func (c *Context) Snapshot(ctx context.Context) ([]transport.ChannelSnapshot, error) {
	var out []transport.ChannelSnapshot
	err := c.conn.Exec().CallSync(ctx, func() {
		out = c.conn.Snapshot()
	})
	return out, err
}

// Handle is implemented by every operation builder's returned value. Cancel
// is idempotent and safe from any goroutine; it is the caller's
// responsibility to call it once the operation is no longer needed, since
// Go has no scope-exit destructor to do it automatically.
type Handle interface {
	Cancel()
}

var (
	_ Handle = (*GetOp)(nil)
	_ Handle = (*InfoOp)(nil)
	_ Handle = (*PutOp)(nil)
	_ Handle = (*MonitorOp)(nil)
)
