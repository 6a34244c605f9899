package pvwire

import "errors"

// ErrNeedMore is returned by any decode step that cannot make progress with
// the bytes currently buffered. The caller should Feed more bytes and
// retry; nothing already committed is disturbed.
var ErrNeedMore = errors.New("pvwire: need more data")

// ErrFatalProtocol marks malformed or bounds-violating wire bytes. Per the
// error model, a FatalProtocol drops the owning connection; every pending
// operation on it re-enters Connecting.
var ErrFatalProtocol = errors.New("pvwire: fatal protocol error")

// ErrUnknownType is raised decoding a 0xFE cache reference with no prior
// 0xFD declaration in this connection/direction's TypeStore.
var ErrUnknownType = errors.New("pvwire: unknown cached type id")
