package transport

import (
	"errors"
	"fmt"
)

// ErrDisconnect is surfaced to a Monitor's next pop() once its channel has
// left Active.
var ErrDisconnect = errors.New("transport: channel disconnected")

// ErrConnected is the pseudo-error a Monitor's first pop() after subscribe
// returns, letting callers observe the connect transition without a
// parallel channel.
var ErrConnected = errors.New("transport: channel connected")

// ErrFatalProtocol means the peer sent malformed or bounds-violating wire
// bytes; the Connection that saw it is dropped and every operation on it
// re-enters Connecting.
var ErrFatalProtocol = errors.New("transport: fatal protocol violation")

// RemoteError wraps an operation reply that carried a non-success status.
type RemoteError struct {
	Status  uint8
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("transport: remote error: status=%d %s", e.Status, e.Message)
}
