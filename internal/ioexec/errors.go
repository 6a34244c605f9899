package ioexec

import "errors"

// ErrStopped is returned by CallSync when the executor has been stopped
// before or while the call was pending.
var ErrStopped = errors.New("ioexec: executor stopped")
