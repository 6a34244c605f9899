package pvop

import "errors"

// ErrCancelled is the error a Monitor's Pop returns once its operation has
// been cancelled. Info, Get, and Put have no equivalent: their callback is
// discarded on cancel rather than invoked, per the cancellation contract.
var ErrCancelled = errors.New("pvop: operation cancelled")
