package pvvalue

import "errors"

// ErrNoField indicates a traversal that landed on the empty handle, raised
// only at the edge (scalar/array conversion calls). Traversal itself
// returns the empty handle silently.
var ErrNoField = errors.New("pvvalue: no such field")

// ErrNoConvert indicates storage types are incompatible, or a string
// failed to parse during a scalar conversion.
var ErrNoConvert = errors.New("pvvalue: cannot convert")

// errBadPath is a tokenizer-internal parse failure; callers never see it —
// it is always translated to an empty-handle return.
var errBadPath = errors.New("pvvalue: malformed path")
