package flashsim

import "errors"

// ErrNotStarted indicates Data or End was called before Start.
var ErrNotStarted = errors.New("flashsim: transfer not started")

// ErrOutOfRange indicates an address lies outside the started transfer's
// declared [dst, dst+length) range.
var ErrOutOfRange = errors.New("flashsim: address out of transfer range")
