package dfu

import (
	"context"
	"time"
)

// RepeatInfinite means "transmit until explicitly aborted" (§4.D): used
// for the FWID, request, and ready beacons, which must keep announcing
// until a state change supersedes them.
const RepeatInfinite = 0

// IntervalRegular is the only interval class this protocol uses (§6).
const IntervalRegular = 100 * time.Millisecond

// Transport is the radio collaborator (§6): it transmits a framed
// advertising buffer some number of times at some interval, and can abort
// an outstanding transmission. The Coordinator never touches a socket or
// buffer pool directly; internal/radio supplies the concrete
// implementation used by the daemon, and an in-memory fake is used in
// tests.
type Transport interface {
	// Broadcast transmits frame repeats times at interval, or indefinitely
	// if repeats == RepeatInfinite, until ctx is canceled or Abort is
	// called. Broadcast returns ErrBeaconBufferExhausted if no buffer can
	// be acquired.
	Broadcast(ctx context.Context, frame []byte, repeats int, interval time.Duration) error

	// Abort cancels any outstanding Broadcast started on this Transport.
	Abort()
}
