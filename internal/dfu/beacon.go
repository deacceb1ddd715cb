package dfu

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BeaconKind names the beacon currently owned by the BeaconDriver, used
// only for logging and metrics — the wire PacketType is what peers see.
type BeaconKind uint8

const (
	BeaconFWID BeaconKind = iota
	BeaconDFUReq
	BeaconReady
	BeaconDataRelay
	BeaconDataRsp
)

var beaconKindNames = [...]string{"FWID", "DFU_REQ", "READY", "DATA_RELAY", "DATA_RSP"}

func (k BeaconKind) String() string {
	if int(k) < len(beaconKindNames) {
		return beaconKindNames[k]
	}
	return "BeaconKind(?)"
}

// beaconPlan is the repeat-count/interval entry from §4.D's table.
type beaconPlan struct {
	repeats  int
	interval time.Duration
}

var beaconPlans = map[BeaconKind]beaconPlan{
	BeaconFWID:      {repeats: RepeatInfinite, interval: IntervalRegular},
	BeaconDFUReq:    {repeats: RepeatInfinite, interval: IntervalRegular},
	BeaconReady:     {repeats: RepeatInfinite, interval: IntervalRegular},
	BeaconDataRelay: {repeats: 5, interval: IntervalRegular},
	BeaconDataRsp:   {repeats: 5, interval: IntervalRegular},
}

// BeaconDriver owns at most one outstanding beacon transmission at a time
// (§4.D). Setting a new beacon always aborts whatever was previously
// transmitting before starting the new one.
type BeaconDriver struct {
	mu        sync.Mutex
	transport Transport
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBeaconDriver builds a BeaconDriver transmitting over transport.
func NewBeaconDriver(transport Transport, logger *slog.Logger) *BeaconDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &BeaconDriver{transport: transport, logger: logger}
}

// Set aborts any current primary transmission and begins broadcasting
// frame as kind. Set is for the long-running, state-defining beacons
// (FWID, DFU_REQ, READY) that occupy the single buffer slot of §4.D; use
// Burst for the finite-repeat DATA relay and DATA_RSP transmissions, which
// do not own the slot and run alongside whatever Set last started.
func (d *BeaconDriver) Set(ctx context.Context, kind BeaconKind, frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abortLocked()

	plan := beaconPlans[kind]
	bctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		defer close(d.done)
		errCh <- d.transport.Broadcast(bctx, frame, plan.repeats, plan.interval)
	}()

	d.logger.Debug("beacon set", "kind", kind.String())

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

// Burst transmits frame as kind without disturbing the primary beacon
// slot, for the finite-repeat DATA relay and DATA_RSP transmissions of
// §4.D. Acquisition failure is reported synchronously; completion of all
// repeats is not awaited.
func (d *BeaconDriver) Burst(ctx context.Context, kind BeaconKind, frame []byte) error {
	plan := beaconPlans[kind]
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.transport.Broadcast(ctx, frame, plan.repeats, plan.interval)
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

// Abort cancels whatever is currently transmitting on the primary slot,
// per §4.D / §5's "beacon_set unconditionally aborts the previous one."
func (d *BeaconDriver) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abortLocked()
}

func (d *BeaconDriver) abortLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.transport.Abort()
	d.cancel = nil
	d.done = nil
}
