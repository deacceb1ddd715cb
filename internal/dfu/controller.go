package dfu

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// recvChSize bounds the inbound packet queue. A constrained radio's rx
// rate is low enough that this never fills under normal operation; if it
// does, RecvPacket drops the incoming packet rather than blocking, so the
// packets already queued are kept.
const recvChSize = 32

// CoordinatorOption configures optional Coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithStateCallback registers a callback invoked on every state change.
func WithStateCallback(cb StateCallback) CoordinatorOption {
	return func(c *Coordinator) { c.onStateChange = cb }
}

// WithAbortCallback registers a callback invoked when the Coordinator
// leaves the protocol.
func WithAbortCallback(cb AbortCallback) CoordinatorOption {
	return func(c *Coordinator) { c.onAbort = cb }
}

// WithTraceCallback registers a callback invoked for every TraceEvent the
// Coordinator raises (segment writes/relays, DATA_RSP service, signature
// failures, beacon buffer exhaustion).
func WithTraceCallback(cb TraceCallback) CoordinatorOption {
	return func(c *Coordinator) { c.onTrace = cb }
}

// Coordinator is the DFU state machine (§4.F), the heart of this package.
// Exactly one owns the transaction record, the caches, and the beacon
// driver; it is never duplicated and holds no package-level globals.
type Coordinator struct {
	info      *InfoView
	writer    Writer
	transport Transport
	beacon    *BeaconDriver
	verifier  *Verifier
	timeout   TimeoutSource

	reqCache *ReqCache
	tidCache *TidCache

	logger        *slog.Logger
	onStateChange StateCallback
	onAbort       AbortCallback
	onTrace       TraceCallback

	state atomic.Uint32 // State, readable from any goroutine

	// mu guards transaction; only Run's goroutine writes it, but Snapshot
	// is called from other goroutines (monitoring, the admin API).
	mu          sync.Mutex
	transaction Transaction

	recvCh chan Packet

	// currentTimeoutCh is the channel returned by the most recent Arm
	// call. Only Run's goroutine reads or writes it.
	currentTimeoutCh <-chan time.Time

	// abortCh carries a fatal abort reason raised asynchronously from a
	// packet or state-entry handler (e.g. beacon buffer exhaustion) so
	// Run's select loop can terminate immediately rather than waiting out
	// the current deadline.
	abortCh chan AbortReason

	// rescanCh carries an operator-triggered request (the admin API's
	// POST /v1/rescan, SPEC_FULL.md §4.N) to abandon any in-flight
	// transaction and return to FIND_FWID without terminating Run.
	rescanCh chan struct{}
}

// NewCoordinator builds a Coordinator over its collaborators. info must be
// non-nil and already validated (see NewInfoView).
func NewCoordinator(info *InfoView, writer Writer, transport Transport, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		info:      info,
		writer:    writer,
		transport: transport,
		verifier:  NewVerifier(info.PublicKey()),
		timeout:   NewWallClockTimeoutSource(),
		reqCache:  &ReqCache{},
		tidCache:  &TidCache{},
		logger:    slog.Default(),
		recvCh:    make(chan Packet, recvChSize),
		abortCh:   make(chan AbortReason, 1),
		rescanCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.beacon = NewBeaconDriver(transport, c.logger)
	return c
}

// State returns the current state, safe to call from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// CoordinatorSnapshot is a read-only projection of the running Coordinator
// for monitoring (SPEC_FULL.md §3); it holds no references to mutable
// state.
type CoordinatorSnapshot struct {
	State             State
	Type              DFUType
	TransactionID     uint32
	Authority         uint8
	SegmentCount      uint16
	SegmentsRemaining uint16
}

// Snapshot returns a copy of the current transaction and state, safe to
// call from any goroutine.
func (c *Coordinator) Snapshot() CoordinatorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinatorSnapshot{
		State:             c.State(),
		Type:              c.transaction.Type,
		TransactionID:     c.transaction.TransactionID,
		Authority:         c.transaction.Authority,
		SegmentCount:      c.transaction.SegmentCount,
		SegmentsRemaining: c.transaction.SegmentsRemaining,
	}
}

// RecvPacket enqueues a decoded packet for processing by Run's goroutine.
// It never blocks: a full queue drops the packet, since a constrained
// device favors timely processing of recent traffic over guaranteeing
// delivery of every frame.
func (c *Coordinator) RecvPacket(pkt Packet) {
	select {
	case c.recvCh <- pkt:
	default:
		c.logger.Warn("recv queue full, dropping packet", "type", pkt.Type.String())
	}
}

// Run drives the Coordinator's single run loop (§5): incoming packets and
// the timeout channel are both funneled through this one goroutine so
// they can never interleave mid-transition. Run blocks until ctx is
// canceled or the protocol reaches a terminal abort.
func (c *Coordinator) Run(ctx context.Context) (AbortReason, error) {
	dfuType, state := c.info.InitialState()
	c.mu.Lock()
	c.transaction.StartReq(dfuType)
	c.mu.Unlock()

	timeoutCh := c.enterState(ctx, state)

	for {
		select {
		case <-ctx.Done():
			c.beacon.Abort()
			return 0, ctx.Err()
		case pkt := <-c.recvCh:
			c.handlePacket(ctx, pkt)
			timeoutCh = c.currentTimeoutCh
		case <-timeoutCh:
			reason, done := c.handleTimeout(ctx)
			if done {
				return reason, nil
			}
			timeoutCh = c.currentTimeoutCh
		case reason := <-c.abortCh:
			c.timeout.Stop()
			return reason, nil
		case <-c.rescanCh:
			c.mu.Lock()
			c.transaction = Transaction{Type: TypeUnknown, SegmentsRemaining: segmentsRemainingUnset}
			c.mu.Unlock()
			timeoutCh = c.enterState(ctx, StateFindFWID)
		}
	}
}

// Rescan forces the Coordinator to abandon any in-flight transaction and
// return to FIND_FWID, for operator-triggered recovery (the admin API's
// POST /v1/rescan, SPEC_FULL.md §4.N). It does not terminate Run.
func (c *Coordinator) Rescan() {
	select {
	case c.rescanCh <- struct{}{}:
	default:
	}
}

// Abort forces Run to terminate with reason, for operator-triggered
// recovery (the admin API's POST /v1/abort, SPEC_FULL.md §4.N).
func (c *Coordinator) Abort(reason AbortReason) {
	c.requestAbort(reason)
}

// enterState arms the deadline for s, updates the published state, fires
// the state-change callback, and returns the new timeout channel.
func (c *Coordinator) enterState(ctx context.Context, s State) <-chan time.Time {
	old := c.State()
	c.state.Store(uint32(s))
	ch := c.timeout.Arm(TimeoutFor(s))
	c.currentTimeoutCh = ch

	c.mu.Lock()
	dfuType := c.transaction.Type
	c.mu.Unlock()

	if c.onStateChange != nil && old != s {
		c.onStateChange(StateChange{Old: old, New: s, Type: dfuType})
	}
	c.logger.Debug("state transition", "from", old.String(), "to", s.String())

	switch s {
	case StateFindFWID:
		c.reqCache.Reset()
		frame := EncodeFWID(c.info.FWID())
		if err := c.beacon.Set(ctx, BeaconFWID, frame); err != nil {
			c.fireTrace(TraceBeaconBufferExhausted)
			c.requestAbort(AbortNoMem)
		}
	case StateDFUReq:
		c.mu.Lock()
		target := c.transaction.Target
		dfuType := c.transaction.Type
		c.mu.Unlock()
		frame := EncodeState(StatePayload{DFUType: dfuType, Authority: 0, Target: target})
		if err := c.beacon.Set(ctx, BeaconDFUReq, frame); err != nil {
			c.fireTrace(TraceBeaconBufferExhausted)
			c.requestAbort(AbortNoMem)
		}
	case StateDFUReady:
		c.refreshReadyBeacon(ctx)
	case StateDFUTarget:
		c.beacon.Abort()
	case StateRampdown:
		c.beacon.Abort()
	}
	return ch
}

// refreshReadyBeacon (re)broadcasts the READY beacon with the currently
// adopted (authority, transaction_id), per the "implementers should
// refresh the beacon immediately on adoption" design note (§9).
func (c *Coordinator) refreshReadyBeacon(ctx context.Context) {
	c.mu.Lock()
	st := StatePayload{
		DFUType:       c.transaction.Type,
		Authority:     c.transaction.Authority,
		Target:        c.transaction.Target,
		TransactionID: c.transaction.TransactionID,
		MIC:           c.transaction.ReadyMIC,
	}
	c.mu.Unlock()
	frame := EncodeState(st)
	if err := c.beacon.Set(ctx, BeaconReady, frame); err != nil {
		c.fireTrace(TraceBeaconBufferExhausted)
		c.requestAbort(AbortNoMem)
	}
}

// startReq transitions to DFU_REQ for dfuType, per §4.C's StartReq reset
// rule.
func (c *Coordinator) startReq(ctx context.Context, dfuType DFUType) {
	c.mu.Lock()
	c.transaction.StartReq(dfuType)
	c.mu.Unlock()
	c.currentTimeoutCh = c.enterState(ctx, StateDFUReq)
}

// startReady transitions to DFU_READY after accepting an offer.
func (c *Coordinator) startReady(ctx context.Context, st StatePayload) {
	c.mu.Lock()
	c.transaction.StartReady(st)
	c.mu.Unlock()
	c.currentTimeoutCh = c.enterState(ctx, StateDFUReady)
}

// fireTrace invokes the trace callback, if one is registered, for a
// protocol-level occurrence a metrics collector counts (§4.L).
func (c *Coordinator) fireTrace(e TraceEvent) {
	if c.onTrace != nil {
		c.onTrace(e)
	}
}

// abort leaves the protocol, invoking the abort callback with whether
// control should return to the bootloader itself rather than the app.
// Callers still inside handleTimeout's own return path use this directly;
// anyone else needing Run's loop to actually stop must use requestAbort.
func (c *Coordinator) abort(reason AbortReason) {
	c.beacon.Abort()
	if c.onAbort != nil {
		c.onAbort(reason, reason.LaunchesBootloader())
	}
	c.logger.Info("dfu protocol ended", "reason", reason.String())
}

// requestAbort performs the same cleanup as abort but additionally signals
// Run's select loop to terminate immediately, for failures discovered
// outside handleTimeout's own return path (§4.D's "buffer exhaustion is
// fatal", §4.G's signature rejection).
func (c *Coordinator) requestAbort(reason AbortReason) {
	c.abort(reason)
	select {
	case c.abortCh <- reason:
	default:
	}
}

// handleTimeout implements §4.H's per-state dispatch. It returns the
// abort reason and true if Run should stop; otherwise it re-enters a
// state and returns false.
func (c *Coordinator) handleTimeout(ctx context.Context) (AbortReason, bool) {
	switch c.State() {
	case StateFindFWID:
		c.abort(AbortFWIDValid)
		return AbortFWIDValid, true
	case StateDFUReq, StateDFUReady:
		c.abort(AbortNoStart)
		return AbortNoStart, true
	case StateDFUTarget:
		c.mu.Lock()
		dfuType := c.transaction.Type
		c.mu.Unlock()
		c.startReq(ctx, dfuType)
		return 0, false
	case StateRampdown:
		c.abort(AbortSuccess)
		return AbortSuccess, true
	default:
		return 0, false
	}
}

// handlePacket dispatches a decoded packet by type, consulting the
// current state as each handler requires (§4.F).
func (c *Coordinator) handlePacket(ctx context.Context, pkt Packet) {
	switch pkt.Type {
	case PacketFWID:
		c.handleFWID(ctx, pkt.FWID)
	case PacketState:
		c.handleState(ctx, pkt.State)
	case PacketData:
		c.handleData(ctx, pkt.Data)
	case PacketDataReq:
		c.handleDataReq(ctx, pkt.DataReq)
	case PacketDataRsp:
		c.handleDataRsp(pkt.DataRsp)
	}
}

func (c *Coordinator) handleFWID(ctx context.Context, peer Identity) {
	if c.State() != StateFindFWID {
		return
	}
	dfuType, ok := NextDiscoveryRequest(c.info.FWID(), peer)
	if !ok {
		return
	}
	// Name what we're asking for before StartReq, which preserves Target
	// across the reset — matching handle_fwid_packet setting
	// target_fwid_union immediately before start_req in the original.
	c.mu.Lock()
	c.transaction.Target = peer
	c.mu.Unlock()
	c.startReq(ctx, dfuType)
}

func (c *Coordinator) handleState(ctx context.Context, st StatePayload) {
	switch c.State() {
	case StateDFUReq:
		c.mu.Lock()
		wantType := c.transaction.Type
		wantTarget := c.transaction.Target
		c.mu.Unlock()
		if !ReadyMatchesRequest(st, wantType, wantTarget, c.tidCache) {
			return
		}
		c.startReady(ctx, st)
	case StateDFUReady:
		c.mu.Lock()
		wantType := c.transaction.Type
		wantTarget := c.transaction.Target
		curAuthority := c.transaction.Authority
		curTID := c.transaction.TransactionID
		c.mu.Unlock()
		if !ReadyMatchesRequest(st, wantType, wantTarget, c.tidCache) {
			return
		}
		if !ElectionWins(curAuthority, curTID, st.Authority, st.TransactionID) {
			return
		}
		c.mu.Lock()
		c.transaction.AdoptElection(st.Authority, st.TransactionID)
		c.mu.Unlock()
		c.refreshReadyBeacon(ctx)
	}
}

func (c *Coordinator) handleData(ctx context.Context, d DataPayload) {
	switch c.State() {
	case StateDFUReady:
		c.mu.Lock()
		tid := c.transaction.TransactionID
		dfuType := c.transaction.Type
		c.mu.Unlock()
		if d.TransactionID != tid {
			return
		}
		if d.Segment != 0 {
			// Missed the start frame: re-elect.
			c.tidCache.Insert(tid)
			c.startReq(ctx, dfuType)
			return
		}
		c.handleStartFrame(ctx, d)
	case StateDFUTarget:
		c.mu.Lock()
		tid := c.transaction.TransactionID
		segCount := c.transaction.SegmentCount
		startAddr := c.transaction.StartAddr
		c.mu.Unlock()
		if d.TransactionID != tid || d.Segment == 0 || d.Segment > segCount {
			return
		}
		addr := AddrFromSegment(d.Segment, startAddr)
		if err := c.writer.Data(addr, d.Payload); err != nil {
			c.logger.Warn("writer rejected segment", "segment", d.Segment, "error", err)
			return
		}
		c.fireTrace(TraceSegmentWritten)
		c.relay(ctx, d)
		c.mu.Lock()
		c.transaction.SegmentsRemaining--
		remaining := c.transaction.SegmentsRemaining
		c.mu.Unlock()
		if remaining == 0 {
			c.completeTransfer(ctx)
		}
	}
}

func (c *Coordinator) handleStartFrame(ctx context.Context, d DataPayload) {
	sf := d.Start
	c.mu.Lock()
	dfuType := c.transaction.Type
	c.mu.Unlock()

	seg := c.info.Segment(dfuType)
	lengthBytes := uint32(sf.LengthWords) * 4
	if !seg.Contains(sf.StartAddress, lengthBytes) {
		return
	}

	segCount := SegmentCountFor(sf.LengthWords, sf.StartAddress)
	bankAddr := BankAddressFor(dfuType, sf.StartAddress, lengthBytes, c.info.Segment(TypeApp))

	c.mu.Lock()
	c.transaction.StartAddr = sf.StartAddress
	c.transaction.BankAddr = bankAddr
	c.transaction.Length = lengthBytes
	c.transaction.SigLength = uint32(sf.SignatureLength)
	c.transaction.SegmentCount = segCount
	c.transaction.SegmentsRemaining = segCount
	c.transaction.SegmentIsValidAfterTransfer = sf.LastIsValid
	c.mu.Unlock()

	c.relay(ctx, d)

	c.beacon.Abort()
	if err := c.writer.Start(sf.StartAddress, bankAddr, lengthBytes, sf.LastIsValid); err != nil {
		c.mu.Lock()
		dfuType := c.transaction.Type
		c.mu.Unlock()
		c.startReq(ctx, dfuType)
		return
	}
	c.currentTimeoutCh = c.enterState(ctx, StateDFUTarget)
}

func (c *Coordinator) completeTransfer(ctx context.Context) {
	if err := c.writer.End(); err != nil {
		c.logger.Error("writer end failed", "error", err)
	}
	c.mu.Lock()
	sigLength := c.transaction.SigLength
	c.mu.Unlock()

	if c.verifier.Check(c.writer.Image(), sigLength) {
		c.currentTimeoutCh = c.enterState(ctx, StateRampdown)
		return
	}
	c.fireTrace(TraceSignatureFailure)
	c.requestAbort(AbortUnauthorized)
}

func (c *Coordinator) handleDataReq(ctx context.Context, ref SegmentRef) {
	c.mu.Lock()
	tid := c.transaction.TransactionID
	startAddr := c.transaction.StartAddr
	c.mu.Unlock()
	if ref.TransactionID != tid {
		return
	}
	if c.reqCache.Contains(ref) {
		return
	}
	var buf [SegmentSize]byte
	addr := AddrFromSegment(ref.Segment, startAddr)
	if !c.writer.HasEntry(addr, buf[:]) {
		return
	}
	c.reqCache.Insert(ref)
	frame := EncodeDataRsp(DataRspPayload{TransactionID: ref.TransactionID, Segment: ref.Segment, Payload: buf})
	if err := c.beacon.Burst(ctx, BeaconDataRsp, frame); err != nil {
		c.fireTrace(TraceBeaconBufferExhausted)
		return
	}
	c.fireTrace(TraceDataRspServed)
}

func (c *Coordinator) handleDataRsp(r DataRspPayload) {
	c.mu.Lock()
	tid := c.transaction.TransactionID
	startAddr := c.transaction.StartAddr
	c.mu.Unlock()
	if r.TransactionID != tid {
		return
	}
	addr := AddrFromSegment(r.Segment, startAddr)
	if err := c.writer.Data(addr, r.Payload[:]); err != nil {
		c.logger.Warn("writer rejected DATA_RSP segment", "segment", r.Segment, "error", err)
		return
	}
	c.fireTrace(TraceSegmentWritten)
}

// relay re-broadcasts an accepted DATA packet with our own source
// identity, per §4.F's relay rule.
func (c *Coordinator) relay(ctx context.Context, d DataPayload) {
	var frame []byte
	if d.Segment == 0 {
		frame = EncodeDataStart(d.TransactionID, d.Start)
	} else {
		var err error
		frame, err = EncodeDataSegment(d.TransactionID, d.Segment, d.Payload)
		if err != nil {
			return
		}
	}
	if err := c.beacon.Burst(ctx, BeaconDataRelay, frame); err != nil {
		c.fireTrace(TraceBeaconBufferExhausted)
		return
	}
	c.fireTrace(TraceSegmentRelayed)
}
