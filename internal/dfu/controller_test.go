package dfu

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"
)

func mustGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv
}

// fakeWriter is an in-memory Writer fake keyed by flash address.
type fakeWriter struct {
	mu          sync.Mutex
	startCalled bool
	dst, bank   Address
	length      uint32
	lastValid   bool
	startErr    error
	segments    map[Address][]byte
	ended       bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{segments: make(map[Address][]byte)}
}

func (w *fakeWriter) Start(dst, bank Address, length uint32, lastIsValid bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.startCalled = true
	w.dst, w.bank, w.length, w.lastValid = dst, bank, length, lastIsValid
	return nil
}

func (w *fakeWriter) Data(addr Address, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := append([]byte(nil), b...)
	w.segments[addr] = cp
	return nil
}

func (w *fakeWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ended = true
	return nil
}

func (w *fakeWriter) HasEntry(addr Address, out []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.segments[addr]
	if !ok {
		return false
	}
	copy(out, b)
	return true
}

func (w *fakeWriter) SHA256() [32]byte { return [32]byte{} }

func (w *fakeWriter) Image() []byte { return nil }

// waitForState polls until the coordinator reaches want or the deadline
// elapses, failing the test otherwise.
func waitForState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, stuck at %v", want, c.State())
}

func TestCoordinatorCleanBootAbortsFWIDValid(t *testing.T) {
	flags := Flags{AppIntact: true, SDIntact: true}
	fwid := Identity{CompanyID: 1, AppID: 5, AppVersion: 1, BootloaderVersion: 1, SoftdeviceVersion: 1}
	app := Segment{Start: 0x1000, Length: 0x1000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	info, err := NewInfoView(InfoViewParams{Flags: &flags, FWID: &fwid, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd})
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}

	c := NewCoordinator(info, newFakeWriter(), newFakeTransport())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reason, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != AbortFWIDValid {
		t.Fatalf("reason = %v, want AbortFWIDValid", reason)
	}
}

// TestCoordinatorAppUpgradeEndToEnd drives a full app transfer: FWID
// discovery, request/ready election, start-frame acceptance, and segment
// delivery through to RAMPDOWN, matching spec.md §8's end-to-end scenario.
func TestCoordinatorAppUpgradeEndToEnd(t *testing.T) {
	flags := Flags{AppIntact: true, SDIntact: true}
	local := Identity{CompanyID: 1, AppID: 5, AppVersion: 1, BootloaderVersion: 1, SoftdeviceVersion: 1}
	app := Segment{Start: 0x1000, Length: 0x1000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	info, err := NewInfoView(InfoViewParams{Flags: &flags, FWID: &local, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd})
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}

	writer := newFakeWriter()
	transport := newFakeTransport()

	var traceMu sync.Mutex
	traceCounts := map[TraceEvent]int{}
	c := NewCoordinator(info, writer, transport,
		WithTraceCallback(func(e TraceEvent) {
			traceMu.Lock()
			defer traceMu.Unlock()
			traceCounts[e]++
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	var runReason AbortReason
	go func() {
		defer close(runDone)
		runReason, _ = c.Run(ctx)
	}()

	waitForState(t, c, StateFindFWID)

	peer := Identity{CompanyID: 1, AppID: 5, AppVersion: 2, BootloaderVersion: 1, SoftdeviceVersion: 1}
	c.RecvPacket(Packet{Type: PacketFWID, FWID: peer})
	waitForState(t, c, StateDFUReq)

	const tid = 0xABCD1234
	readyPkt := StatePayload{
		DFUType:       TypeApp,
		Authority:     1,
		Target:        peer,
		TransactionID: tid,
		MIC:           0x1,
	}
	c.RecvPacket(Packet{Type: PacketState, State: readyPkt})
	waitForState(t, c, StateDFUReady)

	// A higher-authority competing announcement should win the election
	// without leaving DFU_READY.
	betterReady := readyPkt
	betterReady.Authority = 2
	c.RecvPacket(Packet{Type: PacketState, State: betterReady})
	time.Sleep(20 * time.Millisecond)
	if snap := c.Snapshot(); snap.Authority != 2 {
		t.Fatalf("Authority = %d after election, want 2", snap.Authority)
	}

	start := StartFrame{StartAddress: app.Start, LengthWords: 8, SignatureLength: 0, LastIsValid: true}
	c.RecvPacket(Packet{Type: PacketData, Data: DataPayload{TransactionID: tid, Segment: 0, Start: start}})
	waitForState(t, c, StateDFUTarget)

	snap := c.Snapshot()
	if snap.SegmentCount != 2 {
		t.Fatalf("SegmentCount = %d, want 2", snap.SegmentCount)
	}

	seg1 := make([]byte, SegmentSize)
	seg2 := make([]byte, SegmentSize)
	for i := range seg1 {
		seg1[i] = byte(i)
		seg2[i] = byte(i + 100)
	}
	c.RecvPacket(Packet{Type: PacketData, Data: DataPayload{TransactionID: tid, Segment: 1, Payload: seg1}})
	c.RecvPacket(Packet{Type: PacketData, Data: DataPayload{TransactionID: tid, Segment: 2, Payload: seg2}})

	waitForState(t, c, StateRampdown)

	writer.mu.Lock()
	if !writer.startCalled {
		t.Fatal("expected writer.Start to have been called")
	}
	if !writer.ended {
		t.Fatal("expected writer.End to have been called on completion")
	}
	writer.mu.Unlock()

	traceMu.Lock()
	if traceCounts[TraceSegmentWritten] != 2 {
		t.Fatalf("TraceSegmentWritten fired %d times, want 2", traceCounts[TraceSegmentWritten])
	}
	if traceCounts[TraceSegmentRelayed] == 0 {
		t.Fatal("expected TraceSegmentRelayed to have fired for the relayed start frame and segments")
	}
	traceMu.Unlock()

	cancel()
	<-runDone
	_ = runReason
}

// TestCoordinatorSignatureRejectionAborts exercises §4.G's acceptance gate:
// a provisioned public key with a mismatched signature must reject the
// image and leave the protocol rather than hang in DFU_TARGET.
func TestCoordinatorSignatureRejectionAborts(t *testing.T) {
	priv := mustGenerateKey(t)

	flags := Flags{AppIntact: true, SDIntact: true}
	local := Identity{CompanyID: 1, AppID: 5, AppVersion: 1, SoftdeviceVersion: 1}
	app := Segment{Start: 0x1000, Length: 0x1000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	info, err := NewInfoView(InfoViewParams{
		Flags: &flags, FWID: &local, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd,
		PublicKey: &priv.PublicKey,
	})
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}

	writer := newFakeWriter()
	var abortedReason AbortReason
	var abortCalled bool
	var sigFailures int
	c := NewCoordinator(info, writer, newFakeTransport(),
		WithAbortCallback(func(reason AbortReason, launch bool) {
			abortedReason = reason
			abortCalled = true
		}),
		WithTraceCallback(func(e TraceEvent) {
			if e == TraceSignatureFailure {
				sigFailures++
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(ctx)
	}()

	waitForState(t, c, StateFindFWID)

	peer := Identity{CompanyID: 1, AppID: 5, AppVersion: 2, SoftdeviceVersion: 1}
	c.RecvPacket(Packet{Type: PacketFWID, FWID: peer})
	waitForState(t, c, StateDFUReq)

	const tid = 7
	c.RecvPacket(Packet{Type: PacketState, State: StatePayload{
		DFUType: TypeApp, Authority: 1, Target: peer, TransactionID: tid,
	}})
	waitForState(t, c, StateDFUReady)

	start := StartFrame{StartAddress: app.Start, LengthWords: 4, SignatureLength: 64, LastIsValid: true}
	c.RecvPacket(Packet{Type: PacketData, Data: DataPayload{TransactionID: tid, Segment: 0, Start: start}})
	waitForState(t, c, StateDFUTarget)

	payload := make([]byte, SegmentSize)
	c.RecvPacket(Packet{Type: PacketData, Data: DataPayload{TransactionID: tid, Segment: 1, Payload: payload}})

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after a rejected signature")
	}

	if !abortCalled || abortedReason != AbortUnauthorized {
		t.Fatalf("abortedReason = %v, abortCalled = %v, want AbortUnauthorized/true", abortedReason, abortCalled)
	}
	if sigFailures != 1 {
		t.Fatalf("TraceSignatureFailure fired %d times, want 1", sigFailures)
	}
}

// TestCoordinatorRescanReturnsToFindFWID drives a coordinator partway
// into an election, then confirms Rescan abandons the in-flight
// transaction and returns it to FIND_FWID without Run terminating.
func TestCoordinatorRescanReturnsToFindFWID(t *testing.T) {
	flags := Flags{AppIntact: true, SDIntact: true}
	fwid := Identity{CompanyID: 1, AppID: 5, AppVersion: 1, SoftdeviceVersion: 1}
	app := Segment{Start: 0x1000, Length: 0x1000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	info, err := NewInfoView(InfoViewParams{Flags: &flags, FWID: &fwid, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd})
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}

	c := NewCoordinator(info, newFakeWriter(), newFakeTransport())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(ctx)
	}()

	waitForState(t, c, StateFindFWID)

	peer := Identity{CompanyID: 1, AppID: 5, AppVersion: 2, SoftdeviceVersion: 1}
	c.RecvPacket(Packet{Type: PacketFWID, FWID: peer})
	waitForState(t, c, StateDFUReq)

	c.Rescan()
	waitForState(t, c, StateFindFWID)

	if snap := c.Snapshot(); snap.Type != TypeUnknown {
		t.Fatalf("Type = %v after Rescan, want TypeUnknown", snap.Type)
	}

	select {
	case <-runDone:
		t.Fatal("Run terminated after Rescan, want it to keep running")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-runDone
}

// TestCoordinatorAbortTerminatesRun confirms the exported Abort method
// (the admin API's POST /v1/abort) stops Run with the requested reason.
func TestCoordinatorAbortTerminatesRun(t *testing.T) {
	flags := Flags{AppIntact: true, SDIntact: true}
	fwid := Identity{CompanyID: 1, AppID: 5, AppVersion: 1, SoftdeviceVersion: 1}
	app := Segment{Start: 0x1000, Length: 0x1000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	info, err := NewInfoView(InfoViewParams{Flags: &flags, FWID: &fwid, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd})
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}

	c := NewCoordinator(info, newFakeWriter(), newFakeTransport())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resultCh := make(chan AbortReason, 1)
	go func() {
		reason, _ := c.Run(ctx)
		resultCh <- reason
	}()

	waitForState(t, c, StateFindFWID)
	c.Abort(AbortNoStart)

	select {
	case reason := <-resultCh:
		if reason != AbortNoStart {
			t.Fatalf("reason = %v, want AbortNoStart", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after Abort")
	}
}
