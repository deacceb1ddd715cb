package dfu

// StateChange describes a Coordinator transition, delivered to registered
// observers so external systems (metrics, an admin API) can react without
// the Coordinator importing them directly — the same decoupling this
// codebase's protocol sessions use for their own state-change
// notifications.
type StateChange struct {
	Old State
	New State
	Type DFUType
}

// StateCallback is invoked synchronously by the Coordinator's run loop on
// every state transition. Callbacks must not block or call back into the
// Coordinator; long-running reactions should be dispatched to their own
// goroutine.
type StateCallback func(StateChange)

// AbortCallback is invoked once when the Coordinator leaves the protocol,
// naming the reason and the application entry point to launch.
type AbortCallback func(reason AbortReason, launchBootloader bool)

// TraceEvent names a protocol-level occurrence a metrics collector counts
// (SPEC_FULL.md §4.L): transfer volume and the rejections a healthy
// rollout should never see. It carries no payload — the event's identity
// is the metric.
type TraceEvent uint8

const (
	TraceSegmentWritten TraceEvent = iota
	TraceSegmentRelayed
	TraceDataRspServed
	TraceSignatureFailure
	TraceBeaconBufferExhausted
)

var traceEventNames = [...]string{
	"SEGMENT_WRITTEN", "SEGMENT_RELAYED", "DATA_RSP_SERVED",
	"SIGNATURE_FAILURE", "BEACON_BUFFER_EXHAUSTED",
}

func (e TraceEvent) String() string {
	if int(e) < len(traceEventNames) {
		return traceEventNames[e]
	}
	return "TraceEvent(?)"
}

// TraceCallback is invoked synchronously by the Coordinator's run loop for
// each TraceEvent it raises internally, decoupling transfer-volume and
// rejection counting from any particular metrics library, the same way
// StateCallback decouples state reporting.
type TraceCallback func(TraceEvent)
