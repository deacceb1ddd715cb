package dfumetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "meshdfu"
	subsystem = "dfu"
)

// Label names for DFU metrics.
const (
	labelReason = "reason"
)

// -------------------------------------------------------------------------
// Collector — Prometheus DFU Metrics
// -------------------------------------------------------------------------

// Collector holds all DFU coordinator Prometheus metrics.
//
// Metrics are designed to make a mesh rollout observable:
//   - State gauge tracks which of the five protocol states each device
//     currently sits in.
//   - Transaction counters track how many transfers started, completed,
//     and aborted (labeled by reason) for alerting on stuck rollouts.
//   - Segment/DATA_RSP counters track transfer and loss-recovery volume.
//   - Signature and buffer-exhaustion counters flag protocol-level
//     rejections that a clean rollout should never see.
type Collector struct {
	// State reports the Coordinator's current State as a gauge (§4.F's
	// five-state enum, 0-4).
	State prometheus.Gauge

	// TransactionsStarted counts DFU_READY elections this coordinator
	// has won or adopted.
	TransactionsStarted prometheus.Counter

	// TransactionsCompleted counts transfers that reached RAMPDOWN with
	// AbortSuccess.
	TransactionsCompleted prometheus.Counter

	// TransactionsAborted counts every terminal Run() return, labeled by
	// AbortReason.
	TransactionsAborted *prometheus.CounterVec

	// SegmentsWritten counts DATA segments committed to the Writer.
	SegmentsWritten prometheus.Counter

	// SegmentsRelayed counts DATA segments re-broadcast to propagate a
	// transfer across the mesh.
	SegmentsRelayed prometheus.Counter

	// DataRspServed counts DATA_RSP frames sent in response to a loss
	// recovery DATA_REQ.
	DataRspServed prometheus.Counter

	// SignatureFailures counts completed transfers the Verifier rejected.
	SignatureFailures prometheus.Counter

	// BeaconBufferExhausted counts Transport.Broadcast/Burst calls that
	// failed with ErrBeaconBufferExhausted.
	BeaconBufferExhausted prometheus.Counter
}

// NewCollector creates a Collector with all DFU metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
//
// All metrics carry the "meshdfu_dfu_" prefix (namespace_subsystem) to
// avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.State,
		c.TransactionsStarted,
		c.TransactionsCompleted,
		c.TransactionsAborted,
		c.SegmentsWritten,
		c.SegmentsRelayed,
		c.DataRspServed,
		c.SignatureFailures,
		c.BeaconBufferExhausted,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current coordinator state (0=FIND_FWID, 1=DFU_REQ, 2=DFU_READY, 3=DFU_TARGET, 4=RAMPDOWN).",
		}),

		TransactionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions_started_total",
			Help:      "Total DFU transactions entered (election won or adopted).",
		}),

		TransactionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions_completed_total",
			Help:      "Total DFU transactions that completed and verified successfully.",
		}),

		TransactionsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions_aborted_total",
			Help:      "Total Run() exits, labeled by AbortReason.",
		}, []string{labelReason}),

		SegmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "segments_written_total",
			Help:      "Total DATA segments committed to the flash Writer.",
		}),

		SegmentsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "segments_relayed_total",
			Help:      "Total DATA segments re-broadcast to propagate a transfer.",
		}),

		DataRspServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "data_rsp_served_total",
			Help:      "Total DATA_RSP frames sent in response to a DATA_REQ.",
		}),

		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signature_failures_total",
			Help:      "Total completed transfers rejected by the Verifier.",
		}),

		BeaconBufferExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "beacon_buffer_exhausted_total",
			Help:      "Total beacon broadcasts that failed with ErrBeaconBufferExhausted.",
		}),
	}
}

// -------------------------------------------------------------------------
// State
// -------------------------------------------------------------------------

// SetState records the coordinator's current state.
func (c *Collector) SetState(s dfu.State) {
	c.State.Set(float64(s))
}

// -------------------------------------------------------------------------
// Transaction Lifecycle
// -------------------------------------------------------------------------

// RecordTransactionStarted increments the started counter. Called when a
// coordinator enters StateDFUReady having won or adopted an election.
func (c *Collector) RecordTransactionStarted() {
	c.TransactionsStarted.Inc()
}

// RecordRunResult increments the aborted counter (labeled by reason) for
// every Run() exit, and the completed counter additionally on success.
func (c *Collector) RecordRunResult(reason dfu.AbortReason) {
	c.TransactionsAborted.WithLabelValues(reason.String()).Inc()
	if reason == dfu.AbortSuccess {
		c.TransactionsCompleted.Inc()
	}
}

// -------------------------------------------------------------------------
// Transfer Volume
// -------------------------------------------------------------------------

// IncSegmentsWritten increments the committed-segment counter.
func (c *Collector) IncSegmentsWritten() {
	c.SegmentsWritten.Inc()
}

// IncSegmentsRelayed increments the relayed-segment counter.
func (c *Collector) IncSegmentsRelayed() {
	c.SegmentsRelayed.Inc()
}

// IncDataRspServed increments the DATA_RSP-served counter.
func (c *Collector) IncDataRspServed() {
	c.DataRspServed.Inc()
}

// -------------------------------------------------------------------------
// Failures
// -------------------------------------------------------------------------

// IncSignatureFailures increments the signature-rejection counter.
func (c *Collector) IncSignatureFailures() {
	c.SignatureFailures.Inc()
}

// IncBeaconBufferExhausted increments the buffer-exhaustion counter.
func (c *Collector) IncBeaconBufferExhausted() {
	c.BeaconBufferExhausted.Inc()
}
