// Package dfumetrics exposes Prometheus metrics for the DFU coordinator:
// current state, transaction lifecycle counters, transfer throughput
// counters, and failure counters for signature rejection and beacon
// buffer exhaustion (SPEC_FULL.md §4.L).
package dfumetrics
