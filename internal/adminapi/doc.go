// Package adminapi serves a small JSON/HTTP surface for operator
// introspection and recovery (SPEC_FULL.md §4.N): the installed device
// identity, a snapshot of the running transaction, and two recovery
// actions (rescan, abort). It is served over h2c the way this codebase's
// lineage serves its own RPC surface, even though the payload here is
// JSON rather than protobuf.
package adminapi
