package dfu

// Writer is the DFU flash collaborator (§6): it accepts a transfer's
// framing, commits segments, and reports back what it has already
// committed so a peer's DATA_REQ can be served without re-deriving state
// the Coordinator itself does not keep. internal/flashsim supplies
// in-memory and file-backed implementations.
type Writer interface {
	// Start begins a new transfer: dst is the final destination, bank is
	// the staging address (equal to dst for APP/SD transfers), length is
	// the total image size in bytes, and lastIsValid indicates the final
	// segment of the transfer is authoritative (as opposed to a resumed
	// transfer still missing its tail). Start returns
	// ErrWriterRejectedStart if the transfer cannot begin.
	Start(dst, bank Address, length uint32, lastIsValid bool) error

	// Data commits one segment's bytes at addr. An address already
	// committed is silently deduplicated by the writer, not by the
	// Coordinator (§8's round-trip property).
	Data(addr Address, b []byte) error

	// End finalizes the transfer, after which SHA256 reflects the
	// complete committed image.
	End() error

	// HasEntry reports whether the writer already holds SegmentSize bytes
	// at addr, copying them into out if so. Used to answer DATA_REQ.
	HasEntry(addr Address, out []byte) bool

	// SHA256 returns the digest of every byte committed via Data, in
	// address order, for introspection (the admin API, logging). The
	// verifier does not use this: it re-derives its own digest over
	// Image() with the signature tail excluded, since only it knows
	// sigLength.
	SHA256() [32]byte

	// Image returns the full committed image bytes including the
	// signature tail, for the verifier's final check.
	Image() []byte
}
