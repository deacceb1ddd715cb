package dfu

// Transaction is the mutable singleton describing the one active transfer
// (§3). It is zeroed on entry to FIND_FWID and on every StartReq; only the
// Coordinator's run loop touches it.
type Transaction struct {
	TransactionID uint32
	Authority     uint8
	Type          DFUType
	Target        Identity

	StartAddr Address
	BankAddr  Address
	Length    uint32 // bytes
	SigLength uint32 // bytes

	SegmentCount     uint16
	SegmentsRemaining uint16

	ReadyMIC                    uint32
	SegmentIsValidAfterTransfer bool
}

// segmentsRemainingUnset marks a transaction that has not yet entered
// DFU_READY's segment-0 handling; "unset" per §4.C.
const segmentsRemainingUnset = 0xFFFF

// StartReq resets the transaction for a new listening request of the given
// type, per §4.C: every field except Type and Target returns to its
// zero/sentinel value. Target survives because the caller (FIND_FWID's
// handler) sets it from the peer's FWID immediately before calling
// StartReq, naming what the request is asking for; it is the benchmark
// ReadyMatchesRequest compares an offer's identity against.
func (t *Transaction) StartReq(dfuType DFUType) {
	target := t.Target
	*t = Transaction{Type: dfuType, Target: target, SegmentsRemaining: segmentsRemainingUnset}
}

// StartReady populates the transaction from an accepted STATE packet
// (§4.F DFU_REQ → DFU_READY transition).
func (t *Transaction) StartReady(st StatePayload) {
	t.TransactionID = st.TransactionID
	t.Authority = st.Authority
	t.Target = st.Target
	t.ReadyMIC = st.MIC
}

// AdoptElection replaces the authority/transaction_id pair during the
// DFU_READY election (§4.F), per ElectionWins.
func (t *Transaction) AdoptElection(authority uint8, tid uint32) {
	t.Authority = authority
	t.TransactionID = tid
}

// SegmentCountFor computes segment_count from a start frame's length (in
// 4-byte words) and start address, per §4.F / §9's open question,
// resolved against the original bootloader's
// `((len*4 + (addr&0x0F)) - 1)/16 + 1`, capped at 0xFFFF.
func SegmentCountFor(lengthWords uint32, startAddr Address) uint16 {
	lengthBytes := lengthWords * 4
	misalign := uint32(startAddr) & 0x0F
	count := (lengthBytes+misalign-1)/SegmentSize + 1
	if count > 0xFFFF {
		return 0xFFFF
	}
	return uint16(count)
}

// BankAddressFor computes the staging address for a transfer, per §4.F:
// identical to the start address for APP/SD, but offset into the page
// below the end of the app segment for BOOTLOADER transfers so the new
// bootloader image does not overlap the running one.
func BankAddressFor(dfuType DFUType, startAddr Address, lengthBytes uint32, appSegment Segment) Address {
	if dfuType != TypeBootloader {
		return startAddr
	}
	appEnd := uint32(appSegment.Start) + appSegment.Length
	return Address(appEnd - alignUp(lengthBytes, PageSize) - PageSize)
}

// AddrFromSegment maps a 1-based segment number to its flash address,
// per §4.F / addr_from_seg: segment 1 lands exactly at the start address;
// later segments are 16-byte-aligned strides from the 16-byte-aligned
// floor of the start address.
func AddrFromSegment(segment uint16, startAddr Address) Address {
	if segment == 1 {
		return startAddr
	}
	base := Address(alignDown(uint32(startAddr), SegmentSize))
	return base + Address(uint32(segment-1)*SegmentSize)
}
