package dfu

import "fmt"

// State is one of the five DFU coordinator states (§4.F).
type State uint8

const (
	// StateFindFWID is the initial discovery state: broadcast our own
	// identity and listen for a peer offering something newer.
	StateFindFWID State = iota
	// StateDFUReq broadcasts a listening request for a specific DFU type
	// and waits for an authoritative offer.
	StateDFUReq
	// StateDFUReady has accepted an offer and is electing the final
	// (authority, transaction_id) pair before the transfer begins.
	StateDFUReady
	// StateDFUTarget is actively receiving and writing segments.
	StateDFUTarget
	// StateRampdown has completed and verified a transfer and is about to
	// hand control to the newly installed image.
	StateRampdown
)

var stateNames = [...]string{"FIND_FWID", "DFU_REQ", "DFU_READY", "DFU_TARGET", "RAMPDOWN"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// -------------------------------------------------------------------------
// Pure helpers — no side effects, no access to controller state beyond
// their arguments. These are the election and comparison rules the
// controller's per-packet handlers consult; they are kept separate so the
// rules themselves can be tested without a running Coordinator.
// -------------------------------------------------------------------------

// ElectionWins reports whether a candidate (authority, tid) pair should
// replace the currently adopted one, per §4.F's DFU_READY election rule:
// a strictly greater authority always wins; an equal authority defers to
// the strictly greater transaction id.
func ElectionWins(curAuthority uint8, curTID uint32, candAuthority uint8, candTID uint32) bool {
	if candAuthority > curAuthority {
		return true
	}
	if candAuthority == curAuthority && candTID > curTID {
		return true
	}
	return false
}

// ReadyMatchesRequest reports whether a STATE packet is an acceptable
// answer to our outstanding DFU_REQ for wantType/wantTarget: it must offer
// (authority > 0), match our DFU type and target identity, and name a
// transaction id we have not already seen in tidCache, mirroring
// ready_packet_matches_our_req.
func ReadyMatchesRequest(st StatePayload, wantType DFUType, wantTarget Identity, tidCache *TidCache) bool {
	if !st.IsReady() {
		return false
	}
	if st.DFUType != wantType {
		return false
	}
	if tidCache.Contains(st.TransactionID) {
		return false
	}
	switch wantType {
	case TypeApp:
		return st.Target.CompanyID == wantTarget.CompanyID &&
			st.Target.AppID == wantTarget.AppID &&
			st.Target.AppVersion == wantTarget.AppVersion
	case TypeBootloader:
		return st.Target.BootloaderVersion == wantTarget.BootloaderVersion
	case TypeSoftdevice:
		return st.Target.SoftdeviceVersion == wantTarget.SoftdeviceVersion
	default:
		return false
	}
}

// NextDiscoveryRequest implements the FIND_FWID peer-comparison rule from
// §4.F: a newer bootloader always takes precedence; otherwise a newer app
// is pursued, gated through a softdevice upgrade first if the peer's app
// needs a different softdevice.
func NextDiscoveryRequest(local, peer Identity) (DFUType, bool) {
	if local.BootloaderIsNewer(peer) {
		return TypeBootloader, true
	}
	if local.AppIsNewer(peer) {
		if peer.SoftdeviceVersion != local.SoftdeviceVersion {
			return TypeSoftdevice, true
		}
		return TypeApp, true
	}
	return TypeUnknown, false
}
