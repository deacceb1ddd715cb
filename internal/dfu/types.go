package dfu

import "fmt"

// DFUType selects which memory segment a transfer targets and which part
// of the identity triple is being negotiated.
type DFUType uint8

const (
	// TypeUnknown is the zero value; no transfer is in flight.
	TypeUnknown DFUType = iota
	// TypeApp targets the application segment.
	TypeApp
	// TypeSoftdevice targets the softdevice (radio stack) segment.
	TypeSoftdevice
	// TypeBootloader targets the bootloader segment.
	TypeBootloader
)

var dfuTypeNames = [...]string{"UNKNOWN", "APP", "SD", "BOOTLOADER"}

func (t DFUType) String() string {
	if int(t) < len(dfuTypeNames) {
		return dfuTypeNames[t]
	}
	return fmt.Sprintf("DFUType(%d)", uint8(t))
}

// SegmentSize is the fixed payload size of a DATA/DATA_RSP segment, in bytes.
const SegmentSize = 16

// PageSize is the flash page size used to align a bootloader bank address.
// Chosen to match the nRF51 series' 1 KiB flash page, the platform the
// original bootloader this protocol was distilled from targets.
const PageSize = 1024

// VersionInvalid marks an app or softdevice version entry as not installed.
const VersionInvalid = 0xFFFF

// Identity is the firmware identity triple carried by an FWID packet and
// compared to decide whether a peer offers something newer.
type Identity struct {
	CompanyID         uint32
	AppID             uint16
	AppVersion        uint16
	BootloaderVersion uint16
	SoftdeviceVersion uint16
}

// AppIsNewer reports whether other's app identifies the same (company, app)
// pair as id and carries a strictly greater version.
func (id Identity) AppIsNewer(other Identity) bool {
	return id.CompanyID == other.CompanyID &&
		id.AppID == other.AppID &&
		other.AppVersion != VersionInvalid &&
		other.AppVersion > id.AppVersion
}

// BootloaderIsNewer reports whether other's bootloader version is strictly
// greater than id's.
func (id Identity) BootloaderIsNewer(other Identity) bool {
	return other.BootloaderVersion > id.BootloaderVersion
}

// Address is a flat byte offset into flash. The controller only ever adds,
// compares, and masks addresses; it never dereferences them.
type Address uint32

// Segment describes where in flash an image of a given DFU type may
// legally land. Start/length are trusted input from the info page; the
// controller validates transfer bounds against the segment but does not
// otherwise interpret it.
type Segment struct {
	Start  Address
	Length uint32
}

// Contains reports whether the half-open range [addr, addr+length) lies
// entirely inside the segment.
func (s Segment) Contains(addr Address, length uint32) bool {
	if length == 0 {
		return addr >= s.Start && addr <= s.Start+Address(s.Length)
	}
	end := uint64(addr) + uint64(length)
	return uint64(addr) >= uint64(s.Start) && end <= uint64(s.Start)+uint64(s.Length)
}

// alignDown rounds v down to the nearest multiple of align, align must be
// a power of two.
func alignDown(v, align uint32) uint32 {
	return v &^ (align - 1)
}

// alignUp rounds v up to the nearest multiple of align, align must be a
// power of two.
func alignUp(v, align uint32) uint32 {
	return alignDown(v+align-1, align)
}
