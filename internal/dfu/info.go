package dfu

import "crypto/ecdsa"

// Flags records persisted device health bits consulted at startup to
// decide whether the installed app and softdevice are usable as-is.
type Flags struct {
	AppIntact bool
	SDIntact  bool
}

// InfoView is the immutable, read-only projection of persistent device
// identity built once at startup (§3, §4.A). It never changes after
// construction; the caches and transaction record are the only mutable
// state the coordinator touches.
type InfoView struct {
	flags      Flags
	fwid       Identity
	segmentApp Segment
	segmentBL  Segment
	segmentSD  Segment
	publicKey  *ecdsa.PublicKey // nil means "accept any signature"
}

// InfoViewParams is the set of mandatory and optional entries read from
// the persistent info page. Per §4.A, Flags/FWID/the three segments are
// mandatory; PublicKey is optional.
type InfoViewParams struct {
	Flags      *Flags
	FWID       *Identity
	SegmentApp *Segment
	SegmentBL  *Segment
	SegmentSD  *Segment
	PublicKey  *ecdsa.PublicKey
}

// NewInfoView validates that every mandatory entry is present and builds
// the immutable view. It returns ErrInvalidPersistentStorage, matching
// §4.A and the original bootloader_init's mandatory-entry check, if any
// of {flags, fwid, segment_app, segment_bl, segment_sd} is absent.
func NewInfoView(p InfoViewParams) (*InfoView, error) {
	if p.Flags == nil || p.FWID == nil || p.SegmentApp == nil || p.SegmentBL == nil || p.SegmentSD == nil {
		return nil, ErrInvalidPersistentStorage
	}
	return &InfoView{
		flags:      *p.Flags,
		fwid:       *p.FWID,
		segmentApp: *p.SegmentApp,
		segmentBL:  *p.SegmentBL,
		segmentSD:  *p.SegmentSD,
		publicKey:  p.PublicKey,
	}, nil
}

// Flags returns the persisted device health flags.
func (v *InfoView) Flags() Flags { return v.flags }

// FWID returns the installed firmware identity triple.
func (v *InfoView) FWID() Identity { return v.fwid }

// Segment returns the memory segment declared for the given DFU type.
func (v *InfoView) Segment(t DFUType) Segment {
	switch t {
	case TypeApp:
		return v.segmentApp
	case TypeSoftdevice:
		return v.segmentSD
	case TypeBootloader:
		return v.segmentBL
	default:
		return Segment{}
	}
}

// PublicKey returns the provisioned ECDSA public key, or nil if none was
// provisioned, in which case the verifier accepts every image (§4.A, §4.G).
func (v *InfoView) PublicKey() *ecdsa.PublicKey { return v.publicKey }

// InitialState implements the bootloader_init selection rule from §4.F:
// repair a broken install before listening for newer ones.
func (v *InfoView) InitialState() (DFUType, State) {
	if !v.flags.SDIntact || v.fwid.SoftdeviceVersion == VersionInvalid {
		return TypeSoftdevice, StateDFUReq
	}
	if !v.flags.AppIntact || v.fwid.AppVersion == VersionInvalid {
		return TypeApp, StateDFUReq
	}
	return TypeUnknown, StateFindFWID
}
