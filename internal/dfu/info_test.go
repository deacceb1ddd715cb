package dfu

import "testing"

func validInfoParams() InfoViewParams {
	flags := Flags{AppIntact: true, SDIntact: true}
	fwid := Identity{CompanyID: 1, AppID: 2, AppVersion: 3, SoftdeviceVersion: 4}
	app := Segment{Start: 0x1000, Length: 0x4000}
	bl := Segment{Start: 0x7000, Length: 0x1000}
	sd := Segment{Start: 0x0, Length: 0x1000}
	return InfoViewParams{Flags: &flags, FWID: &fwid, SegmentApp: &app, SegmentBL: &bl, SegmentSD: &sd}
}

func TestNewInfoViewRequiresAllMandatoryFields(t *testing.T) {
	base := validInfoParams()
	cases := []struct {
		name string
		fn   func(p *InfoViewParams)
	}{
		{"missing flags", func(p *InfoViewParams) { p.Flags = nil }},
		{"missing fwid", func(p *InfoViewParams) { p.FWID = nil }},
		{"missing app segment", func(p *InfoViewParams) { p.SegmentApp = nil }},
		{"missing bootloader segment", func(p *InfoViewParams) { p.SegmentBL = nil }},
		{"missing softdevice segment", func(p *InfoViewParams) { p.SegmentSD = nil }},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.fn(&p)
			if _, err := NewInfoView(p); err != ErrInvalidPersistentStorage {
				t.Fatalf("err = %v, want ErrInvalidPersistentStorage", err)
			}
		})
	}
}

func TestNewInfoViewAcceptsMissingPublicKey(t *testing.T) {
	v, err := NewInfoView(validInfoParams())
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}
	if v.PublicKey() != nil {
		t.Fatal("expected nil public key when none provisioned")
	}
}

func TestInitialStateCleanBootListensForNewer(t *testing.T) {
	v, err := NewInfoView(validInfoParams())
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}
	dfuType, state := v.InitialState()
	if state != StateFindFWID || dfuType != TypeUnknown {
		t.Fatalf("InitialState = (%v,%v), want (TypeUnknown, StateFindFWID)", dfuType, state)
	}
}

func TestInitialStateRepairsSoftdeviceFirst(t *testing.T) {
	p := validInfoParams()
	p.Flags.SDIntact = false
	p.Flags.AppIntact = false
	v, err := NewInfoView(p)
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}
	dfuType, state := v.InitialState()
	if state != StateDFUReq || dfuType != TypeSoftdevice {
		t.Fatalf("InitialState = (%v,%v), want (TypeSoftdevice, StateDFUReq)", dfuType, state)
	}
}

func TestInitialStateRepairsAppWhenOnlyAppBroken(t *testing.T) {
	p := validInfoParams()
	p.Flags.AppIntact = false
	v, err := NewInfoView(p)
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}
	dfuType, state := v.InitialState()
	if state != StateDFUReq || dfuType != TypeApp {
		t.Fatalf("InitialState = (%v,%v), want (TypeApp, StateDFUReq)", dfuType, state)
	}
}

func TestInitialStateUninstalledSoftdeviceTreatedAsBroken(t *testing.T) {
	p := validInfoParams()
	p.FWID.SoftdeviceVersion = VersionInvalid
	v, err := NewInfoView(p)
	if err != nil {
		t.Fatalf("NewInfoView: %v", err)
	}
	dfuType, state := v.InitialState()
	if state != StateDFUReq || dfuType != TypeSoftdevice {
		t.Fatalf("InitialState = (%v,%v), want (TypeSoftdevice, StateDFUReq)", dfuType, state)
	}
}
