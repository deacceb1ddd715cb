package infopage

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// DeviceProfile is the YAML-serializable form of a dfu.InfoView. Fields
// mirror InfoViewParams exactly; PublicKeyPEM carries the optional
// provisioned key as a PEM-encoded SubjectPublicKeyInfo block since
// ecdsa.PublicKey does not marshal to YAML on its own.
type DeviceProfile struct {
	AppIntact bool `yaml:"app_intact"`
	SDIntact  bool `yaml:"sd_intact"`

	CompanyID         uint32 `yaml:"company_id"`
	AppID             uint16 `yaml:"app_id"`
	AppVersion        uint16 `yaml:"app_version"`
	BootloaderVersion uint16 `yaml:"bootloader_version"`
	SoftdeviceVersion uint16 `yaml:"softdevice_version"`

	SegmentApp profileSegment `yaml:"segment_app"`
	SegmentBL  profileSegment `yaml:"segment_bootloader"`
	SegmentSD  profileSegment `yaml:"segment_softdevice"`

	// PublicKeyPEM is the PEM-encoded ECDSA public key used to gate
	// transfer acceptance (§4.G), empty if none was provisioned.
	PublicKeyPEM string `yaml:"public_key_pem,omitempty"`

	// Journal is the placeholder buffer for the journal entry bootloader_init
	// creates on first boot (§4.A). Resuming interrupted writes from it is
	// explicitly out of scope (spec.md §1 non-goals); Load only detects its
	// absence, fills it with 0xFF, and persists it, mirroring the original's
	// "create journal" step.
	Journal []byte `yaml:"journal,omitempty"`
}

// journalLength is the size in bytes of the journal placeholder entry.
const journalLength = 64

// newJournalEntry returns a fresh 0xFF-filled journal placeholder, matching
// bootloader_init's memset(&journal_buffer, 0xFF, BL_INFO_LEN_JOURNAL).
func newJournalEntry() []byte {
	j := make([]byte, journalLength)
	for i := range j {
		j[i] = 0xFF
	}
	return j
}

type profileSegment struct {
	Start  uint32 `yaml:"start"`
	Length uint32 `yaml:"length"`
}

// BuildInfoView converts the profile into the immutable dfu.InfoView the
// coordinator consumes, decoding PublicKeyPEM if present.
func (p *DeviceProfile) BuildInfoView() (*dfu.InfoView, error) {
	pub, err := p.publicKey()
	if err != nil {
		return nil, err
	}

	flags := dfu.Flags{AppIntact: p.AppIntact, SDIntact: p.SDIntact}
	fwid := dfu.Identity{
		CompanyID:         p.CompanyID,
		AppID:             p.AppID,
		AppVersion:        p.AppVersion,
		BootloaderVersion: p.BootloaderVersion,
		SoftdeviceVersion: p.SoftdeviceVersion,
	}
	segApp := dfu.Segment{Start: dfu.Address(p.SegmentApp.Start), Length: p.SegmentApp.Length}
	segBL := dfu.Segment{Start: dfu.Address(p.SegmentBL.Start), Length: p.SegmentBL.Length}
	segSD := dfu.Segment{Start: dfu.Address(p.SegmentSD.Start), Length: p.SegmentSD.Length}

	return dfu.NewInfoView(dfu.InfoViewParams{
		Flags:      &flags,
		FWID:       &fwid,
		SegmentApp: &segApp,
		SegmentBL:  &segBL,
		SegmentSD:  &segSD,
		PublicKey:  pub,
	})
}

func (p *DeviceProfile) publicKey() (*ecdsa.PublicKey, error) {
	if p.PublicKeyPEM == "" {
		return nil, nil
	}
	block, _ := pem.Decode([]byte(p.PublicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("infopage: decode public key PEM: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("infopage: parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("infopage: public key is %T, want *ecdsa.PublicKey", key)
	}
	return pub, nil
}

// SetPublicKey encodes pub as PEM into the profile, or clears it when pub
// is nil.
func (p *DeviceProfile) SetPublicKey(pub *ecdsa.PublicKey) error {
	if pub == nil {
		p.PublicKeyPEM = ""
		return nil
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("infopage: marshal public key: %w", err)
	}
	p.PublicKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return nil
}
