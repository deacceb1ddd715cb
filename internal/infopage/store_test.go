package infopage

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"path/filepath"
	"testing"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

func validProfile() *DeviceProfile {
	return &DeviceProfile{
		AppIntact:         true,
		SDIntact:          true,
		CompanyID:         1,
		AppID:             2,
		AppVersion:        10,
		BootloaderVersion: 1,
		SoftdeviceVersion: 5,
		SegmentApp:        profileSegment{Start: 0x1000, Length: 0x1000},
		SegmentBL:         profileSegment{Start: 0x0, Length: 0x1000},
		SegmentSD:         profileSegment{Start: 0x2000, Length: 0x1000},
	}
}

func TestLoadMissingFileReturnsErrInvalidPersistentStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := Load(path, LoadOptions{})
	if !errors.Is(err, dfu.ErrInvalidPersistentStorage) {
		t.Fatalf("err = %v, want ErrInvalidPersistentStorage", err)
	}
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := validProfile()
	if err := Store(path, profile); err != nil {
		t.Fatalf("Store: %v", err)
	}

	view, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if view.FWID().AppVersion != 10 {
		t.Fatalf("AppVersion = %d, want 10", view.FWID().AppVersion)
	}
	if view.Segment(dfu.TypeApp).Start != 0x1000 {
		t.Fatalf("segment app start = %#x, want 0x1000", view.Segment(dfu.TypeApp).Start)
	}
}

func TestLoadProvisionsDefaultsOnFirstBoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	view, err := Load(path, LoadOptions{Provision: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if view.Flags().AppIntact || view.Flags().SDIntact {
		t.Fatal("expected default profile to report nothing intact")
	}
	if view.FWID().AppVersion != dfu.VersionInvalid {
		t.Fatalf("AppVersion = %d, want VersionInvalid", view.FWID().AppVersion)
	}

	if _, err := readProfile(path); err != nil {
		t.Fatalf("expected profile to have been written to disk: %v", err)
	}
}

func TestLoadCreatesAndPersistsMissingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := validProfile()
	if err := Store(path, profile); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := Load(path, LoadOptions{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	reread, err := readProfile(path)
	if err != nil {
		t.Fatalf("readProfile: %v", err)
	}
	if len(reread.Journal) != journalLength {
		t.Fatalf("Journal length = %d, want %d", len(reread.Journal), journalLength)
	}
	for i, b := range reread.Journal {
		if b != 0xFF {
			t.Fatalf("Journal[%d] = %#x, want 0xFF", i, b)
		}
	}
}

func TestLoadLeavesExistingJournalUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := validProfile()
	profile.Journal = []byte{0x01, 0x02, 0x03}
	if err := Store(path, profile); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := Load(path, LoadOptions{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	reread, err := readProfile(path)
	if err != nil {
		t.Fatalf("readProfile: %v", err)
	}
	if len(reread.Journal) != 3 || reread.Journal[0] != 0x01 {
		t.Fatalf("Journal = %v, want untouched [1 2 3]", reread.Journal)
	}
}

func TestPublicKeyRoundTripsThroughPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	profile := validProfile()
	if err := profile.SetPublicKey(&key.PublicKey); err != nil {
		t.Fatalf("SetPublicKey: %v", err)
	}
	if profile.PublicKeyPEM == "" {
		t.Fatal("expected PublicKeyPEM to be populated")
	}

	view, err := profile.BuildInfoView()
	if err != nil {
		t.Fatalf("BuildInfoView: %v", err)
	}
	pub := view.PublicKey()
	if pub == nil || !pub.Equal(&key.PublicKey) {
		t.Fatal("recovered public key does not match original")
	}
}

func TestBuildInfoViewMissingMandatoryFieldStillConstructsZeroSegments(t *testing.T) {
	profile := &DeviceProfile{}
	view, err := profile.BuildInfoView()
	if err != nil {
		t.Fatalf("BuildInfoView: %v", err)
	}
	if view.Flags().AppIntact {
		t.Fatal("zero-value profile should report AppIntact=false")
	}
}
