package infopage

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// LoadOptions controls how Load behaves when path does not exist.
type LoadOptions struct {
	// Provision, if true, treats a missing file as first-boot: defaults
	// is written to path and then re-read, rather than failing.
	Provision bool

	// Defaults supplies the profile to write when Provision is true and
	// path is missing. A nil Defaults falls back to DefaultProfile().
	Defaults *DeviceProfile
}

// Load reads the device profile at path and builds the dfu.InfoView the
// coordinator requires. A missing file returns
// dfu.ErrInvalidPersistentStorage (§4.A), unless opts.Provision requests
// first-boot provisioning, in which case opts.Defaults (or
// DefaultProfile()) is written to path and then read back.
func Load(path string, opts LoadOptions) (*dfu.InfoView, error) {
	profile, err := readProfile(path)
	if errors.Is(err, os.ErrNotExist) {
		if !opts.Provision {
			return nil, dfu.ErrInvalidPersistentStorage
		}
		defaults := opts.Defaults
		if defaults == nil {
			defaults = DefaultProfile()
		}
		if err := Store(path, defaults); err != nil {
			return nil, fmt.Errorf("infopage: provision %s: %w", path, err)
		}
		profile, err = readProfile(path)
		if err != nil {
			return nil, fmt.Errorf("infopage: re-read provisioned %s: %w", path, err)
		}
	} else if err != nil {
		return nil, err
	}

	if len(profile.Journal) == 0 {
		profile.Journal = newJournalEntry()
		if err := Store(path, profile); err != nil {
			return nil, fmt.Errorf("infopage: persist journal entry: %w", err)
		}
	}

	return profile.BuildInfoView()
}

func readProfile(path string) (*DeviceProfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var profile DeviceProfile
	if err := yaml.Unmarshal(b, &profile); err != nil {
		return nil, fmt.Errorf("infopage: parse %s: %w", path, err)
	}
	return &profile, nil
}

// Store writes profile to path as YAML, creating or truncating it.
func Store(path string, profile *DeviceProfile) error {
	b, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("infopage: marshal profile: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("infopage: write %s: %w", path, err)
	}
	return nil
}

// DefaultProfile returns a profile describing a device with nothing
// installed: both flags false, app and softdevice versions VersionInvalid,
// bootloader version 0, zero-length segments, no public key. Used for first-boot provisioning.
func DefaultProfile() *DeviceProfile {
	return &DeviceProfile{
		AppIntact:         false,
		SDIntact:          false,
		AppVersion:        dfu.VersionInvalid,
		BootloaderVersion: 0,
		SoftdeviceVersion: dfu.VersionInvalid,
	}
}
