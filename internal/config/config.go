// Package config manages the meshdfu daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete meshdfu daemon configuration.
type Config struct {
	Device    DeviceConfig    `koanf:"device"`
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	AdminAPI  AdminAPIConfig  `koanf:"admin_api"`
	Log       LogConfig       `koanf:"log"`
	RTC       RTCConfig       `koanf:"rtc"`
}

// DeviceConfig locates the persisted info page this device boots from.
type DeviceConfig struct {
	// ProfilePath is the path to the YAML device profile (§4.K).
	ProfilePath string `koanf:"profile_path"`
	// Provision, when true, writes a fresh default profile on first boot
	// instead of failing when ProfilePath is missing.
	Provision bool `koanf:"provision"`
	// FlashImagePath is the backing file flashsim.FileWriter commits
	// segments into, standing in for the bootloader's flash bank.
	FlashImagePath string `koanf:"flash_image_path"`
}

// TransportConfig holds the UDP broadcast transport bind configuration.
type TransportConfig struct {
	// BindAddr is the local address the broadcast socket binds (e.g.,
	// "0.0.0.0").
	BindAddr string `koanf:"bind_addr"`
	// Port is the UDP port used for mesh broadcast traffic.
	Port uint16 `koanf:"port"`
	// BroadcastAddr is the destination broadcast address (e.g.,
	// "255.255.255.255").
	BroadcastAddr string `koanf:"broadcast_addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminAPIConfig holds the JSON/HTTP admin API listen configuration (§4.N).
type AdminAPIConfig struct {
	// Addr is the listen address for the admin API (e.g., ":8090").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RTCConfig holds the simulated real-time clock setting. The original
// hardware's RTC comparator fires on a 32.768 kHz tick; the coordinator's
// TimeoutSource (§4.H) uses a time.Timer instead.
type RTCConfig struct {
	// Tick is loaded and validated (it must be positive), but nothing
	// else reads it: the coordinator's deadlines are not rounded to it.
	Tick time.Duration `koanf:"tick"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ProfilePath:    "/etc/meshdfu/profile.yaml",
			FlashImagePath: "/var/lib/meshdfu/flash.img",
		},
		Transport: TransportConfig{
			BindAddr:      "0.0.0.0",
			Port:          47100,
			BroadcastAddr: "255.255.255.255",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		AdminAPI: AdminAPIConfig{
			Addr: ":8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RTC: RTCConfig{
			Tick: time.Millisecond,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshdfu configuration.
// Variables are named MESHDFU_<section>_<key>, e.g., MESHDFU_TRANSPORT_PORT.
const envPrefix = "MESHDFU_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MESHDFU_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	MESHDFU_DEVICE_PROFILE_PATH -> device.profile_path
//	MESHDFU_TRANSPORT_PORT      -> transport.port
//	MESHDFU_LOG_LEVEL           -> log.level
//	MESHDFU_LOG_FORMAT          -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MESHDFU_TRANSPORT_PORT -> transport.port and
// MESHDFU_DEVICE_PROFILE_PATH -> device.profile_path: strips the MESHDFU_
// prefix, lowercases, and replaces the _ that ends the section name with ".".
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"admin_api", "device", "transport", "metrics", "log", "rtc"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"device.profile_path":      defaults.Device.ProfilePath,
		"device.provision":         defaults.Device.Provision,
		"device.flash_image_path":  defaults.Device.FlashImagePath,
		"transport.bind_addr":      defaults.Transport.BindAddr,
		"transport.port":           defaults.Transport.Port,
		"transport.broadcast_addr": defaults.Transport.BroadcastAddr,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"admin_api.addr":           defaults.AdminAPI.Addr,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"rtc.tick":                 defaults.RTC.Tick.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyProfilePath indicates device.profile_path is empty.
	ErrEmptyProfilePath = errors.New("device.profile_path must not be empty")

	// ErrInvalidPort indicates transport.port is zero.
	ErrInvalidPort = errors.New("transport.port must be nonzero")

	// ErrEmptyBroadcastAddr indicates transport.broadcast_addr is empty.
	ErrEmptyBroadcastAddr = errors.New("transport.broadcast_addr must not be empty")

	// ErrInvalidRTCTick indicates rtc.tick is not a positive duration.
	ErrInvalidRTCTick = errors.New("rtc.tick must be > 0")

	// ErrEmptyFlashImagePath indicates device.flash_image_path is empty.
	ErrEmptyFlashImagePath = errors.New("device.flash_image_path must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Device.ProfilePath == "" {
		return ErrEmptyProfilePath
	}
	if cfg.Device.FlashImagePath == "" {
		return ErrEmptyFlashImagePath
	}
	if cfg.Transport.Port == 0 {
		return ErrInvalidPort
	}
	if cfg.Transport.BroadcastAddr == "" {
		return ErrEmptyBroadcastAddr
	}
	if cfg.RTC.Tick <= 0 {
		return ErrInvalidRTCTick
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
