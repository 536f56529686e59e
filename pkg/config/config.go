package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Slew command modes. The firmware accepts both a declarative GOTO and
// raw motor deltas for the same motion; the mode picks which one the
// bridge issues.
const (
	SlewModeGoto  = "goto"
	SlewModeMotor = "motor"
)

// Settings is the bridge's runtime configuration.
type Settings struct {
	// Host is the unit's address. Defaults to the AP-mode gateway; a
	// persisted station IP or discovery result overrides it at startup.
	Host string `yaml:"host"`

	// Service ports on the unit.
	WSPort   int `yaml:"ws_port"`
	HTTPPort int `yaml:"http_port"`
	JPEGPort int `yaml:"jpeg_port"`
	FTPPort  int `yaml:"ftp_port"`
	RTSPPort int `yaml:"rtsp_port"`

	// ClientID identifies this bridge on the command channel. Empty
	// means a generated UUID per run.
	ClientID string `yaml:"client_id"`

	// StateDirectory holds the connectivity state file.
	StateDirectory string `yaml:"state_directory"`

	// Command channel tuning.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`

	// Master lock negotiation.
	MasterLockAttempts int           `yaml:"master_lock_attempts"`
	MasterLockInterval time.Duration `yaml:"master_lock_interval"`

	// SlewCommandMode selects goto or raw motor slews.
	SlewCommandMode string `yaml:"slew_command_mode"`

	// Exposure workflow.
	GoLiveBeforeExposure bool          `yaml:"go_live_before_exposure"`
	AllowWithoutDarks    bool          `yaml:"allow_without_darks"`
	CaptureWaitTimeout   time.Duration `yaml:"capture_wait_timeout"`

	// Temperature polling.
	TemperatureInterval   time.Duration `yaml:"temperature_interval"`
	TemperatureStaleAfter time.Duration `yaml:"temperature_stale_after"`

	// Provisioning.
	BLEAdapter          string        `yaml:"ble_adapter"`
	BLEPassword         string        `yaml:"ble_password"`
	ProvisioningTimeout time.Duration `yaml:"provisioning_timeout"`

	// FTP album retrieval.
	FTPTimeout      time.Duration `yaml:"ftp_timeout"`
	FTPPollInterval time.Duration `yaml:"ftp_poll_interval"`
}

// Default returns the compiled-in defaults, matching a factory-fresh
// unit in AP mode.
func Default() Settings {
	return Settings{
		Host:                  "192.168.88.1",
		WSPort:                9900,
		HTTPPort:              8082,
		JPEGPort:              8092,
		FTPPort:               21,
		RTSPPort:              554,
		StateDirectory:        "var",
		RequestTimeout:        10 * time.Second,
		PingInterval:          5 * time.Second,
		MasterLockAttempts:    3,
		MasterLockInterval:    time.Second,
		SlewCommandMode:       SlewModeGoto,
		GoLiveBeforeExposure:  true,
		AllowWithoutDarks:     true,
		CaptureWaitTimeout:    30 * time.Second,
		TemperatureInterval:   5 * time.Second,
		TemperatureStaleAfter: 20 * time.Second,
		ProvisioningTimeout:   120 * time.Second,
		FTPTimeout:            10 * time.Second,
		FTPPollInterval:       time.Second,
	}
}

// Load builds settings from defaults, an optional YAML profile, and
// environment overrides.
func Load(path string) (Settings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return settings, fmt.Errorf("failed to read profile %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return settings, fmt.Errorf("failed to parse profile %s: %w", path, err)
		}
	}

	settings.applyEnv()

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks settings invariants.
func (s *Settings) Validate() error {
	if s.SlewCommandMode != SlewModeGoto && s.SlewCommandMode != SlewModeMotor {
		return fmt.Errorf("slew_command_mode must be %q or %q, got %q", SlewModeGoto, SlewModeMotor, s.SlewCommandMode)
	}
	if s.MasterLockAttempts < 1 {
		return fmt.Errorf("master_lock_attempts must be at least 1")
	}
	return nil
}

// WSURL returns the command channel endpoint.
func (s *Settings) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/", s.Host, s.WSPort)
}

// RTSPURL returns the live view endpoint.
func (s *Settings) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%d/live", s.Host, s.RTSPPort)
}

func (s *Settings) applyEnv() {
	envString("DWARF_HOST", &s.Host)
	envString("DWARF_CLIENT_ID", &s.ClientID)
	envString("DWARF_STATE_DIRECTORY", &s.StateDirectory)
	envString("DWARF_SLEW_COMMAND_MODE", &s.SlewCommandMode)
	envString("DWARF_BLE_ADAPTER", &s.BLEAdapter)
	envString("DWARF_BLE_PASSWORD", &s.BLEPassword)

	envInt("DWARF_WS_PORT", &s.WSPort)
	envInt("DWARF_HTTP_PORT", &s.HTTPPort)
	envInt("DWARF_JPEG_PORT", &s.JPEGPort)
	envInt("DWARF_FTP_PORT", &s.FTPPort)
	envInt("DWARF_RTSP_PORT", &s.RTSPPort)
	envInt("DWARF_MASTER_LOCK_ATTEMPTS", &s.MasterLockAttempts)

	envDuration("DWARF_REQUEST_TIMEOUT", &s.RequestTimeout)
	envDuration("DWARF_MASTER_LOCK_INTERVAL", &s.MasterLockInterval)
	envDuration("DWARF_PROVISIONING_TIMEOUT", &s.ProvisioningTimeout)

	envBool("DWARF_GO_LIVE_BEFORE_EXPOSURE", &s.GoLiveBeforeExposure)
	envBool("DWARF_ALLOW_WITHOUT_DARKS", &s.AllowWithoutDarks)
}

func envString(key string, dst *string) {
	if value, ok := os.LookupEnv(key); ok {
		*dst = value
	}
}

func envInt(key string, dst *int) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*dst = parsed
		}
	}
}

func envBool(key string, dst *bool) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*dst = parsed
		}
	}
}
