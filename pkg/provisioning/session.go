package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session defaults.
const (
	DefaultScanWindow     = 10 * time.Second
	DefaultConnectRetries = 3
	DefaultJoinTimeout    = 60 * time.Second
)

// Config configures one provisioning attempt.
type Config struct {
	// SSID and Password are the station credentials to push.
	SSID     string
	Password string

	// BLEPassword authenticates the BLE link.
	BLEPassword string

	// DeviceID selects a specific device by radio address. Empty means
	// the first discovered device.
	DeviceID string

	// ScanWindow bounds discovery (default 10s).
	ScanWindow time.Duration

	// ConnectRetries bounds radio connect attempts (default 3). Each
	// failed attempt rescans before trying again.
	ConnectRetries int

	// JoinTimeout bounds the wait for the join result (default 60s).
	JoinTimeout time.Duration

	// OnStatus receives a status message on every state transition.
	OnStatus func(Status)
}

// Result is the outcome of a successful session, handed to the caller
// for persistence.
type Result struct {
	SSID   string
	StaIP  string
	Device Device
}

// Session drives one provisioning attempt over a Transport.
type Session struct {
	transport Transport
	config    Config

	state  State
	device Device
}

// NewSession creates a session in the Idle state.
func NewSession(transport Transport, config Config) *Session {
	if config.ScanWindow == 0 {
		config.ScanWindow = DefaultScanWindow
	}
	if config.ConnectRetries == 0 {
		config.ConnectRetries = DefaultConnectRetries
	}
	if config.JoinTimeout == 0 {
		config.JoinTimeout = DefaultJoinTimeout
	}
	return &Session{transport: transport, config: config, state: StateIdle}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Run executes the state sequence to completion. On success the result
// carries the station IP; any failure is a *FailedError. The transport
// is closed before Run returns.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	defer s.transport.Close()

	if s.config.SSID == "" {
		return nil, s.fail(ReasonConnectFailed, errors.New("wifi ssid is required"))
	}
	if s.config.Password == "" {
		return nil, s.fail(ReasonConnectFailed, errors.New("wifi password is required"))
	}

	if err := s.connectWithRetry(ctx); err != nil {
		return nil, err
	}

	s.setState(StateAuthenticating, "presenting BLE password")
	if err := s.transport.Authenticate(ctx, s.config.BLEPassword); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			return nil, s.fail(ReasonAuthRejected, err)
		}
		return nil, s.fail(ReasonConnectFailed, err)
	}

	s.setState(StatePushingCredentials, fmt.Sprintf("pushing credentials for %q", s.config.SSID))
	if err := s.transport.WriteCredentials(ctx, s.config.SSID, s.config.Password); err != nil {
		return nil, s.fail(ReasonConnectFailed, err)
	}

	s.setState(StateAwaitingStaIP, "waiting for join result")
	ip, err := s.transport.AwaitJoinResult(ctx, s.config.JoinTimeout)
	if err != nil {
		if errors.Is(err, ErrJoinTimeout) {
			return nil, s.fail(ReasonJoinTimeout, err)
		}
		return nil, s.fail(ReasonConnectFailed, err)
	}
	if ip == "" {
		return nil, s.fail(ReasonJoinTimeout, errors.New("empty station ip reported"))
	}

	s.setState(StateSucceeded, fmt.Sprintf("station ip %s", ip))
	return &Result{SSID: s.config.SSID, StaIP: ip, Device: s.device}, nil
}

// connectWithRetry discovers and connects, rescanning after each failed
// connect, bounded by ConnectRetries.
func (s *Session) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.config.ConnectRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.fail(ReasonConnectFailed, err)
		}

		s.setState(StateDiscovering, fmt.Sprintf("scanning (attempt %d/%d)", attempt, s.config.ConnectRetries))
		devices, err := s.transport.Scan(ctx, s.config.ScanWindow)
		if err != nil {
			lastErr = err
			continue
		}

		device, ok := s.selectDevice(devices)
		if !ok {
			// A vanished device will not reappear inside one attempt
			// loop's remaining retries any more reliably than now.
			return s.fail(ReasonNoDeviceFound, nil)
		}
		s.device = device

		s.setState(StateConnecting, fmt.Sprintf("connecting to %s", device.ID))
		if err := s.transport.Connect(ctx, device.ID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return s.fail(ReasonConnectFailed, lastErr)
}

func (s *Session) selectDevice(devices []Device) (Device, bool) {
	if s.config.DeviceID == "" {
		if len(devices) == 0 {
			return Device{}, false
		}
		return devices[0], true
	}
	for _, d := range devices {
		if strings.EqualFold(d.ID, s.config.DeviceID) {
			return d, true
		}
	}
	return Device{}, false
}

func (s *Session) setState(state State, message string) {
	s.state = state
	if s.config.OnStatus != nil {
		s.config.OnStatus(Status{State: state, Device: s.device, Message: message})
	}
}

func (s *Session) fail(reason Reason, err error) error {
	failed := &FailedError{Reason: reason, Err: err}
	s.setState(StateFailed, failed.Error())
	return failed
}

// WifiList connects and authenticates, then asks the firmware which
// SSIDs it can see. Used by the interactive onboarding flow to offer a
// network picker.
func WifiList(ctx context.Context, transport Transport, config Config) ([]string, error) {
	session := NewSession(transport, config)
	defer transport.Close()

	if err := session.connectWithRetry(ctx); err != nil {
		return nil, err
	}

	session.setState(StateAuthenticating, "presenting BLE password")
	if err := transport.Authenticate(ctx, config.BLEPassword); err != nil {
		if errors.Is(err, ErrAuthRejected) {
			return nil, session.fail(ReasonAuthRejected, err)
		}
		return nil, session.fail(ReasonConnectFailed, err)
	}

	return transport.WifiList(ctx)
}
