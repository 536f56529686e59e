package provisioning

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors transports report for outcomes the state machine
// treats specially.
var (
	// ErrAuthRejected means the firmware rejected the BLE password.
	// Terminal; a wrong password will not become right on retry.
	ErrAuthRejected = errors.New("ble password rejected")

	// ErrJoinTimeout means no join result arrived within the wait.
	ErrJoinTimeout = errors.New("no join result before timeout")
)

// Device is one discovered BLE peripheral.
type Device struct {
	// ID is the radio address used to connect.
	ID string

	// Name is the advertised device name.
	Name string
}

// Transport is the BLE radio surface the state machine drives. One
// Transport instance serves one provisioning attempt.
type Transport interface {
	// Scan discovers nearby devices within the window.
	Scan(ctx context.Context, window time.Duration) ([]Device, error)

	// Connect establishes the radio link to a discovered device.
	Connect(ctx context.Context, id string) error

	// Authenticate presents the BLE password. A wrong password fails
	// with ErrAuthRejected.
	Authenticate(ctx context.Context, blePassword string) error

	// WriteCredentials pushes the station SSID and password.
	WriteCredentials(ctx context.Context, ssid, password string) error

	// AwaitJoinResult waits for the firmware's join notification and
	// returns the station IP. Fails with ErrJoinTimeout when no
	// notification arrives within the timeout.
	AwaitJoinResult(ctx context.Context, timeout time.Duration) (string, error)

	// WifiList asks the firmware for the SSIDs it can see. Requires a
	// connected, authenticated link.
	WifiList(ctx context.Context) ([]string, error)

	// Close releases the radio link. Idempotent.
	Close() error
}
