package provisioning

import "fmt"

// State of a provisioning session.
type State uint8

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateAuthenticating
	StatePushingCredentials
	StateAwaitingStaIP
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StatePushingCredentials:
		return "PUSHING_CREDENTIALS"
	case StateAwaitingStaIP:
		return "AWAITING_STA_IP"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Reason classifies a provisioning failure.
type Reason uint8

const (
	// ReasonNoDeviceFound means the scan window closed with no device.
	ReasonNoDeviceFound Reason = iota

	// ReasonConnectFailed means the radio link could not be established
	// within the retry budget.
	ReasonConnectFailed

	// ReasonAuthRejected means the BLE password was wrong. Never retried.
	ReasonAuthRejected

	// ReasonJoinTimeout means no join result arrived in time.
	ReasonJoinTimeout
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNoDeviceFound:
		return "NO_DEVICE_FOUND"
	case ReasonConnectFailed:
		return "CONNECT_FAILED"
	case ReasonAuthRejected:
		return "AUTH_REJECTED"
	case ReasonJoinTimeout:
		return "JOIN_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// FailedError is the terminal error of an unsuccessful session.
type FailedError struct {
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed (%s)", e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *FailedError) Unwrap() error {
	return e.Err
}

// Status is emitted on every state transition for progress display.
type Status struct {
	State   State
	Device  Device
	Message string
}
