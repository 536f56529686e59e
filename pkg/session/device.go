package session

// DeviceKind identifies one of the four logical Alpaca devices sharing
// the physical connection.
type DeviceKind uint8

const (
	DeviceTelescope DeviceKind = iota
	DeviceCamera
	DeviceFocuser
	DeviceFilterWheel

	deviceKindCount
)

// String returns a human-readable device name.
func (k DeviceKind) String() string {
	switch k {
	case DeviceTelescope:
		return "telescope"
	case DeviceCamera:
		return "camera"
	case DeviceFocuser:
		return "focuser"
	case DeviceFilterWheel:
		return "filterwheel"
	default:
		return "unknown"
	}
}
