package wire

// Command bodies. Each is the CBOR payload of a request or notification
// packet; integer keys follow the vendor field numbering.

// SetMasterLock requests or releases exclusive control of the hardware.
type SetMasterLock struct {
	Lock bool `cbor:"1,keyasint"`
}

// SetTime pushes the host clock to the device.
type SetTime struct {
	Timestamp      int64   `cbor:"1,keyasint"`
	TimezoneOffset float64 `cbor:"2,keyasint"`
}

// OpenCamera powers a camera module up.
type OpenCamera struct {
	Binning        bool  `cbor:"1,keyasint"`
	RtspEncodeType uint8 `cbor:"2,keyasint"`
}

// CloseCamera powers a camera module down.
type CloseCamera struct{}

// GetWorkingState queries the system working state; the firmware answers
// with a host/slave mode notification-style response.
type GetWorkingState struct{}

// GotoDSO starts an astro GOTO to equatorial coordinates.
// RA is in degrees (hours * 15), Dec in degrees.
type GotoDSO struct {
	RA         float64 `cbor:"1,keyasint"`
	Dec        float64 `cbor:"2,keyasint"`
	TargetName string  `cbor:"3,keyasint,omitempty"`
}

// StopGoto aborts an in-progress GOTO.
type StopGoto struct{}

// StartTracking enables sidereal tracking.
type StartTracking struct{}

// StopTracking disables sidereal tracking.
type StopTracking struct{}

// MotorJoystick drives both axes as a polar vector.
type MotorJoystick struct {
	VectorAngle  float64 `cbor:"1,keyasint"`
	VectorLength float64 `cbor:"2,keyasint"`
	Speed        float64 `cbor:"3,keyasint"`
}

// MotorJoystickStop halts manual vector motion.
type MotorJoystickStop struct{}

// MotorRunTo drives a single axis to an absolute position.
type MotorRunTo struct {
	Axis     uint8   `cbor:"1,keyasint"`
	Position float64 `cbor:"2,keyasint"`
	Speed    float64 `cbor:"3,keyasint"`
}

// SetExpMode selects auto or manual exposure control.
type SetExpMode struct {
	Mode uint8 `cbor:"1,keyasint"` // 0 = auto, 1 = manual
}

// SetExp applies an exposure table index.
type SetExp struct {
	Index int `cbor:"1,keyasint"`
}

// SetGainMode selects auto or manual gain control.
type SetGainMode struct {
	Mode uint8 `cbor:"1,keyasint"`
}

// SetGain applies a gain table index.
type SetGain struct {
	Index int `cbor:"1,keyasint"`
}

// SetIRCut positions the IR-cut filter element.
type SetIRCut struct {
	Value int `cbor:"1,keyasint"`
}

// SetFeatureParam applies a firmware feature parameter by mode and index.
type SetFeatureParam struct {
	ID            int     `cbor:"1,keyasint"`
	ModeIndex     int     `cbor:"2,keyasint"`
	Index         int     `cbor:"3,keyasint"`
	ContinueValue float64 `cbor:"4,keyasint,omitempty"`
}

// StartCaptureRaw begins a raw live-stacking capture sequence.
type StartCaptureRaw struct{}

// StopCaptureRaw ends a raw live-stacking capture sequence.
type StopCaptureRaw struct{}

// CheckDarkLibrary queries whether calibrated darks exist for the
// current exposure configuration.
type CheckDarkLibrary struct{}

// GoLive switches the astro module to live view output.
type GoLive struct{}

// SingleStepFocus nudges the focuser one step.
type SingleStepFocus struct {
	Direction uint8 `cbor:"1,keyasint"` // 0 = inward, 1 = outward
}

// StartContinuFocus begins continuous focuser motion.
type StartContinuFocus struct {
	Direction uint8 `cbor:"1,keyasint"`
}

// StopContinuFocus halts continuous focuser motion.
type StopContinuFocus struct{}

// Notification bodies.

// NotifyFocus reports the current focuser position.
type NotifyFocus struct {
	Focus int `cbor:"1,keyasint"`
}

// NotifyTemperature reports the sensor temperature in Celsius.
type NotifyTemperature struct {
	Temperature float64 `cbor:"1,keyasint"`
	Code        int32   `cbor:"2,keyasint"`
}

// NotifyHostSlaveMode reports who holds exclusive control.
// Mode 0 with Lock true means this client is the host.
type NotifyHostSlaveMode struct {
	Mode uint8 `cbor:"1,keyasint"`
	Lock bool  `cbor:"2,keyasint"`
}

// NotifyGotoState reports GOTO progress; State 0 means complete.
type NotifyGotoState struct {
	State      int32  `cbor:"1,keyasint"`
	TargetName string `cbor:"2,keyasint,omitempty"`
}

// NotifyCaptureEnd reports that a capture sequence finished.
type NotifyCaptureEnd struct {
	Frames int `cbor:"1,keyasint"`
}
