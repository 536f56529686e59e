package session

import "time"

// TelescopeState is the cached mount state. Updated by notification
// handlers and confirmed commands only; readers get a copy.
type TelescopeState struct {
	// RA is the last commanded right ascension in hours.
	RA float64

	// Dec is the last commanded declination in degrees.
	Dec float64

	// Slewing reports whether a GOTO is in progress.
	Slewing bool

	// Tracking reports whether sidereal tracking is enabled.
	Tracking bool

	// GotoTarget is the name reported by the last GOTO notification.
	GotoTarget string
}

// CameraState is the cached imaging state.
type CameraState struct {
	// Exposing reports whether a capture sequence is in flight.
	Exposing bool

	// ImageReady reports whether the last capture has been retrieved.
	ImageReady bool

	// LastImagePath is the album path of the last retrieved capture.
	LastImagePath string

	// ExposureSeconds is the requested duration of the last exposure.
	ExposureSeconds float64

	// ExposureIndex and GainIndex are the resolved table indexes applied
	// for the last exposure. GainIndex is -1 when the firmware reports
	// no gain options.
	ExposureIndex int
	GainIndex     int

	// Temperature is the last reported sensor temperature in Celsius,
	// with the time it was observed.
	Temperature   float64
	TemperatureAt time.Time
}

// FocuserState is the cached focuser state.
type FocuserState struct {
	// Position is the last known focuser position in steps.
	Position int

	// Target is the destination of an in-flight continuous move.
	Target int

	// Moving reports whether a continuous move is being supervised.
	Moving bool
}

// FilterState is the cached filter wheel state.
type FilterState struct {
	// Position is the active filter slot.
	Position int

	// Names lists the available filter slots in order.
	Names []string
}

// MasterLockState reports the exclusive-control negotiation outcome.
type MasterLockState struct {
	// Held reports whether this session holds the master lock.
	Held bool

	// HolderID is this session's client identifier when the lock is held.
	HolderID string

	// LastAttempt is when the lock was last requested.
	LastAttempt time.Time

	// LastError is the most recent negotiation failure, empty on success.
	LastError string
}
