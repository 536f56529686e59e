// Package persistence stores connectivity state across runs.
//
// A successful provisioning attempt records the station IP and Wi-Fi
// credentials so the next start can skip discovery; connection errors
// record a last-error string for diagnostics.
package persistence
