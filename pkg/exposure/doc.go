// Package exposure maps requested exposure durations and gains onto the
// discrete option indices the firmware supports.
//
// The firmware reports its supported values in the parameter
// configuration payload served by the HTTP API. ParseTable extracts the
// tele camera's exposure and gain options from that payload; Resolve
// picks the closest supported index for a request. Resolution is a pure
// function of the table snapshot.
package exposure
