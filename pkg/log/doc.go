// Package log defines the protocol event logging interface.
//
// Components emit structured Events (frames, decoded packets, state
// changes, errors) to a Logger the application supplies. Applications
// that only want console output use NewSlogAdapter; pass NoopLogger (or
// nil where accepted) to disable protocol logging entirely.
package log
