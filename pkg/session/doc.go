// Package session multiplexes one physical DWARF connection across the
// four logical Alpaca devices.
//
// A Session owns a protocol client plus handles to the HTTP parameter
// API, the FTP album and the live view collaborators. Devices acquire
// and release leases; the first lease opens the connection, runs the
// bootstrap sequence and negotiates the master lock, and the last
// release tears everything down. Domain operations (slew, exposure,
// focus, filter select) translate to vendor command sequences and
// return as soon as the firmware accepts them; completion is observed
// through notifications that update the cached per-device state.
package session
