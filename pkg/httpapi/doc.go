// Package httpapi talks to the DWARF's JSON control service.
//
// The firmware serves configuration JSON on port 8082 and JPEG assets
// on port 8092. The bridge uses it for the parameter table (exposure
// and gain options) and for album listings; everything that moves the
// hardware goes over the command channel instead.
package httpapi
