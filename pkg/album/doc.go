// Package album retrieves captured images from the DWARF's anonymous
// FTP service.
//
// The firmware writes normal photos under /Normal_Photos and
// astrophotography stacks under /Astronomy (older units nest both under
// /DWARF_II). The client lists those trees, picks the newest capture,
// and downloads it. WaitForNew polls until a capture newer than a
// baseline snapshot appears, which is how an exposure is matched to the
// file it produced.
package album
