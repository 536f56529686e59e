// Package discovery locates a DWARF unit on the local network.
//
// After provisioning, the firmware joins the LAN in station mode and
// announces itself over mDNS. Browse streams announcements as they
// arrive; FindFirst is the common one-shot lookup used at startup when
// no persisted station IP is available (or the persisted one went
// stale).
package discovery
