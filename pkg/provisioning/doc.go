// Package provisioning drives BLE-based Wi-Fi onboarding.
//
// The hardware ships in access-point mode; provisioning pushes station
// credentials over a BLE characteristic and waits for the firmware to
// report the IP address it obtained from the local network. Session
// walks the fixed state sequence (discover, connect, authenticate, push
// credentials, await join result) against an abstract Transport, so the
// radio stack stays out of the core logic and tests drive the machine
// with a fake.
package provisioning
