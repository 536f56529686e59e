// Package retry provides the shared retry and backoff policies.
//
// Two shapes cover every call site in the bridge:
//
//   - Backoff: exponential delay with jitter, for open-ended reconnection.
//   - Policy: bounded attempts at a fixed interval, for negotiations that
//     must surface failure (master lock, BLE connect).
package retry
