// Package protocol implements the DWARF command channel client.
//
// Client maintains a single websocket connection to the firmware,
// correlates responses to outstanding requests by (module, command)
// arrival order, dispatches notifications to subscribers, and monitors
// liveness with sequenced pings. When the connection drops, outstanding
// requests fail with ErrConnectionLost and the client reconnects with
// exponential backoff; subscriptions survive reconnects without
// re-registration.
package protocol
