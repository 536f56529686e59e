// Package transport provides the duplex command channel to the device.
//
// The DWARF control plane is a websocket endpoint carrying one CBOR packet
// per binary frame. The transport layer handles:
//   - Connection establishment and teardown
//   - Frame send/receive with no interpretation of contents
//   - Keep-alive ping/pong for connection liveness
//
// Closing a channel unblocks any outstanding Receive call; a channel is
// single-use and is not restartable after Close.
package transport
