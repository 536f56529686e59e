package transport

import (
	"context"
	"errors"
	"fmt"
)

// Channel errors.
var (
	ErrNotOpen       = errors.New("channel not open")
	ErrAlreadyOpen   = errors.New("channel already open")
	ErrChannelClosed = errors.New("channel closed")
)

// TransportError reports an I/O failure on the channel.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Channel is a persistent duplex connection carrying opaque frames.
// Implemented by WSChannel.
type Channel interface {
	// Open establishes the connection.
	Open(ctx context.Context) error

	// Send writes one frame. Fails with *TransportError on write failure.
	Send(data []byte) error

	// Receive blocks until the next inbound frame arrives. After Close,
	// or when the peer disconnects, it fails with ErrChannelClosed.
	// Receive is not restartable once it has returned ErrChannelClosed.
	Receive() ([]byte, error)

	// SendPing sends a liveness probe with the given sequence number.
	SendPing(seq uint32) error

	// Close tears the connection down and unblocks outstanding Receives.
	// Idempotent.
	Close() error
}

// Compile-time interface satisfaction check.
var _ Channel = (*WSChannel)(nil)
