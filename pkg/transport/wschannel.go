package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default I/O limits for the websocket channel.
const (
	DefaultMaxFrameSize  = 1 << 20 // firmware image metadata can be large
	DefaultWriteTimeout  = 10 * time.Second
	defaultControlWindow = 5 * time.Second
)

// WSChannelConfig configures a websocket channel.
type WSChannelConfig struct {
	// URL is the websocket endpoint, e.g. "ws://192.168.88.1:9900/".
	URL string

	// MaxFrameSize bounds inbound frames (default: 1MB).
	MaxFrameSize int64

	// WriteTimeout bounds each frame write (default: 10s).
	WriteTimeout time.Duration

	// OnPong is invoked with the echoed sequence number for each pong.
	OnPong func(seq uint32)
}

// WSChannel is a Channel over a single websocket connection.
type WSChannel struct {
	config WSChannelConfig

	mu      sync.RWMutex
	conn    *websocket.Conn
	opened  atomic.Bool
	closed  atomic.Bool
	closeMu sync.Once

	// Serializes writes; gorilla permits one concurrent writer only.
	writeMu sync.Mutex
}

// NewWSChannel creates a websocket channel (not yet open).
func NewWSChannel(config WSChannelConfig) *WSChannel {
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	return &WSChannel{config: config}
}

// Open dials the endpoint. A channel opens at most once.
func (c *WSChannel) Open(ctx context.Context) error {
	if !c.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		c.closed.Store(true)
		return &TransportError{Op: "dial", Err: err}
	}

	conn.SetReadLimit(c.config.MaxFrameSize)
	conn.SetPongHandler(func(appData string) error {
		if c.config.OnPong != nil && len(appData) >= 4 {
			c.config.OnPong(binary.BigEndian.Uint32([]byte(appData)))
		}
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Send writes one binary frame.
func (c *WSChannel) Send(data []byte) error {
	conn := c.current()
	if conn == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Receive blocks until the next binary frame. Text frames are passed
// through as bytes; control frames are handled internally by gorilla.
func (c *WSChannel) Receive() ([]byte, error) {
	conn := c.current()
	if conn == nil {
		if c.closed.Load() {
			return nil, ErrChannelClosed
		}
		return nil, ErrNotOpen
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		// Reads fail permanently once the connection drops or Close runs.
		c.markClosed()
		return nil, ErrChannelClosed
	}
	return data, nil
}

// SendPing sends a websocket ping control frame carrying seq.
func (c *WSChannel) SendPing(seq uint32) error {
	conn := c.current()
	if conn == nil {
		return ErrNotOpen
	}

	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], seq)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteControl(websocket.PingMessage, payload[:], time.Now().Add(defaultControlWindow)); err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	return nil
}

// Close tears the connection down. Idempotent; unblocks Receive.
func (c *WSChannel) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.markClosed()

		conn := c.current()
		if conn == nil {
			return
		}

		// Best-effort close handshake before dropping the socket.
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(defaultControlWindow),
		)
		c.writeMu.Unlock()

		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("close websocket: %w", cerr)
		}

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	})
	return err
}

func (c *WSChannel) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *WSChannel) markClosed() {
	c.closed.Store(true)
}
