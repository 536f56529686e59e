package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dwarf-protocol/dwarf-go/pkg/log"
	"github.com/dwarf-protocol/dwarf-go/pkg/retry"
	"github.com/dwarf-protocol/dwarf-go/pkg/transport"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrConnectionLost   = errors.New("connection lost")
	ErrClientClosed     = errors.New("client is closed")
	ErrNotReady         = errors.New("client is not ready")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultRequestTimeout bounds each request unless overridden.
const DefaultRequestTimeout = 10 * time.Second

// State represents the client connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateReady indicates an active, healthy connection.
	StateReady

	// StateDegraded indicates the connection missed its heartbeat budget
	// and is about to be torn down.
	StateDegraded

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the client has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc creates a fresh channel for each connection attempt. onPong
// must be wired to the channel's pong callback so liveness monitoring
// works.
type DialFunc func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error)

// NotificationHandler receives the raw payload of a firmware notification.
type NotificationHandler func(payload []byte)

// Config configures a Client.
type Config struct {
	// Dial creates the underlying channel. Required.
	Dial DialFunc

	// ClientID identifies this client on the wire. Defaults to a
	// generated UUID.
	ClientID string

	// DeviceID is the envelope device slot (default 1).
	DeviceID uint8

	// RequestTimeout bounds each request (default 10s).
	RequestTimeout time.Duration

	// KeepAlive configures liveness monitoring.
	KeepAlive transport.KeepAliveConfig

	// Backoff configures reconnection delays.
	Backoff retry.BackoffConfig

	// Logger receives protocol events. Defaults to NoopLogger.
	Logger log.Logger
}

// Client is a command channel client with request correlation,
// notification dispatch, heartbeating and automatic reconnection.
type Client struct {
	config Config
	connID string

	mu      sync.RWMutex
	state   State
	channel transport.Channel
	keep    *transport.KeepAlive

	// epoch counts established connections. Pending entries are tagged
	// with it so a response on a new connection can never resolve a
	// request queued against a dead one.
	epoch uint64

	pending *pendingTable

	subsMu   sync.RWMutex
	handlers map[wire.CommandKey]map[uint64]NotificationHandler
	subKeys  map[uint64]wire.CommandKey
	subSeq   atomic.Uint64

	autoReconnect bool
	backoff       *retry.Backoff
	reconnectCh   chan struct{}
	reconnectOnce sync.Once

	onStateChange func(oldState, newState State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client. The client does not connect until
// Connect is called.
func NewClient(config Config) *Client {
	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if config.DeviceID == 0 {
		config.DeviceID = 1
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:        config,
		connID:        uuid.NewString(),
		state:         StateDisconnected,
		pending:       newPendingTable(),
		handlers:      make(map[wire.CommandKey]map[uint64]NotificationHandler),
		subKeys:       make(map[uint64]wire.CommandKey),
		autoReconnect: true,
		backoff:       newBackoff(config.Backoff),
		reconnectCh:   make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ClientID returns the wire identity of this client.
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// SetAutoReconnect enables or disables automatic reconnection.
func (c *Client) SetAutoReconnect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = enabled
}

// OnStateChange sets a callback for state transitions. The callback
// runs on the client's internal goroutines and must not block.
func (c *Client) OnStateChange(fn func(oldState, newState State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// Connect establishes the connection and starts the background loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateReady, StateDegraded:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	old := c.state
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyStateChange(old, StateConnecting)

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}

	c.mu.Lock()
	old = c.state
	if c.channel != nil {
		// The connection can die during setup; the read loop has then
		// already moved the state on.
		c.state = StateReady
		c.backoff.Reset()
	}
	newState := c.state
	c.mu.Unlock()
	c.notifyStateChange(old, newState)

	c.reconnectOnce.Do(func() {
		c.wg.Add(1)
		go c.reconnectLoop()
	})

	return nil
}

// connect dials a fresh channel and starts its read loop and keep-alive.
func (c *Client) connect(ctx context.Context) error {
	ch, err := c.config.Dial(ctx, c.handlePong)
	if err != nil {
		return err
	}
	if err := ch.Open(ctx); err != nil {
		return err
	}

	keep := transport.NewKeepAlive(c.config.KeepAlive, ch.SendPing, c.heartbeatTimeout)

	c.mu.Lock()
	c.channel = ch
	c.keep = keep
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	keep.Start(c.ctx)

	c.wg.Add(1)
	go c.readLoop(ch, epoch)

	return nil
}

// Close shuts the client down. Outstanding requests fail with
// ErrClientClosed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	old := c.state
	c.state = StateClosed
	ch := c.channel
	keep := c.keep
	c.channel = nil
	c.keep = nil
	c.mu.Unlock()

	c.notifyStateChange(old, StateClosed)

	c.cancel()
	if keep != nil {
		keep.Stop()
	}
	if ch != nil {
		ch.Close()
	}
	c.pending.failAll(ErrClientClosed)
	c.wg.Wait()

	return nil
}

// Disconnect drops the current connection and returns to Disconnected
// without terminating the client. Outstanding requests fail with
// ErrConnectionLost; no automatic reconnect is scheduled. Connect may
// be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	old := c.state
	c.state = StateDisconnected
	ch := c.channel
	keep := c.keep
	c.channel = nil
	c.keep = nil
	c.mu.Unlock()

	if keep != nil {
		keep.Stop()
	}
	if ch != nil {
		ch.Close()
	}
	c.pending.failAll(ErrConnectionLost)
	c.notifyStateChange(old, StateDisconnected)

	return nil
}

// Request sends a command and waits for the firmware's response. body
// is CBOR-encoded as the packet payload; nil means an empty payload.
// It returns the raw response payload on success. A non-zero firmware
// result code is returned as *wire.CommandError.
func (c *Client) Request(ctx context.Context, module wire.ModuleID, cmd wire.CommandID, body any) ([]byte, error) {
	c.mu.RLock()
	state := c.state
	ch := c.channel
	epoch := c.epoch
	c.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil, ErrClientClosed
	case StateReady, StateDegraded:
		// Degraded connections may still carry traffic until torn down.
	default:
		return nil, ErrNotReady
	}
	if ch == nil {
		return nil, ErrNotReady
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = wire.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	pkt := &wire.Packet{
		MajorVersion: wire.MajorVersion,
		MinorVersion: wire.MinorVersion,
		DeviceID:     c.config.DeviceID,
		ModuleID:     module,
		Cmd:          cmd,
		Type:         wire.TypeRequest,
		Payload:      payload,
		ClientID:     c.config.ClientID,
	}
	data, err := wire.EncodePacket(pkt)
	if err != nil {
		return nil, err
	}

	key := pkt.Key()
	p := c.pending.add(key, epoch)
	defer c.pending.remove(key, p.seq)

	if err := ch.Send(data); err != nil {
		return nil, err
	}
	c.logPacket(log.DirectionOut, pkt, nil)

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	case res := <-p.ch:
		if res.err != nil {
			return nil, res.err
		}
		resp, err := wire.DecodeResponse(res.payload)
		if err != nil {
			return nil, err
		}
		if !resp.IsOK() {
			return nil, &wire.CommandError{Module: module, Cmd: cmd, Code: resp.Code}
		}
		return res.payload, nil
	}
}

// Subscribe registers a handler for notifications matching (module, cmd).
// Subscriptions are local and survive reconnects. Returns a subscription
// ID for Unsubscribe.
func (c *Client) Subscribe(module wire.ModuleID, cmd wire.CommandID, handler NotificationHandler) uint64 {
	id := c.subSeq.Add(1)
	key := wire.CommandKey{Module: module, Cmd: cmd}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.handlers[key] == nil {
		c.handlers[key] = make(map[uint64]NotificationHandler)
	}
	c.handlers[key][id] = handler
	c.subKeys[id] = key

	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (c *Client) Unsubscribe(id uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	key, ok := c.subKeys[id]
	if !ok {
		return
	}
	delete(c.subKeys, id)
	delete(c.handlers[key], id)
	if len(c.handlers[key]) == 0 {
		delete(c.handlers, key)
	}
}

func (c *Client) readLoop(ch transport.Channel, epoch uint64) {
	defer c.wg.Done()

	for {
		data, err := ch.Receive()
		if err != nil {
			c.handleConnectionLost(ch)
			return
		}

		pkt, err := wire.DecodePacket(data)
		if err != nil {
			c.logError(err)
			continue
		}

		switch pkt.Type {
		case wire.TypeResponse:
			c.logPacket(log.DirectionIn, pkt, responseCode(pkt.Payload))
			if p := c.pending.pop(pkt.Key(), epoch); p != nil {
				p.ch <- result{payload: pkt.Payload}
			}
		case wire.TypeNotification:
			c.logPacket(log.DirectionIn, pkt, nil)
			c.dispatchNotification(pkt)
		default:
			// Requests and acks are never inbound on this channel.
		}
	}
}

func (c *Client) dispatchNotification(pkt *wire.Packet) {
	c.subsMu.RLock()
	entry := c.handlers[pkt.Key()]
	handlers := make([]NotificationHandler, 0, len(entry))
	for _, h := range entry {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(pkt.Payload)
	}
}

// handleConnectionLost runs when the read loop observes a dead channel.
// Every outstanding request fails with ErrConnectionLost; subscriptions
// are retained across the reconnect.
func (c *Client) handleConnectionLost(ch transport.Channel) {
	c.mu.Lock()
	if c.channel != ch || c.state == StateClosed {
		// A newer connection superseded this one, or Close ran first.
		c.mu.Unlock()
		return
	}

	keep := c.keep
	c.channel = nil
	c.keep = nil

	old := c.state
	reconnect := c.autoReconnect
	if reconnect {
		c.state = StateReconnecting
	} else {
		c.state = StateDisconnected
	}
	newState := c.state
	c.mu.Unlock()

	if keep != nil {
		keep.Stop()
	}
	ch.Close()
	c.pending.failAll(ErrConnectionLost)
	c.notifyStateChange(old, newState)

	if reconnect {
		c.triggerReconnect()
	}
}

// heartbeatTimeout fires when the pong miss budget is exhausted. The
// connection is marked degraded and torn down; the read loop then drives
// the reconnect.
func (c *Client) heartbeatTimeout() {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	ch := c.channel
	c.mu.Unlock()

	c.notifyStateChange(StateReady, StateDegraded)

	if ch != nil {
		ch.Close()
	}
}

func (c *Client) handlePong(seq uint32) {
	c.mu.RLock()
	keep := c.keep
	c.mu.RUnlock()
	if keep != nil {
		keep.PongReceived(seq)
	}
}

func (c *Client) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectCh:
			c.attemptReconnect()
		}
	}
}

func (c *Client) attemptReconnect() {
	for {
		c.mu.RLock()
		state := c.state
		c.mu.RUnlock()

		if state != StateReconnecting {
			return
		}

		delay := c.backoff.Next()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		err := c.connect(ctx)
		cancel()

		if err != nil {
			c.logError(err)
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			ch := c.channel
			c.channel = nil
			c.mu.Unlock()
			if ch != nil {
				ch.Close()
			}
			return
		}
		old := c.state
		c.state = StateReady
		c.backoff.Reset()
		c.mu.Unlock()

		c.notifyStateChange(old, StateReady)
		return
	}
}

func (c *Client) notifyStateChange(oldState, newState State) {
	if oldState == newState {
		return
	}

	c.mu.RLock()
	fn := c.onStateChange
	c.mu.RUnlock()

	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerWire,
		Category:     log.CategoryState,
		StateChange:  &log.StateChangeEvent{From: oldState.String(), To: newState.String()},
	})

	if fn != nil {
		fn(oldState, newState)
	}
}

func (c *Client) logPacket(dir log.Direction, pkt *wire.Packet, code *int32) {
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryPacket,
		Packet: &log.PacketEvent{
			ModuleID:   uint8(pkt.ModuleID),
			CommandID:  uint16(pkt.Cmd),
			PacketType: pkt.Type.String(),
			Seq:        0,
			Code:       code,
		},
	})
}

func (c *Client) logError(err error) {
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		Error:        &log.ErrorEventData{Message: err.Error()},
	})
}

func newBackoff(cfg retry.BackoffConfig) *retry.Backoff {
	if cfg == (retry.BackoffConfig{}) {
		return retry.NewBackoff()
	}
	return retry.NewBackoffWithConfig(cfg)
}

// responseCode extracts the result code for logging, nil if undecodable.
func responseCode(payload []byte) *int32 {
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return nil
	}
	return &resp.Code
}
