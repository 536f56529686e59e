package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/retry"
	"github.com/dwarf-protocol/dwarf-go/pkg/transport"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// fakeChannel is an in-memory Channel for driving the client in tests.
type fakeChannel struct {
	sentCh    chan []byte
	recvCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		sentCh: make(chan []byte, 16),
		recvCh: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Open(ctx context.Context) error { return nil }

func (f *fakeChannel) Send(data []byte) error {
	select {
	case <-f.closed:
		return transport.ErrChannelClosed
	default:
	}
	f.sentCh <- data
	return nil
}

func (f *fakeChannel) Receive() ([]byte, error) {
	select {
	case data := <-f.recvCh:
		return data, nil
	case <-f.closed:
		return nil, transport.ErrChannelClosed
	}
}

func (f *fakeChannel) SendPing(seq uint32) error { return nil }

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// deliverResponse pushes a response packet for (module, cmd) with the
// given body onto the fake's inbound queue.
func (f *fakeChannel) deliverResponse(t *testing.T, module wire.ModuleID, cmd wire.CommandID, body any) {
	t.Helper()
	payload, err := wire.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	data, err := wire.EncodePacket(&wire.Packet{
		MajorVersion: wire.MajorVersion,
		MinorVersion: wire.MinorVersion,
		DeviceID:     1,
		ModuleID:     module,
		Cmd:          cmd,
		Type:         wire.TypeResponse,
		Payload:      payload,
	})
	if err != nil {
		t.Fatalf("encode packet: %v", err)
	}
	f.recvCh <- data
}

func (f *fakeChannel) deliverNotification(t *testing.T, module wire.ModuleID, cmd wire.CommandID, body any) {
	t.Helper()
	payload, err := wire.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	data, err := wire.EncodePacket(&wire.Packet{
		MajorVersion: wire.MajorVersion,
		MinorVersion: wire.MinorVersion,
		DeviceID:     1,
		ModuleID:     module,
		Cmd:          cmd,
		Type:         wire.TypeNotification,
		Payload:      payload,
	})
	if err != nil {
		t.Fatalf("encode packet: %v", err)
	}
	f.recvCh <- data
}

// awaitFrame waits for the next frame sent by the client.
func (f *fakeChannel) awaitFrame(t *testing.T) *wire.Packet {
	t.Helper()
	select {
	case data := <-f.sentCh:
		pkt, err := wire.DecodePacket(data)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sent frame")
		return nil
	}
}

func singleChannelClient(t *testing.T, config Config) (*Client, *fakeChannel) {
	t.Helper()
	fake := newFakeChannel()
	config.Dial = func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
		return fake, nil
	}
	c := NewClient(config)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, fake
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func TestClientRequest(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})

		done := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), wire.ModuleAstro, wire.CmdAstroStartTracking, nil)
			done <- err
		}()

		pkt := fake.awaitFrame(t)
		if pkt.ModuleID != wire.ModuleAstro || pkt.Cmd != wire.CmdAstroStartTracking {
			t.Errorf("sent %d:%d, want %d:%d", pkt.ModuleID, pkt.Cmd, wire.ModuleAstro, wire.CmdAstroStartTracking)
		}
		if pkt.Type != wire.TypeRequest {
			t.Errorf("packet type = %v, want REQUEST", pkt.Type)
		}
		if pkt.ClientID == "" {
			t.Error("client id missing from request")
		}

		fake.deliverResponse(t, wire.ModuleAstro, wire.CmdAstroStartTracking, wire.Response{Code: wire.CodeOK})
		if err := <-done; err != nil {
			t.Errorf("Request() = %v, want nil", err)
		}
	})

	t.Run("CommandError", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})

		done := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), wire.ModuleAstro, wire.CmdAstroStartGotoDSO, nil)
			done <- err
		}()

		fake.awaitFrame(t)
		fake.deliverResponse(t, wire.ModuleAstro, wire.CmdAstroStartGotoDSO, wire.Response{Code: wire.CodeAstroFunctionBusy})

		err := <-done
		var cmdErr *wire.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("err = %v, want *wire.CommandError", err)
		}
		if cmdErr.Code != wire.CodeAstroFunctionBusy {
			t.Errorf("code = %d, want %d", cmdErr.Code, wire.CodeAstroFunctionBusy)
		}
		if !cmdErr.IsBusy() {
			t.Error("IsBusy() = false, want true")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{RequestTimeout: 50 * time.Millisecond})

		done := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), wire.ModuleSystem, wire.CmdSystemSetTime, nil)
			done <- err
		}()

		fake.awaitFrame(t)
		if err := <-done; !errors.Is(err, ErrRequestTimeout) {
			t.Errorf("err = %v, want ErrRequestTimeout", err)
		}
	})

	t.Run("NotReadyBeforeConnect", func(t *testing.T) {
		c := NewClient(Config{
			Dial: func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
				return newFakeChannel(), nil
			},
		})
		defer c.Close()

		_, err := c.Request(context.Background(), wire.ModuleSystem, wire.CmdSystemSetTime, nil)
		if !errors.Is(err, ErrNotReady) {
			t.Errorf("err = %v, want ErrNotReady", err)
		}
	})

	t.Run("ClosedClient", func(t *testing.T) {
		c, _ := singleChannelClient(t, Config{})
		c.Close()

		_, err := c.Request(context.Background(), wire.ModuleSystem, wire.CmdSystemSetTime, nil)
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("err = %v, want ErrClientClosed", err)
		}
	})
}

// taggedResponse lets tests distinguish which response resolved which
// request: the decoder ignores the extra field.
type taggedResponse struct {
	Code int32 `cbor:"1,keyasint"`
	Tag  int32 `cbor:"20,keyasint"`
}

func TestClientCorrelation(t *testing.T) {
	t.Run("SameKeyResolvedInOrder", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})

		const n = 3
		results := make([]chan []byte, n)

		// Start requests one at a time so their wire order is known.
		for i := 0; i < n; i++ {
			results[i] = make(chan []byte, 1)
			ch := results[i]
			go func() {
				payload, err := c.Request(context.Background(), wire.ModuleFocus, wire.CmdFocusSingleStep, nil)
				if err != nil {
					payload = nil
				}
				ch <- payload
			}()
			fake.awaitFrame(t)
		}

		for i := 0; i < n; i++ {
			fake.deliverResponse(t, wire.ModuleFocus, wire.CmdFocusSingleStep, taggedResponse{Code: wire.CodeOK, Tag: int32(i + 1)})
		}

		for i := 0; i < n; i++ {
			payload := <-results[i]
			var tr taggedResponse
			if err := wire.Unmarshal(payload, &tr); err != nil {
				t.Fatalf("request %d: decode payload: %v", i, err)
			}
			if tr.Tag != int32(i+1) {
				t.Errorf("request %d resolved with tag %d, want %d", i, tr.Tag, i+1)
			}
		}
	})

	t.Run("AbandonedSlotSkipped", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{RequestTimeout: 20 * time.Millisecond})

		// First request times out and removes itself from the queue.
		_, err := c.Request(context.Background(), wire.ModuleMotor, wire.CmdMotorRunTo, nil)
		if !errors.Is(err, ErrRequestTimeout) {
			t.Fatalf("err = %v, want ErrRequestTimeout", err)
		}
		fake.awaitFrame(t)

		// The next request must not be resolved by a slot the first
		// one abandoned.
		done := make(chan error, 1)
		go func() {
			_, err := c.Request(context.Background(), wire.ModuleMotor, wire.CmdMotorRunTo, nil)
			done <- err
		}()
		fake.awaitFrame(t)
		fake.deliverResponse(t, wire.ModuleMotor, wire.CmdMotorRunTo, wire.Response{Code: wire.CodeOK})

		if err := <-done; err != nil {
			t.Errorf("Request() = %v, want nil", err)
		}
	})

	t.Run("StaleEpochEntryFailed", func(t *testing.T) {
		table := newPendingTable()
		k := wire.CommandKey{Module: wire.ModuleMotor, Cmd: wire.CmdMotorRunTo}

		// Queued against connection 1, which died before its response
		// arrived; connection 2 then answers a fresh same-key request.
		stale := table.add(k, 1)
		fresh := table.add(k, 2)

		if got := table.pop(k, 2); got != fresh {
			t.Fatal("response resolved the stale entry instead of the fresh one")
		}

		select {
		case res := <-stale.ch:
			if !errors.Is(res.err, ErrConnectionLost) {
				t.Errorf("stale entry failed with %v, want ErrConnectionLost", res.err)
			}
		default:
			t.Error("stale entry left outstanding")
		}

		if n := table.count(); n != 0 {
			t.Errorf("outstanding entries = %d, want 0", n)
		}
	})
}

func TestClientConnectionLost(t *testing.T) {
	t.Run("FailsAllPending", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})
		c.SetAutoReconnect(false)

		const n = 3
		done := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				_, err := c.Request(context.Background(), wire.ModuleAstro, wire.CmdAstroStartCaptureRaw, nil)
				done <- err
			}()
			fake.awaitFrame(t)
		}

		fake.Close()

		for i := 0; i < n; i++ {
			select {
			case err := <-done:
				if !errors.Is(err, ErrConnectionLost) {
					t.Errorf("err = %v, want ErrConnectionLost", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("pending request did not fail after disconnect")
			}
		}

		waitForState(t, c, StateDisconnected)
	})

	t.Run("HeartbeatTimeoutTearsDown", func(t *testing.T) {
		var mu sync.Mutex
		var transitions []State

		fake := newFakeChannel()
		c := NewClient(Config{
			Dial: func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
				return fake, nil
			},
			KeepAlive: transport.KeepAliveConfig{
				PingInterval:   10 * time.Millisecond,
				PongTimeout:    5 * time.Millisecond,
				MaxMissedPongs: 1,
			},
		})
		defer c.Close()
		c.SetAutoReconnect(false)
		c.OnStateChange(func(oldState, newState State) {
			mu.Lock()
			transitions = append(transitions, newState)
			mu.Unlock()
		})

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() = %v", err)
		}

		// No pongs ever arrive, so the miss budget drains.
		waitForState(t, c, StateDisconnected)

		mu.Lock()
		defer mu.Unlock()
		sawDegraded := false
		for _, s := range transitions {
			if s == StateDegraded {
				sawDegraded = true
			}
		}
		if !sawDegraded {
			t.Errorf("transitions %v missing DEGRADED", transitions)
		}
	})
}

func TestClientSubscriptions(t *testing.T) {
	t.Run("Dispatch", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})

		got := make(chan []byte, 1)
		c.Subscribe(wire.ModuleNotify, wire.CmdNotifyFocus, func(payload []byte) {
			got <- payload
		})

		fake.deliverNotification(t, wire.ModuleNotify, wire.CmdNotifyFocus, wire.NotifyFocus{Focus: 1200})

		select {
		case payload := <-got:
			var nf wire.NotifyFocus
			if err := wire.Unmarshal(payload, &nf); err != nil {
				t.Fatalf("decode notification: %v", err)
			}
			if nf.Focus != 1200 {
				t.Errorf("focus = %d, want 1200", nf.Focus)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("notification not dispatched")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		c, fake := singleChannelClient(t, Config{})

		got := make(chan []byte, 1)
		id := c.Subscribe(wire.ModuleNotify, wire.CmdNotifyTemperature, func(payload []byte) {
			got <- payload
		})
		c.Unsubscribe(id)

		fake.deliverNotification(t, wire.ModuleNotify, wire.CmdNotifyTemperature, wire.NotifyTemperature{Temperature: 21})

		select {
		case <-got:
			t.Fatal("handler fired after Unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("SurviveReconnect", func(t *testing.T) {
		var dials atomic.Int32
		fakes := [2]*fakeChannel{newFakeChannel(), newFakeChannel()}

		c := NewClient(Config{
			Dial: func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
				n := dials.Add(1)
				if int(n) > len(fakes) {
					return nil, errors.New("no more channels")
				}
				return fakes[n-1], nil
			},
			Backoff: retry.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
		})
		defer c.Close()

		got := make(chan []byte, 1)
		c.Subscribe(wire.ModuleNotify, wire.CmdNotifyGotoState, func(payload []byte) {
			got <- payload
		})

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() = %v", err)
		}

		// Drop the first connection and wait for the replacement.
		fakes[0].Close()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if dials.Load() == 2 && c.State() == StateReady {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if dials.Load() != 2 || c.State() != StateReady {
			t.Fatalf("dials = %d state = %v, want 2 READY", dials.Load(), c.State())
		}

		// The handler fires on the new connection without re-registration.
		fakes[1].deliverNotification(t, wire.ModuleNotify, wire.CmdNotifyGotoState, wire.NotifyGotoState{State: 2})

		select {
		case payload := <-got:
			var ns wire.NotifyGotoState
			if err := wire.Unmarshal(payload, &ns); err != nil {
				t.Fatalf("decode notification: %v", err)
			}
			if ns.State != 2 {
				t.Errorf("state = %d, want 2", ns.State)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("notification not dispatched after reconnect")
		}
	})
}

func TestClientDisconnect(t *testing.T) {
	t.Run("ReturnsToDisconnected", func(t *testing.T) {
		c, _ := singleChannelClient(t, Config{})

		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect() = %v", err)
		}
		waitForState(t, c, StateDisconnected)

		if _, err := c.Request(context.Background(), wire.ModuleSystem, wire.CmdSystemSetMasterLock, nil); !errors.Is(err, ErrNotReady) {
			t.Errorf("Request() = %v, want ErrNotReady", err)
		}
	})

	t.Run("ReconnectableAfterDisconnect", func(t *testing.T) {
		var dials atomic.Int32
		config := Config{
			Dial: func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
				dials.Add(1)
				return newFakeChannel(), nil
			},
		}
		c := NewClient(config)
		t.Cleanup(func() { c.Close() })

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() = %v", err)
		}
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect() = %v", err)
		}
		waitForState(t, c, StateDisconnected)

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("second Connect() = %v", err)
		}
		waitForState(t, c, StateReady)
		if dials.Load() != 2 {
			t.Errorf("dials = %d, want 2", dials.Load())
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		c, _ := singleChannelClient(t, Config{})
		if err := c.Disconnect(); err != nil {
			t.Fatal(err)
		}
		if err := c.Disconnect(); err != nil {
			t.Errorf("second Disconnect() = %v, want nil", err)
		}
	})
}
