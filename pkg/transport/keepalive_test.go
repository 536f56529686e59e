package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeepAlive(t *testing.T) {
	t.Run("PongResetsMissCounter", func(t *testing.T) {
		var mu sync.Mutex
		var sent []uint32
		var timedOut atomic.Bool

		ka := NewKeepAlive(
			KeepAliveConfig{
				PingInterval:   20 * time.Millisecond,
				PongTimeout:    10 * time.Millisecond,
				MaxMissedPongs: 3,
			},
			func(seq uint32) error {
				mu.Lock()
				sent = append(sent, seq)
				mu.Unlock()
				return nil
			},
			func() { timedOut.Store(true) },
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ka.Start(ctx)
		defer ka.Stop()

		// Answer every ping promptly for a while.
		deadline := time.Now().Add(150 * time.Millisecond)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(sent)
			var last uint32
			if n > 0 {
				last = sent[n-1]
			}
			mu.Unlock()
			if n > 0 {
				ka.PongReceived(last)
			}
			time.Sleep(5 * time.Millisecond)
		}

		if timedOut.Load() {
			t.Error("keep-alive timed out despite pongs")
		}
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n < 2 {
			t.Errorf("sent %d pings, want at least 2", n)
		}
	})

	t.Run("MissedPongsTriggerTimeout", func(t *testing.T) {
		timeoutCh := make(chan struct{})

		ka := NewKeepAlive(
			KeepAliveConfig{
				PingInterval:   10 * time.Millisecond,
				PongTimeout:    5 * time.Millisecond,
				MaxMissedPongs: 2,
			},
			func(uint32) error { return nil },
			func() { close(timeoutCh) },
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ka.Start(ctx)
		defer ka.Stop()

		select {
		case <-timeoutCh:
			// Connection declared dead, as expected.
		case <-time.After(500 * time.Millisecond):
			t.Fatal("timeout callback never fired")
		}
	})

	t.Run("StaleSequenceIgnored", func(t *testing.T) {
		var timedOut atomic.Bool

		ka := NewKeepAlive(
			KeepAliveConfig{
				PingInterval:   10 * time.Millisecond,
				PongTimeout:    5 * time.Millisecond,
				MaxMissedPongs: 2,
			},
			func(uint32) error { return nil },
			func() { timedOut.Store(true) },
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ka.Start(ctx)
		defer ka.Stop()

		// Echo a sequence number that was never sent.
		for i := 0; i < 20; i++ {
			ka.PongReceived(9999)
			time.Sleep(5 * time.Millisecond)
		}

		if !timedOut.Load() {
			t.Error("stale pongs kept the connection alive")
		}
	})
}
