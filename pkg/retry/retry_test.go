package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		// Expected base sequence: 1s, 2s, 4s, 8s, 16s, 30s, 30s...
		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 4; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("backoff should have increased")
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Jitter: 0.25})
		d := b.Next()
		if d < time.Second || d > 1250*time.Millisecond+time.Millisecond {
			t.Errorf("jittered delay %v out of range [1s, 1.25s]", d)
		}
	})
}

func TestPolicy(t *testing.T) {
	t.Run("ExhaustsAttempts", func(t *testing.T) {
		denied := errors.New("denied")
		calls := 0

		p := Policy{MaxAttempts: 3, Interval: time.Millisecond}
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return denied
		})

		if !errors.Is(err, denied) {
			t.Errorf("err = %v, want denied", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want exactly 3", calls)
		}
	})

	t.Run("StopsOnSuccess", func(t *testing.T) {
		calls := 0
		p := Policy{MaxAttempts: 5, Interval: time.Millisecond}
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 2 {
				return nil
			}
			return errors.New("again")
		})

		if err != nil {
			t.Errorf("err = %v, want nil", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("AbortStopsEarly", func(t *testing.T) {
		fatal := errors.New("fatal")
		calls := 0

		p := Policy{MaxAttempts: 5, Interval: time.Millisecond}
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return Abort(fatal)
		})

		if !errors.Is(err, fatal) {
			t.Errorf("err = %v, want fatal", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := Policy{MaxAttempts: 3, Interval: time.Hour}
		err := p.Do(ctx, func(context.Context) error { return errors.New("nope") })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
