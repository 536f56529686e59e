package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport scripts one provisioning attempt.
type fakeTransport struct {
	mu sync.Mutex

	devices     []Device
	scanErr     error
	connectErr  error
	connectFail int // fail this many connects before succeeding
	authErr     error
	writeErr    error
	joinIP      string
	joinErr     error
	joinHonors  bool // sleep for the passed timeout before joinErr
	wifiList    []string

	scans    int
	connects int
	auths    int
	writes   int
	closed   bool
}

func (f *fakeTransport) Scan(ctx context.Context, window time.Duration) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return f.devices, f.scanErr
}

func (f *fakeTransport) Connect(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectFail > 0 {
		f.connectFail--
		return errors.New("radio connect failed")
	}
	return f.connectErr
}

func (f *fakeTransport) Authenticate(ctx context.Context, blePassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths++
	return f.authErr
}

func (f *fakeTransport) WriteCredentials(ctx context.Context, ssid, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.writeErr
}

func (f *fakeTransport) AwaitJoinResult(ctx context.Context, timeout time.Duration) (string, error) {
	if f.joinHonors {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(timeout):
		}
	}
	return f.joinIP, f.joinErr
}

func (f *fakeTransport) WifiList(ctx context.Context) ([]string, error) {
	return f.wifiList, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func baseConfig() Config {
	return Config{
		SSID:        "homenet",
		Password:    "hunter2",
		BLEPassword: "DWARF12345678",
		ScanWindow:  time.Millisecond,
	}
}

func TestSessionRun(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var states []State
		fake := &fakeTransport{
			devices: []Device{{ID: "AA:BB:CC:DD:EE:FF", Name: "DWARF3-1234"}},
			joinIP:  "192.168.1.50",
		}
		config := baseConfig()
		config.OnStatus = func(st Status) { states = append(states, st.State) }

		result, err := NewSession(fake, config).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
		if result.StaIP != "192.168.1.50" {
			t.Errorf("sta ip = %q, want 192.168.1.50", result.StaIP)
		}
		if result.SSID != "homenet" {
			t.Errorf("ssid = %q, want homenet", result.SSID)
		}
		if !fake.closed {
			t.Error("transport not closed")
		}

		want := []State{
			StateDiscovering, StateConnecting, StateAuthenticating,
			StatePushingCredentials, StateAwaitingStaIP, StateSucceeded,
		}
		if len(states) != len(want) {
			t.Fatalf("states = %v, want %v", states, want)
		}
		for i := range want {
			if states[i] != want[i] {
				t.Errorf("state[%d] = %v, want %v", i, states[i], want[i])
			}
		}
	})

	t.Run("NoDeviceFound", func(t *testing.T) {
		fake := &fakeTransport{}
		_, err := NewSession(fake, baseConfig()).Run(context.Background())

		var failed *FailedError
		if !errors.As(err, &failed) {
			t.Fatalf("err = %v, want *FailedError", err)
		}
		if failed.Reason != ReasonNoDeviceFound {
			t.Errorf("reason = %v, want NO_DEVICE_FOUND", failed.Reason)
		}
	})

	t.Run("ExplicitDeviceMissing", func(t *testing.T) {
		fake := &fakeTransport{devices: []Device{{ID: "11:22:33:44:55:66"}}}
		config := baseConfig()
		config.DeviceID = "AA:BB:CC:DD:EE:FF"

		_, err := NewSession(fake, config).Run(context.Background())
		var failed *FailedError
		if !errors.As(err, &failed) || failed.Reason != ReasonNoDeviceFound {
			t.Errorf("err = %v, want NO_DEVICE_FOUND", err)
		}
	})

	t.Run("ConnectRetriesExhausted", func(t *testing.T) {
		fake := &fakeTransport{
			devices:     []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
			connectFail: 99,
		}
		config := baseConfig()
		config.ConnectRetries = 3

		_, err := NewSession(fake, config).Run(context.Background())
		var failed *FailedError
		if !errors.As(err, &failed) || failed.Reason != ReasonConnectFailed {
			t.Fatalf("err = %v, want CONNECT_FAILED", err)
		}
		if fake.connects != 3 {
			t.Errorf("connects = %d, want 3", fake.connects)
		}
		if fake.scans != 3 {
			t.Errorf("scans = %d, want 3 (rescan per attempt)", fake.scans)
		}
	})

	t.Run("ConnectRecoversAfterRetry", func(t *testing.T) {
		fake := &fakeTransport{
			devices:     []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
			connectFail: 2,
			joinIP:      "192.168.1.51",
		}
		result, err := NewSession(fake, baseConfig()).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
		if result.StaIP != "192.168.1.51" {
			t.Errorf("sta ip = %q", result.StaIP)
		}
		if fake.connects != 3 {
			t.Errorf("connects = %d, want 3", fake.connects)
		}
	})

	t.Run("AuthRejectedIsTerminal", func(t *testing.T) {
		fake := &fakeTransport{
			devices: []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
			authErr: ErrAuthRejected,
		}
		_, err := NewSession(fake, baseConfig()).Run(context.Background())

		var failed *FailedError
		if !errors.As(err, &failed) || failed.Reason != ReasonAuthRejected {
			t.Fatalf("err = %v, want AUTH_REJECTED", err)
		}
		if fake.auths != 1 {
			t.Errorf("auths = %d, want exactly 1 (no retry)", fake.auths)
		}
		if fake.writes != 0 {
			t.Errorf("writes = %d, want 0", fake.writes)
		}
	})

	t.Run("JoinTimeoutElapses", func(t *testing.T) {
		fake := &fakeTransport{
			devices:    []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
			joinErr:    ErrJoinTimeout,
			joinHonors: true,
		}
		config := baseConfig()
		config.JoinTimeout = time.Second

		start := time.Now()
		_, err := NewSession(fake, config).Run(context.Background())
		elapsed := time.Since(start)

		var failed *FailedError
		if !errors.As(err, &failed) || failed.Reason != ReasonJoinTimeout {
			t.Fatalf("err = %v, want JOIN_TIMEOUT", err)
		}
		if elapsed < 500*time.Millisecond {
			t.Errorf("failed after %v, want ~1s (not immediately)", elapsed)
		}
		if elapsed > 3*time.Second {
			t.Errorf("failed after %v, want ~1s (not indefinitely)", elapsed)
		}
	})

	t.Run("EmptyStaIP", func(t *testing.T) {
		fake := &fakeTransport{
			devices: []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
			joinIP:  "",
		}
		_, err := NewSession(fake, baseConfig()).Run(context.Background())

		var failed *FailedError
		if !errors.As(err, &failed) || failed.Reason != ReasonJoinTimeout {
			t.Errorf("err = %v, want JOIN_TIMEOUT", err)
		}
	})
}

func TestWifiList(t *testing.T) {
	fake := &fakeTransport{
		devices:  []Device{{ID: "AA:BB:CC:DD:EE:FF"}},
		wifiList: []string{"homenet", "neighbornet"},
	}

	ssids, err := WifiList(context.Background(), fake, baseConfig())
	if err != nil {
		t.Fatalf("WifiList() = %v", err)
	}
	if len(ssids) != 2 || ssids[0] != "homenet" {
		t.Errorf("ssids = %v", ssids)
	}
	if fake.auths != 1 {
		t.Errorf("auths = %d, want 1", fake.auths)
	}
	if !fake.closed {
		t.Error("transport not closed")
	}
}
