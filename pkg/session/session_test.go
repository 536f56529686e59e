package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/exposure"
	"github.com/dwarf-protocol/dwarf-go/pkg/protocol"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// fakeCommander is a scripted command channel. Responses are errors
// queued per command key; an empty queue means success.
type fakeCommander struct {
	mu          sync.Mutex
	state       protocol.State
	onState     func(oldState, newState protocol.State)
	requests    map[wire.CommandKey]int
	bodies      map[wire.CommandKey][]any
	scripts     map[wire.CommandKey][]error
	handlers    map[wire.CommandKey]map[uint64]protocol.NotificationHandler
	subSeq      uint64
	subKeys     map[uint64]wire.CommandKey
	connects    int
	disconnects int
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		state:    protocol.StateDisconnected,
		requests: make(map[wire.CommandKey]int),
		bodies:   make(map[wire.CommandKey][]any),
		scripts:  make(map[wire.CommandKey][]error),
		handlers: make(map[wire.CommandKey]map[uint64]protocol.NotificationHandler),
		subKeys:  make(map[uint64]wire.CommandKey),
	}
}

func key(module wire.ModuleID, cmd wire.CommandID) wire.CommandKey {
	return wire.CommandKey{Module: module, Cmd: cmd}
}

func (f *fakeCommander) stub(k wire.CommandKey, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[k] = append(f.scripts[k], errs...)
}

func (f *fakeCommander) count(k wire.CommandKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[k]
}

func (f *fakeCommander) lastBody(k wire.CommandKey) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	bodies := f.bodies[k]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func (f *fakeCommander) Connect(ctx context.Context) error {
	f.mu.Lock()
	old := f.state
	f.state = protocol.StateReady
	f.connects++
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(old, protocol.StateReady)
	}
	return nil
}

func (f *fakeCommander) Disconnect() error {
	f.mu.Lock()
	old := f.state
	f.state = protocol.StateDisconnected
	f.disconnects++
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(old, protocol.StateDisconnected)
	}
	return nil
}

func (f *fakeCommander) State() protocol.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCommander) OnStateChange(fn func(oldState, newState protocol.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeCommander) ClientID() string { return "test-client" }

func (f *fakeCommander) Request(ctx context.Context, module wire.ModuleID, cmd wire.CommandID, body any) ([]byte, error) {
	k := key(module, cmd)
	f.mu.Lock()
	f.requests[k]++
	f.bodies[k] = append(f.bodies[k], body)
	var err error
	if queue := f.scripts[k]; len(queue) > 0 {
		err = queue[0]
		f.scripts[k] = queue[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []byte{}, nil
}

func (f *fakeCommander) Subscribe(module wire.ModuleID, cmd wire.CommandID, handler protocol.NotificationHandler) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subSeq++
	k := key(module, cmd)
	if f.handlers[k] == nil {
		f.handlers[k] = make(map[uint64]protocol.NotificationHandler)
	}
	f.handlers[k][f.subSeq] = handler
	f.subKeys[f.subSeq] = k
	return f.subSeq
}

func (f *fakeCommander) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.subKeys[id]
	if !ok {
		return
	}
	delete(f.subKeys, id)
	delete(f.handlers[k], id)
}

// notify delivers a notification body to all subscribed handlers.
func (f *fakeCommander) notify(t *testing.T, cmd wire.CommandID, body any) {
	t.Helper()
	payload, err := wire.Marshal(body)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}

	f.mu.Lock()
	entry := f.handlers[key(wire.ModuleNotify, cmd)]
	handlers := make([]protocol.NotificationHandler, 0, len(entry))
	for _, h := range entry {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

var (
	lockKey         = key(wire.ModuleSystem, wire.CmdSystemSetMasterLock)
	teleOpenKey     = key(wire.ModuleCameraTele, wire.CmdCameraTeleOpen)
	gotoKey         = key(wire.ModuleAstro, wire.CmdAstroStartGotoDSO)
	stopGotoKey     = key(wire.ModuleAstro, wire.CmdAstroStopGoto)
	darkKey         = key(wire.ModuleAstro, wire.CmdAstroCheckDarkLibrary)
	captureKey      = key(wire.ModuleAstro, wire.CmdAstroStartCaptureRaw)
	setExpKey       = key(wire.ModuleCameraTele, wire.CmdCameraTeleSetExp)
	setGainKey      = key(wire.ModuleCameraTele, wire.CmdCameraTeleSetGain)
	joystickKey     = key(wire.ModuleMotor, wire.CmdMotorJoystick)
	joystickStopKey = key(wire.ModuleMotor, wire.CmdMotorJoystickStop)
	stepKey         = key(wire.ModuleFocus, wire.CmdFocusSingleStep)
	startContinuKey = key(wire.ModuleFocus, wire.CmdFocusStartContinu)
	stopContinuKey  = key(wire.ModuleFocus, wire.CmdFocusStopContinu)
	ircutKey        = key(wire.ModuleCameraTele, wire.CmdCameraTeleSetIRCut)
	featureParamKey = key(wire.ModuleCameraTele, wire.CmdCameraTeleSetFeatureParam)
)

func lockDenied() error {
	return &wire.CommandError{Module: wire.ModuleSystem, Cmd: wire.CmdSystemSetMasterLock, Code: wire.CodeMasterLockDenied}
}

func testSession(t *testing.T, fake *fakeCommander, mutate func(*Config)) *Session {
	t.Helper()
	config := Config{
		Client:       fake,
		LockInterval: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	if mutate != nil {
		mutate(&config)
	}
	s := New(config)
	t.Cleanup(s.Close)
	return s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// testTable matches the firmware shape used across the resolver tests:
// exposures 1s/5s/10s, gains 100/200.
func testTable() *exposure.Table {
	return &exposure.Table{
		Exposures: []exposure.Option{{Index: 0, Seconds: 1}, {Index: 1, Seconds: 5}, {Index: 2, Seconds: 10}},
		Gains:     []exposure.GainOption{{Index: 0, Value: 100}, {Index: 1, Value: 200}},
	}
}

func setTable(s *Session, table *exposure.Table) {
	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
}

func setFilterOptions(s *Session, options []exposure.FilterOption) {
	s.mu.Lock()
	s.filterOpts = options
	s.filter.Names = filterLabels(options)
	s.mu.Unlock()
}

// fakeParams serves a canned parameter payload.
type fakeParams struct {
	payload []byte
}

func (f fakeParams) FetchParameterTable(context.Context) ([]byte, error) {
	return f.payload, nil
}

func TestLeaseLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("ConnectionTracksLeases", func(t *testing.T) {
		fake := newFakeCommander()
		s := testSession(t, fake, nil)

		if s.Connected() {
			t.Fatal("connected before any lease")
		}

		if err := s.AcquireDevice(ctx, DeviceTelescope); err != nil {
			t.Fatalf("AcquireDevice(telescope) = %v", err)
		}
		if !s.Connected() {
			t.Fatal("not connected after first lease")
		}
		if fake.connects != 1 {
			t.Errorf("connects = %d, want 1", fake.connects)
		}
		if got := fake.count(lockKey); got != 1 {
			t.Errorf("lock requests = %d, want 1", got)
		}
		if got := fake.count(teleOpenKey); got != 1 {
			t.Errorf("camera open requests = %d, want 1", got)
		}

		if err := s.AcquireDevice(ctx, DeviceCamera); err != nil {
			t.Fatalf("AcquireDevice(camera) = %v", err)
		}
		if fake.connects != 1 {
			t.Errorf("connects after second lease = %d, want 1", fake.connects)
		}

		s.ReleaseDevice(DeviceTelescope)
		if !s.Connected() {
			t.Fatal("disconnected while camera lease held")
		}

		s.ReleaseDevice(DeviceCamera)
		if s.Connected() {
			t.Fatal("still connected after all leases released")
		}
		if fake.disconnects != 1 {
			t.Errorf("disconnects = %d, want 1", fake.disconnects)
		}
		if got := fake.count(lockKey); got != 2 {
			t.Errorf("lock requests after teardown = %d, want 2", got)
		}
		if body, ok := fake.lastBody(lockKey).(*wire.SetMasterLock); !ok || body.Lock {
			t.Errorf("last lock body = %#v, want release", fake.lastBody(lockKey))
		}
	})

	t.Run("ReacquireAfterTeardown", func(t *testing.T) {
		fake := newFakeCommander()
		s := testSession(t, fake, nil)

		if err := s.AcquireDevice(ctx, DeviceFocuser); err != nil {
			t.Fatal(err)
		}
		s.ReleaseDevice(DeviceFocuser)
		if err := s.AcquireDevice(ctx, DeviceFilterWheel); err != nil {
			t.Fatalf("reacquire after teardown = %v", err)
		}
		if !s.Connected() {
			t.Fatal("not connected after reacquire")
		}
		if fake.connects != 2 {
			t.Errorf("connects = %d, want 2", fake.connects)
		}
	})

	t.Run("ReleaseUnheldIsNoop", func(t *testing.T) {
		fake := newFakeCommander()
		s := testSession(t, fake, nil)

		s.ReleaseDevice(DeviceCamera)
		if fake.disconnects != 0 {
			t.Errorf("disconnects = %d, want 0", fake.disconnects)
		}
	})

	t.Run("ConcurrentKindsShareOneBootstrap", func(t *testing.T) {
		fake := newFakeCommander()
		s := testSession(t, fake, nil)

		var wg sync.WaitGroup
		errs := make([]error, deviceKindCount)
		for kind := DeviceKind(0); kind < deviceKindCount; kind++ {
			wg.Add(1)
			go func(kind DeviceKind) {
				defer wg.Done()
				errs[kind] = s.AcquireDevice(ctx, kind)
			}(kind)
		}
		wg.Wait()

		for kind, err := range errs {
			if err != nil {
				t.Fatalf("AcquireDevice(%d) = %v", kind, err)
			}
		}
		if fake.connects != 1 {
			t.Errorf("connects = %d, want 1", fake.connects)
		}
		if got := fake.count(lockKey); got != 1 {
			t.Errorf("lock negotiations = %d, want 1", got)
		}
	})

	t.Run("BootstrapFailureRollsBack", func(t *testing.T) {
		fake := newFakeCommander()
		fake.stub(teleOpenKey, &wire.CommandError{Module: wire.ModuleCameraTele, Cmd: wire.CmdCameraTeleOpen, Code: wire.CodeCameraBusy})
		s := testSession(t, fake, nil)

		if err := s.AcquireDevice(ctx, DeviceCamera); err == nil {
			t.Fatal("expected bootstrap failure")
		}
		if s.LeaseCount(DeviceCamera) != 0 {
			t.Error("lease not rolled back")
		}
		if s.Connected() {
			t.Error("still connected after bootstrap failure")
		}
		if fake.disconnects != 1 {
			t.Errorf("disconnects = %d, want 1", fake.disconnects)
		}
	})
}

func TestMasterLockDenied(t *testing.T) {
	fake := newFakeCommander()
	fake.stub(lockKey, lockDenied(), lockDenied(), lockDenied())
	s := testSession(t, fake, nil)

	err := s.AcquireDevice(context.Background(), DeviceTelescope)
	if !errors.Is(err, ErrMasterLockDenied) {
		t.Fatalf("AcquireDevice() = %v, want ErrMasterLockDenied", err)
	}
	if got := fake.count(lockKey); got != 3 {
		t.Errorf("lock attempts = %d, want exactly 3", got)
	}
	if s.LeaseCount(DeviceTelescope) != 0 {
		t.Error("lease not rolled back after lock denial")
	}
	if s.Connected() {
		t.Error("session left connected after lock denial")
	}

	lock := s.MasterLock()
	if lock.Held {
		t.Error("lock reported held")
	}
	if lock.LastError == "" {
		t.Error("lock LastError not recorded")
	}
}

func TestMasterLockRecoversWithinBudget(t *testing.T) {
	fake := newFakeCommander()
	fake.stub(lockKey, lockDenied(), lockDenied())
	s := testSession(t, fake, nil)

	if err := s.AcquireDevice(context.Background(), DeviceTelescope); err != nil {
		t.Fatalf("AcquireDevice() = %v", err)
	}
	if got := fake.count(lockKey); got != 3 {
		t.Errorf("lock attempts = %d, want 3", got)
	}

	lock := s.MasterLock()
	if !lock.Held {
		t.Error("lock not held after recovery")
	}
	if lock.HolderID != "test-client" {
		t.Errorf("holder = %q", lock.HolderID)
	}
}

func TestMasterLockNonDenialFailsFast(t *testing.T) {
	fake := newFakeCommander()
	fake.stub(lockKey, &wire.CommandError{Module: wire.ModuleSystem, Cmd: wire.CmdSystemSetMasterLock, Code: wire.CodeCameraBusy})
	s := testSession(t, fake, nil)

	err := s.AcquireDevice(context.Background(), DeviceTelescope)
	if err == nil {
		t.Fatal("expected lock negotiation failure")
	}
	if errors.Is(err, ErrMasterLockDenied) {
		t.Errorf("err = %v, want a plain failure, not ErrMasterLockDenied", err)
	}
	if got := fake.count(lockKey); got != 1 {
		t.Errorf("lock attempts = %d, want 1; only denial is retried", got)
	}
	if s.LeaseCount(DeviceTelescope) != 0 {
		t.Error("lease not rolled back")
	}
}

func TestFilterOptionsFromParameterTable(t *testing.T) {
	t.Run("DerivedFromPayload", func(t *testing.T) {
		payload := []byte(`{"data":{"cameras":[{"id":0,"name":"Tele","supportParams":[
			{"name":"Exposure","gearMode":{"values":[{"index":0,"name":"1s"},{"index":1,"name":"5s"}]}},
			{"id":8,"name":"IR Cut","gearMode":{"values":[
				{"index":0,"name":"VIS Filter"},
				{"index":1,"name":"Astro Filter"},
				{"index":2,"name":"Duo-Band Filter"}
			]}}
		]}]}}`)

		fake := newFakeCommander()
		s := testSession(t, fake, func(c *Config) { c.Params = fakeParams{payload: payload} })
		acquire(t, s, DeviceFilterWheel)

		want := []string{"VIS Filter", "Astro Filter", "Duo-Band Filter"}
		got := s.Filter().Names
		if len(got) != len(want) {
			t.Fatalf("names = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("FallbackWithoutFilters", func(t *testing.T) {
		payload := []byte(`{"data":{"cameras":[{"id":0,"name":"Tele","supportParams":[
			{"name":"Exposure","gearMode":{"values":[{"index":0,"name":"1s"}]}}
		]}]}}`)

		fake := newFakeCommander()
		s := testSession(t, fake, func(c *Config) { c.Params = fakeParams{payload: payload} })
		acquire(t, s, DeviceFilterWheel)

		got := s.Filter().Names
		if len(got) != len(defaultFilterNames) {
			t.Fatalf("names = %v, want fallback %v", got, defaultFilterNames)
		}
		for i, name := range defaultFilterNames {
			if got[i] != name {
				t.Errorf("names[%d] = %q, want %q", i, got[i], name)
			}
		}
	})
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommander()
	s := testSession(t, fake, nil)

	if err := s.SlewToCoordinates(ctx, 5, 45); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SlewToCoordinates without lease = %v, want ErrNotConnected", err)
	}

	// A camera lease does not entitle telescope operations.
	if err := s.AcquireDevice(ctx, DeviceCamera); err != nil {
		t.Fatal(err)
	}
	if err := s.AbortSlew(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("AbortSlew with camera lease = %v, want ErrNotConnected", err)
	}
}
