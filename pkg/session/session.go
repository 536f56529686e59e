package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/album"
	"github.com/dwarf-protocol/dwarf-go/pkg/exposure"
	"github.com/dwarf-protocol/dwarf-go/pkg/protocol"
	"github.com/dwarf-protocol/dwarf-go/pkg/retry"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// Session errors.
var (
	ErrNotConnected     = errors.New("device not connected")
	ErrMasterLockDenied = errors.New("master lock denied")
	ErrDarksRequired    = errors.New("dark library missing for current exposure")
)

// Slew command modes. GOTO slews are closed-loop with completion
// notifications; motor slews drive the axes open-loop.
const (
	SlewModeGoto  = "goto"
	SlewModeMotor = "motor"
)

// Session defaults.
const (
	DefaultLockAttempts          = 3
	DefaultLockInterval          = time.Second
	DefaultCaptureWaitTimeout    = 30 * time.Second
	DefaultTemperatureInterval   = 5 * time.Second
	DefaultTemperatureStaleAfter = 20 * time.Second
	DefaultFocuserTolerance      = 5
)

// teleCamera is the album camera prefix for the telephoto sensor.
const teleCamera = "TELE"

// defaultFilterNames are the DWARF 3 IR-cut positions, used when the
// parameter payload carries no filter information.
var defaultFilterNames = []string{"VIS", "ASTRO", "DUAL BAND"}

func fallbackFilterOptions() []exposure.FilterOption {
	options := make([]exposure.FilterOption, len(defaultFilterNames))
	for i, name := range defaultFilterNames {
		options[i] = exposure.FilterOption{Label: name, Index: i, ParamID: -1, IRCut: true}
	}
	return options
}

func filterLabels(options []exposure.FilterOption) []string {
	labels := make([]string, len(options))
	for i, opt := range options {
		labels[i] = opt.Label
	}
	return labels
}

// Config configures a Session.
type Config struct {
	// Client is the command channel. Required.
	Client Commander

	// Params fetches the firmware parameter table. Optional; without it
	// exposures fail until a table is supplied some other way.
	Params ParameterAPI

	// Album retrieves finished captures. Optional.
	Album Album

	// Live is the RTSP warm-up collaborator. Optional.
	Live LiveView

	// LockAttempts bounds master-lock negotiation (default 3).
	LockAttempts int

	// LockInterval is the fixed delay between lock attempts (default 1s).
	LockInterval time.Duration

	// SlewMode selects goto or motor slews (default goto).
	SlewMode string

	// RequireDarks fails StartExposure with ErrDarksRequired when the
	// firmware reports no dark library for the current configuration.
	RequireDarks bool

	// GoLiveBeforeExposure warms the live view up before captures.
	GoLiveBeforeExposure bool

	// CaptureWaitTimeout bounds the album fetch after a capture ends.
	CaptureWaitTimeout time.Duration

	// TemperatureInterval is the background poll cadence; a poll is only
	// issued when no notification arrived within TemperatureStaleAfter.
	TemperatureInterval   time.Duration
	TemperatureStaleAfter time.Duration

	// FocuserTolerance is the step distance at which a supervised
	// continuous focus move is considered arrived.
	FocuserTolerance int

	// Logger receives session diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Session multiplexes one physical connection across the four logical
// devices. See the package documentation for the lifecycle.
type Session struct {
	config Config
	client Commander

	// lifecycleMu serializes connect/bootstrap/teardown so only one
	// master-lock negotiation is ever in flight.
	lifecycleMu sync.Mutex

	// mu guards everything below. Held only across in-memory updates,
	// never across a network wait.
	mu         sync.Mutex
	leases     [deviceKindCount]int
	started    bool
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []uint64
	tempCancel context.CancelFunc
	lock       MasterLockState
	telescope  TelescopeState
	camera     CameraState
	focuser    FocuserState
	filter     FilterState
	filterOpts []exposure.FilterOption
	table      *exposure.Table
	baseline   *album.Entry
	capture    *album.Capture
	focusSeq   uint64
	liveActive bool
}

// New creates a session around the given collaborators.
func New(config Config) *Session {
	if config.LockAttempts < 1 {
		config.LockAttempts = DefaultLockAttempts
	}
	if config.LockInterval == 0 {
		config.LockInterval = DefaultLockInterval
	}
	if config.SlewMode == "" {
		config.SlewMode = SlewModeGoto
	}
	if config.CaptureWaitTimeout == 0 {
		config.CaptureWaitTimeout = DefaultCaptureWaitTimeout
	}
	if config.TemperatureInterval == 0 {
		config.TemperatureInterval = DefaultTemperatureInterval
	}
	if config.TemperatureStaleAfter == 0 {
		config.TemperatureStaleAfter = DefaultTemperatureStaleAfter
	}
	if config.FocuserTolerance == 0 {
		config.FocuserTolerance = DefaultFocuserTolerance
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Session{
		config:     config,
		client:     config.Client,
		filterOpts: fallbackFilterOptions(),
		camera:     CameraState{GainIndex: -1},
	}
	s.filter = FilterState{Names: filterLabels(s.filterOpts)}
	s.client.OnStateChange(s.handleClientState)
	return s
}

// AcquireDevice takes a lease on a logical device. The first lease
// across all devices opens the connection, runs the bootstrap sequence
// and negotiates the master lock; on failure the lease is rolled back
// and the error surfaced.
func (s *Session) AcquireDevice(ctx context.Context, kind DeviceKind) error {
	if kind >= deviceKindCount {
		return fmt.Errorf("unknown device kind %d", kind)
	}

	s.mu.Lock()
	s.leases[kind]++
	s.mu.Unlock()

	s.lifecycleMu.Lock()
	err := s.ensureStarted(ctx)
	s.lifecycleMu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.leases[kind]--
		s.mu.Unlock()
		return err
	}
	return nil
}

// ReleaseDevice drops a lease. When all four devices reach zero the
// background tasks stop, the master lock is released best-effort and
// the connection closes. Releasing an unheld lease is a no-op.
func (s *Session) ReleaseDevice(kind DeviceKind) {
	if kind >= deviceKindCount {
		return
	}

	s.mu.Lock()
	if s.leases[kind] == 0 {
		s.mu.Unlock()
		return
	}
	s.leases[kind]--
	remaining := s.totalLeasesLocked()
	s.mu.Unlock()

	if remaining == 0 {
		s.lifecycleMu.Lock()
		s.shutdown()
		s.lifecycleMu.Unlock()
	}
}

// Close force-releases every lease and tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	for kind := range s.leases {
		s.leases[kind] = 0
	}
	s.mu.Unlock()

	s.lifecycleMu.Lock()
	s.shutdown()
	s.lifecycleMu.Unlock()
}

// Connected reports whether the physical connection is established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// LeaseCount returns the reference count for one device kind.
func (s *Session) LeaseCount(kind DeviceKind) int {
	if kind >= deviceKindCount {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases[kind]
}

// Telescope returns a copy of the cached telescope state.
func (s *Session) Telescope() TelescopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telescope
}

// Camera returns a copy of the cached camera state.
func (s *Session) Camera() CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Focuser returns a copy of the cached focuser state.
func (s *Session) Focuser() FocuserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focuser
}

// Filter returns a copy of the cached filter wheel state.
func (s *Session) Filter() FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.filter
	state.Names = append([]string(nil), s.filter.Names...)
	return state
}

// MasterLock returns a copy of the lock negotiation state.
func (s *Session) MasterLock() MasterLockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock
}

// ExposureTable returns the current firmware-reported table, nil before
// the first successful parameter fetch.
func (s *Session) ExposureTable() *exposure.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// LatestCapture returns the most recently retrieved capture, nil if
// none has completed yet.
func (s *Session) LatestCapture() *album.Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// ensureStarted opens the connection and bootstraps the hardware once.
// Caller holds lifecycleMu.
func (s *Session) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return nil
	}

	if err := s.client.Connect(ctx); err != nil && !errors.Is(err, protocol.ErrAlreadyConnected) {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := s.bootstrap(ctx); err != nil {
		s.client.Disconnect()
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.started = true
	s.ctx = sessionCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.subscribeAll()
	s.startTemperatureTask()

	return nil
}

// bootstrap runs the post-connect sequence: working-state query, camera
// power-up, master lock, clock sync, parameter table fetch.
func (s *Session) bootstrap(ctx context.Context) error {
	// Informational; some firmware revisions answer with a host/slave
	// notification instead of a response body.
	if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleGetWorkingState, nil); err != nil {
		s.config.Logger.Debug("working state query failed", "error", err)
	}

	if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleOpen, &wire.OpenCamera{RtspEncodeType: 1}); err != nil {
		return fmt.Errorf("failed to open tele camera: %w", err)
	}
	if _, err := s.client.Request(ctx, wire.ModuleCameraWide, wire.CmdCameraWideOpen, &wire.OpenCamera{}); err != nil {
		s.config.Logger.Warn("failed to open wide camera", "error", err)
	}

	if err := s.negotiateMasterLock(ctx); err != nil {
		return err
	}

	if err := s.syncClock(ctx); err != nil {
		s.config.Logger.Warn("clock sync failed", "error", err)
	}

	if err := s.refreshExposureTable(ctx); err != nil {
		s.config.Logger.Warn("parameter table fetch failed", "error", err)
	}

	return nil
}

// negotiateMasterLock requests exclusive control, retrying denial a
// bounded number of times at a fixed interval. Any other failure is
// surfaced immediately.
func (s *Session) negotiateMasterLock(ctx context.Context) error {
	policy := retry.Policy{MaxAttempts: s.config.LockAttempts, Interval: s.config.LockInterval}

	err := policy.Do(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		s.lock.LastAttempt = time.Now()
		s.mu.Unlock()

		_, err := s.client.Request(ctx, wire.ModuleSystem, wire.CmdSystemSetMasterLock, &wire.SetMasterLock{Lock: true})
		if err == nil {
			return nil
		}
		var cmdErr *wire.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == wire.CodeMasterLockDenied {
			return err
		}
		return retry.Abort(err)
	})
	if err != nil {
		s.mu.Lock()
		s.lock.Held = false
		s.lock.LastError = err.Error()
		s.mu.Unlock()

		var cmdErr *wire.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == wire.CodeMasterLockDenied {
			return fmt.Errorf("%w after %d attempts", ErrMasterLockDenied, s.config.LockAttempts)
		}
		return fmt.Errorf("master lock negotiation failed: %w", err)
	}

	s.mu.Lock()
	s.lock.Held = true
	s.lock.HolderID = s.client.ClientID()
	s.lock.LastError = ""
	s.mu.Unlock()

	return nil
}

// syncClock pushes the host time and the timezone offset rounded to the
// nearest quarter hour, which is the granularity the firmware stores.
func (s *Session) syncClock(ctx context.Context) error {
	now := time.Now()
	_, offsetSeconds := now.Zone()
	offset := math.Round(float64(offsetSeconds)/900) / 4

	_, err := s.client.Request(ctx, wire.ModuleSystem, wire.CmdSystemSetTime, &wire.SetTime{
		Timestamp:      now.Unix(),
		TimezoneOffset: offset,
	})
	return err
}

// refreshExposureTable rebuilds the exposure table and the filter
// options from the parameter API. Without a parameter API, or when the
// payload carries no filters, the current values stay as they are.
func (s *Session) refreshExposureTable(ctx context.Context) error {
	if s.config.Params == nil {
		return nil
	}

	raw, err := s.config.Params.FetchParameterTable(ctx)
	if err != nil {
		return err
	}

	if options := exposure.ParseFilterOptions(raw); len(options) > 0 {
		s.mu.Lock()
		s.filterOpts = options
		s.filter.Names = filterLabels(options)
		if s.filter.Position >= len(options) {
			s.filter.Position = 0
		}
		s.mu.Unlock()
	}

	table, err := exposure.ParseTable(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
	return nil
}

func (s *Session) subscribeAll() {
	subscribe := func(cmd wire.CommandID, handler protocol.NotificationHandler) {
		id := s.client.Subscribe(wire.ModuleNotify, cmd, handler)
		s.mu.Lock()
		s.subs = append(s.subs, id)
		s.mu.Unlock()
	}

	subscribe(wire.CmdNotifyFocus, s.onFocusNotify)
	subscribe(wire.CmdNotifyTemperature, s.onTemperatureNotify)
	subscribe(wire.CmdNotifyHostSlaveMode, s.onHostSlaveNotify)
	subscribe(wire.CmdNotifyGotoState, s.onGotoStateNotify)
	subscribe(wire.CmdNotifyCaptureEnd, s.onCaptureEndNotify)
}

// shutdown tears the session down. Caller holds lifecycleMu. A no-op
// when the session is not started or a lease reappeared in the interim.
func (s *Session) shutdown() {
	s.mu.Lock()
	if !s.started || s.totalLeasesLocked() > 0 {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.ctx = nil
	subs := s.subs
	s.subs = nil
	held := s.lock.Held
	live := s.liveActive
	s.liveActive = false
	s.mu.Unlock()

	s.stopTemperatureTask()
	if cancel != nil {
		cancel()
	}
	for _, id := range subs {
		s.client.Unsubscribe(id)
	}

	if live {
		s.endLiveView()
	}

	if held {
		// Best effort; shutdown never blocks on a sick connection.
		ctx, cancelRelease := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := s.client.Request(ctx, wire.ModuleSystem, wire.CmdSystemSetMasterLock, &wire.SetMasterLock{Lock: false}); err != nil {
			s.config.Logger.Warn("master lock release failed", "error", err)
		}
		cancelRelease()
	}

	s.mu.Lock()
	s.lock.Held = false
	s.lock.HolderID = ""
	s.mu.Unlock()

	s.client.Disconnect()
}

func (s *Session) totalLeasesLocked() int {
	total := 0
	for _, n := range s.leases {
		total += n
	}
	return total
}

// ensureDevice checks that the given device holds a lease on a started
// session.
func (s *Session) ensureDevice(kind DeviceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || kind >= deviceKindCount || s.leases[kind] == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, kind)
	}
	return nil
}

// handleClientState binds the temperature task to the Ready state so a
// reconnect restarts it. Runs on client goroutines; must not block.
func (s *Session) handleClientState(oldState, newState protocol.State) {
	switch newState {
	case protocol.StateReady:
		s.startTemperatureTask()
	default:
		s.stopTemperatureTask()
	}
}

func (s *Session) startTemperatureTask() {
	s.mu.Lock()
	if !s.started || s.tempCancel != nil || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.tempCancel = cancel
	s.mu.Unlock()

	go s.temperatureLoop(ctx)
}

func (s *Session) stopTemperatureTask() {
	s.mu.Lock()
	cancel := s.tempCancel
	s.tempCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// temperatureLoop polls the working state whenever no temperature
// notification refreshed the cache within the stale window.
func (s *Session) temperatureLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.TemperatureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		stale := time.Since(s.camera.TemperatureAt) >= s.config.TemperatureStaleAfter
		s.mu.Unlock()
		if !stale {
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.config.TemperatureInterval)
		_, err := s.client.Request(reqCtx, wire.ModuleCameraTele, wire.CmdCameraTeleGetWorkingState, nil)
		cancel()
		if err != nil {
			s.config.Logger.Debug("temperature poll failed", "error", err)
		}
	}
}

// Notification handlers. They update cached state under the mutation
// lock and never issue blocking requests from the dispatch path.

func (s *Session) onFocusNotify(payload []byte) {
	var n wire.NotifyFocus
	if err := wire.Unmarshal(payload, &n); err != nil {
		return
	}
	s.mu.Lock()
	s.focuser.Position = n.Focus
	s.mu.Unlock()
}

func (s *Session) onTemperatureNotify(payload []byte) {
	var n wire.NotifyTemperature
	if err := wire.Unmarshal(payload, &n); err != nil {
		return
	}
	s.mu.Lock()
	s.camera.Temperature = n.Temperature
	s.camera.TemperatureAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) onHostSlaveNotify(payload []byte) {
	var n wire.NotifyHostSlaveMode
	if err := wire.Unmarshal(payload, &n); err != nil {
		return
	}
	s.mu.Lock()
	s.lock.Held = n.Mode == 0 && n.Lock
	if !s.lock.Held {
		s.lock.HolderID = ""
	}
	s.mu.Unlock()
}

func (s *Session) onGotoStateNotify(payload []byte) {
	var n wire.NotifyGotoState
	if err := wire.Unmarshal(payload, &n); err != nil {
		return
	}
	s.mu.Lock()
	s.telescope.Slewing = n.State != 0
	s.telescope.GotoTarget = n.TargetName
	s.mu.Unlock()
}

func (s *Session) onCaptureEndNotify(payload []byte) {
	var n wire.NotifyCaptureEnd
	if err := wire.Unmarshal(payload, &n); err != nil {
		return
	}

	s.mu.Lock()
	s.camera.Exposing = false
	baseline := s.baseline
	ctx := s.ctx
	live := s.liveActive
	s.liveActive = false
	s.mu.Unlock()

	if live {
		// End hits the network; it runs off the dispatch path.
		go s.endLiveView()
	}

	if s.config.Album == nil || ctx == nil {
		s.mu.Lock()
		s.camera.ImageReady = true
		s.mu.Unlock()
		return
	}

	// Retrieval hits the network; it runs off the dispatch path.
	go s.fetchCapture(ctx, baseline)
}

// endLiveView tears the warm-up stream down, best effort.
func (s *Session) endLiveView() {
	if s.config.Live == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.config.Live.End(ctx); err != nil {
		s.config.Logger.Debug("live view stop failed", "error", err)
	}
}

func (s *Session) fetchCapture(ctx context.Context, baseline *album.Entry) {
	capture, err := s.config.Album.WaitForNew(ctx, baseline, album.KindAstro, teleCamera, s.config.CaptureWaitTimeout)
	if err != nil {
		s.config.Logger.Warn("capture retrieval failed", "error", err)
		return
	}

	s.mu.Lock()
	s.capture = capture
	s.camera.ImageReady = true
	s.camera.LastImagePath = capture.Entry.Path
	s.mu.Unlock()
}
