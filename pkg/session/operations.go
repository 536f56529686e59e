package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/album"
	"github.com/dwarf-protocol/dwarf-go/pkg/exposure"
	"github.com/dwarf-protocol/dwarf-go/pkg/wire"
)

// Motion limits.
const (
	axisRA  = 0
	axisDec = 1

	// maxAxisRate caps manual axis motion in degrees per second.
	maxAxisRate = 5.0

	// focuserMax is the firmware's step range upper bound.
	focuserMax = 20000

	// focuserShortMove is the largest delta driven with single steps;
	// anything longer uses continuous motion with a supervised cutoff.
	focuserShortMove = 10

	// focuserMoveTimeout bounds a supervised continuous move.
	focuserMoveTimeout = 30 * time.Second
)

// SlewToCoordinates starts a slew to the given right ascension (hours)
// and declination (degrees). It returns once the firmware accepts the
// command; completion is observed via GOTO notifications. A GOTO
// rejected as busy is aborted and reissued once.
func (s *Session) SlewToCoordinates(ctx context.Context, raHours, decDegrees float64) error {
	if err := s.ensureDevice(DeviceTelescope); err != nil {
		return err
	}

	if s.config.SlewMode == SlewModeMotor {
		return s.slewWithMotors(ctx, raHours, decDegrees)
	}

	body := &wire.GotoDSO{RA: raHours * 15, Dec: decDegrees}
	_, err := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStartGotoDSO, body)

	var cmdErr *wire.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == wire.CodeAstroFunctionBusy {
		if _, stopErr := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStopGoto, nil); stopErr != nil {
			return fmt.Errorf("failed to abort previous goto: %w", stopErr)
		}
		_, err = s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStartGotoDSO, body)
	}
	if err != nil {
		return fmt.Errorf("goto failed: %w", err)
	}

	s.mu.Lock()
	s.telescope.RA = raHours
	s.telescope.Dec = decDegrees
	s.telescope.Slewing = true
	s.telescope.GotoTarget = ""
	s.mu.Unlock()
	return nil
}

// slewWithMotors drives both axes directly. Open loop: the firmware
// sends no completion telemetry for raw motor moves.
func (s *Session) slewWithMotors(ctx context.Context, raHours, decDegrees float64) error {
	moves := []wire.MotorRunTo{
		{Axis: 1, Position: raHours * 15, Speed: maxAxisRate},
		{Axis: 2, Position: decDegrees, Speed: maxAxisRate},
	}
	for _, move := range moves {
		if _, err := s.client.Request(ctx, wire.ModuleMotor, wire.CmdMotorRunTo, &move); err != nil {
			return fmt.Errorf("motor slew failed on axis %d: %w", move.Axis, err)
		}
	}

	s.mu.Lock()
	s.telescope.RA = raHours
	s.telescope.Dec = decDegrees
	s.telescope.Slewing = false
	s.mu.Unlock()
	return nil
}

// AbortSlew stops an in-progress slew or manual axis motion.
func (s *Session) AbortSlew(ctx context.Context) error {
	if err := s.ensureDevice(DeviceTelescope); err != nil {
		return err
	}

	var err error
	if s.config.SlewMode == SlewModeMotor {
		_, err = s.client.Request(ctx, wire.ModuleMotor, wire.CmdMotorJoystickStop, nil)
	} else {
		_, err = s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStopGoto, nil)
	}
	if err != nil {
		return fmt.Errorf("abort slew failed: %w", err)
	}

	s.mu.Lock()
	s.telescope.Slewing = false
	s.mu.Unlock()
	return nil
}

// SetTracking enables or disables sidereal tracking.
func (s *Session) SetTracking(ctx context.Context, enabled bool) error {
	if err := s.ensureDevice(DeviceTelescope); err != nil {
		return err
	}

	var err error
	if enabled {
		_, err = s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStartTracking, nil)
	} else {
		_, err = s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStopTracking, nil)
	}
	if err != nil {
		return fmt.Errorf("set tracking failed: %w", err)
	}

	s.mu.Lock()
	s.telescope.Tracking = enabled
	s.mu.Unlock()
	return nil
}

// MoveAxis drives one axis at the given rate in degrees per second,
// translated to the firmware's polar joystick vector. Axis 0 is right
// ascension/azimuth, axis 1 declination/altitude; a zero rate stops
// motion.
func (s *Session) MoveAxis(ctx context.Context, axis int, rate float64) error {
	if err := s.ensureDevice(DeviceTelescope); err != nil {
		return err
	}
	if axis != axisRA && axis != axisDec {
		return fmt.Errorf("axis %d out of range", axis)
	}

	if rate == 0 {
		if _, err := s.client.Request(ctx, wire.ModuleMotor, wire.CmdMotorJoystickStop, nil); err != nil {
			return fmt.Errorf("axis stop failed: %w", err)
		}
		s.mu.Lock()
		s.telescope.Slewing = false
		s.mu.Unlock()
		return nil
	}

	var angle float64
	switch {
	case axis == axisRA && rate > 0:
		angle = 0
	case axis == axisRA:
		angle = 180
	case rate > 0:
		angle = 90
	default:
		angle = 270
	}

	speed := rate
	if speed < 0 {
		speed = -speed
	}
	if speed > maxAxisRate {
		speed = maxAxisRate
	}

	body := &wire.MotorJoystick{VectorAngle: angle, VectorLength: 1, Speed: speed}
	if _, err := s.client.Request(ctx, wire.ModuleMotor, wire.CmdMotorJoystick, body); err != nil {
		return fmt.Errorf("axis move failed: %w", err)
	}

	s.mu.Lock()
	s.telescope.Slewing = true
	s.mu.Unlock()
	return nil
}

// StartExposure resolves the requested duration and gain against the
// firmware table, applies manual parameter mode, gates on the dark
// library, optionally warms the live view up and issues the capture
// command. It returns once the capture is accepted; ImageReady flips
// when the finished frame has been retrieved from the album.
func (s *Session) StartExposure(ctx context.Context, seconds, gain float64) error {
	if err := s.ensureDevice(DeviceCamera); err != nil {
		return err
	}

	s.mu.Lock()
	table := s.table
	s.mu.Unlock()
	if table == nil || len(table.Exposures) == 0 {
		if err := s.refreshExposureTable(ctx); err != nil {
			s.config.Logger.Warn("parameter table fetch failed", "error", err)
		}
		s.mu.Lock()
		table = s.table
		s.mu.Unlock()
	}

	expIndex, gainIndex, err := table.Resolve(seconds, gain)
	if err != nil {
		return err
	}

	if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetExpMode, &wire.SetExpMode{Mode: 1}); err != nil {
		return fmt.Errorf("failed to enter manual exposure mode: %w", err)
	}
	if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetExp, &wire.SetExp{Index: expIndex}); err != nil {
		return fmt.Errorf("failed to set exposure: %w", err)
	}
	if gainIndex >= 0 {
		if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetGainMode, &wire.SetGainMode{Mode: 1}); err != nil {
			return fmt.Errorf("failed to enter manual gain mode: %w", err)
		}
		if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetGain, &wire.SetGain{Index: gainIndex}); err != nil {
			return fmt.Errorf("failed to set gain: %w", err)
		}
	}

	if err := s.checkDarkLibrary(ctx); err != nil {
		return err
	}

	liveStarted := false
	if s.config.GoLiveBeforeExposure {
		if _, err := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroGoLive, nil); err != nil {
			s.config.Logger.Debug("go live failed", "error", err)
		}
		if s.config.Live != nil {
			if err := s.config.Live.Begin(ctx); err != nil {
				s.config.Logger.Debug("live view warm-up failed", "error", err)
			} else {
				liveStarted = true
			}
		}
	}

	var baseline *album.Entry
	if s.config.Album != nil {
		baseline, err = s.config.Album.LatestEntry(ctx, album.KindAstro, teleCamera)
		if err != nil {
			s.config.Logger.Debug("album baseline failed", "error", err)
		}
	}

	if _, err := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStartCaptureRaw, nil); err != nil {
		return fmt.Errorf("capture start failed: %w", err)
	}

	s.mu.Lock()
	s.camera.Exposing = true
	s.camera.ImageReady = false
	s.camera.LastImagePath = ""
	s.camera.ExposureSeconds = seconds
	s.camera.ExposureIndex = expIndex
	s.camera.GainIndex = gainIndex
	s.baseline = baseline
	s.capture = nil
	if liveStarted {
		s.liveActive = true
	}
	s.mu.Unlock()
	return nil
}

// checkDarkLibrary queries dark availability. A missing library fails
// with ErrDarksRequired when so configured; otherwise the capture
// proceeds uncalibrated.
func (s *Session) checkDarkLibrary(ctx context.Context) error {
	_, err := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroCheckDarkLibrary, nil)
	if err == nil {
		return nil
	}

	var cmdErr *wire.CommandError
	missing := errors.As(err, &cmdErr) && cmdErr.Code == wire.CodeAstroDarksRequired
	if missing {
		if s.config.RequireDarks {
			return fmt.Errorf("%w", ErrDarksRequired)
		}
		s.config.Logger.Warn("dark library missing, capturing uncalibrated")
		return nil
	}
	if s.config.RequireDarks {
		return fmt.Errorf("dark library check failed: %w", err)
	}
	s.config.Logger.Warn("dark library check failed, continuing", "error", err)
	return nil
}

// AbortExposure stops an in-flight capture sequence.
func (s *Session) AbortExposure(ctx context.Context) error {
	if err := s.ensureDevice(DeviceCamera); err != nil {
		return err
	}

	if _, err := s.client.Request(ctx, wire.ModuleAstro, wire.CmdAstroStopCaptureRaw, nil); err != nil {
		return fmt.Errorf("capture stop failed: %w", err)
	}

	s.mu.Lock()
	s.camera.Exposing = false
	s.mu.Unlock()
	return nil
}

// ImageReady reports whether the last capture has been retrieved.
func (s *Session) ImageReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera.ImageReady
}

// MoveFocuser drives the focuser to an absolute step position, clamped
// to the firmware range. Short deltas step synchronously; longer ones
// start continuous motion and a supervisor stops it near the target
// using the focus telemetry notifications.
func (s *Session) MoveFocuser(ctx context.Context, target int) error {
	if err := s.ensureDevice(DeviceFocuser); err != nil {
		return err
	}

	if target < 0 {
		target = 0
	}
	if target > focuserMax {
		target = focuserMax
	}

	s.mu.Lock()
	if s.focuser.Moving {
		// Supersede the in-flight move; its supervisor sees the bumped
		// sequence and exits without stopping the motor.
		s.focusSeq++
		s.focuser.Moving = false
	}
	position := s.focuser.Position
	s.mu.Unlock()

	delta := target - position
	if delta == 0 {
		return nil
	}

	direction := uint8(0)
	if delta > 0 {
		direction = 1
	}
	steps := delta
	if steps < 0 {
		steps = -steps
	}

	if steps <= focuserShortMove {
		for i := 0; i < steps; i++ {
			if _, err := s.client.Request(ctx, wire.ModuleFocus, wire.CmdFocusSingleStep, &wire.SingleStepFocus{Direction: direction}); err != nil {
				return fmt.Errorf("focus step failed: %w", err)
			}
			s.mu.Lock()
			if direction == 1 {
				s.focuser.Position++
			} else {
				s.focuser.Position--
			}
			s.mu.Unlock()
		}
		return nil
	}

	if _, err := s.client.Request(ctx, wire.ModuleFocus, wire.CmdFocusStartContinu, &wire.StartContinuFocus{Direction: direction}); err != nil {
		return fmt.Errorf("continuous focus start failed: %w", err)
	}

	s.mu.Lock()
	s.focuser.Moving = true
	s.focuser.Target = target
	s.focusSeq++
	seq := s.focusSeq
	sessionCtx := s.ctx
	s.mu.Unlock()

	if sessionCtx == nil {
		sessionCtx = context.Background()
	}
	go s.superviseFocusMove(sessionCtx, seq, target, direction)
	return nil
}

// superviseFocusMove watches the cached focus position, fed by
// telemetry notifications, and stops continuous motion at the target.
func (s *Session) superviseFocusMove(ctx context.Context, seq uint64, target int, direction uint8) {
	deadline := time.Now().Add(focuserMoveTimeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		superseded := s.focusSeq != seq || !s.focuser.Moving
		position := s.focuser.Position
		s.mu.Unlock()
		if superseded {
			return
		}

		distance := position - target
		if distance < 0 {
			distance = -distance
		}
		arrived := distance <= s.config.FocuserTolerance
		overshot := (direction == 1 && position >= target) || (direction == 0 && position <= target)

		if !arrived && !overshot && time.Now().Before(deadline) {
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if _, err := s.client.Request(stopCtx, wire.ModuleFocus, wire.CmdFocusStopContinu, nil); err != nil {
			s.config.Logger.Warn("continuous focus stop failed", "error", err)
		}
		cancel()

		s.mu.Lock()
		if s.focusSeq == seq {
			s.focuser.Moving = false
		}
		s.mu.Unlock()
		return
	}
}

// HaltFocuser stops any focuser motion immediately.
func (s *Session) HaltFocuser(ctx context.Context) error {
	if err := s.ensureDevice(DeviceFocuser); err != nil {
		return err
	}

	s.mu.Lock()
	s.focusSeq++
	s.focuser.Moving = false
	s.mu.Unlock()

	if _, err := s.client.Request(ctx, wire.ModuleFocus, wire.CmdFocusStopContinu, nil); err != nil {
		return fmt.Errorf("focus halt failed: %w", err)
	}
	return nil
}

// SelectFilter positions the filter element on the given slot. Slots
// map to the options derived from the firmware parameter table; IR-cut
// style options use the dedicated command, everything else goes through
// the generic feature parameter.
func (s *Session) SelectFilter(ctx context.Context, slot int) error {
	if err := s.ensureDevice(DeviceFilterWheel); err != nil {
		return err
	}

	s.mu.Lock()
	slots := len(s.filterOpts)
	var option exposure.FilterOption
	if slot >= 0 && slot < slots {
		option = s.filterOpts[slot]
	}
	s.mu.Unlock()
	if slot < 0 || slot >= slots {
		return fmt.Errorf("filter slot %d out of range [0,%d)", slot, slots)
	}

	switch {
	case option.IRCut:
		if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetIRCut, &wire.SetIRCut{Value: option.Index}); err != nil {
			return fmt.Errorf("filter select failed: %w", err)
		}
	case option.ParamID >= 0:
		body := &wire.SetFeatureParam{
			ID:            option.ParamID,
			ModeIndex:     option.ModeIndex,
			Index:         option.Index,
			ContinueValue: option.ContinueValue,
		}
		if _, err := s.client.Request(ctx, wire.ModuleCameraTele, wire.CmdCameraTeleSetFeatureParam, body); err != nil {
			return fmt.Errorf("filter select failed: %w", err)
		}
	default:
		return fmt.Errorf("filter %q is not controllable", option.Label)
	}

	s.mu.Lock()
	s.filter.Position = slot
	s.mu.Unlock()
	return nil
}
