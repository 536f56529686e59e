// Command dwarf-bridge connects to a DWARF unit and holds the device
// session open until interrupted.
//
// On startup the bridge loads its settings, resolves the unit's address
// (flag, persisted station IP, or mDNS discovery, in that order of
// precedence), opens the command channel and acquires all four logical
// devices. It then runs until SIGINT/SIGTERM, releasing the devices and
// the master lock on the way out.
//
// Usage:
//
//	dwarf-bridge [flags]
//
// Flags:
//
//	-config string      YAML settings profile
//	-host string        Unit address (overrides profile and persisted state)
//	-discover           Locate the unit on the LAN via mDNS
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-protocol-log       Log every protocol packet at debug level
//
// Examples:
//
//	# Connect to a unit in AP mode (192.168.88.1)
//	dwarf-bridge
//
//	# Find a provisioned unit on the home network
//	dwarf-bridge -discover
//
//	# Verbose protocol tracing
//	dwarf-bridge -log-level debug -protocol-log
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/album"
	"github.com/dwarf-protocol/dwarf-go/pkg/config"
	"github.com/dwarf-protocol/dwarf-go/pkg/discovery"
	"github.com/dwarf-protocol/dwarf-go/pkg/httpapi"
	protolog "github.com/dwarf-protocol/dwarf-go/pkg/log"
	"github.com/dwarf-protocol/dwarf-go/pkg/persistence"
	"github.com/dwarf-protocol/dwarf-go/pkg/protocol"
	"github.com/dwarf-protocol/dwarf-go/pkg/session"
	"github.com/dwarf-protocol/dwarf-go/pkg/transport"
)

var (
	flagConfig      = flag.String("config", "", "YAML settings profile")
	flagHost        = flag.String("host", "", "Unit address (overrides profile and persisted state)")
	flagDiscover    = flag.Bool("discover", false, "Locate the unit on the LAN via mDNS")
	flagLogLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flagProtocolLog = flag.Bool("protocol-log", false, "Log every protocol packet at debug level")
)

func main() {
	flag.Parse()

	logger := newLogger(*flagLogLevel)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	settings, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}

	store := persistence.NewStateStore(filepath.Join(settings.StateDirectory, "connectivity.json"))
	resolveHost(&settings, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eventLogger protolog.Logger = protolog.NoopLogger{}
	if *flagProtocolLog {
		eventLogger = protolog.NewSlogAdapter(logger)
	}

	client := protocol.NewClient(protocol.Config{
		Dial: func(ctx context.Context, onPong func(seq uint32)) (transport.Channel, error) {
			return transport.NewWSChannel(transport.WSChannelConfig{
				URL:    settings.WSURL(),
				OnPong: onPong,
			}), nil
		},
		ClientID:       settings.ClientID,
		RequestTimeout: settings.RequestTimeout,
		KeepAlive: transport.KeepAliveConfig{
			PingInterval: settings.PingInterval,
		},
		Logger: eventLogger,
	})
	defer client.Close()

	params := httpapi.NewClient(httpapi.ClientConfig{
		Host:     settings.Host,
		APIPort:  settings.HTTPPort,
		JPEGPort: settings.JPEGPort,
		Logger:   logger,
	})
	captures := album.NewClient(album.ClientConfig{
		Host:         settings.Host,
		Port:         settings.FTPPort,
		Timeout:      settings.FTPTimeout,
		PollInterval: settings.FTPPollInterval,
		Logger:       logger,
	})

	sess := session.New(session.Config{
		Client:                client,
		Params:                params,
		Album:                 captures,
		LockAttempts:          settings.MasterLockAttempts,
		LockInterval:          settings.MasterLockInterval,
		SlewMode:              settings.SlewCommandMode,
		RequireDarks:          !settings.AllowWithoutDarks,
		GoLiveBeforeExposure:  settings.GoLiveBeforeExposure,
		CaptureWaitTimeout:    settings.CaptureWaitTimeout,
		TemperatureInterval:   settings.TemperatureInterval,
		TemperatureStaleAfter: settings.TemperatureStaleAfter,
		Logger:                logger,
	})
	defer sess.Close()

	devices := []session.DeviceKind{
		session.DeviceTelescope,
		session.DeviceCamera,
		session.DeviceFocuser,
		session.DeviceFilterWheel,
	}
	for _, kind := range devices {
		if err := sess.AcquireDevice(ctx, kind); err != nil {
			if recordErr := store.RecordError(err.Error()); recordErr != nil {
				logger.Warn("failed to record error state", "error", recordErr)
			}
			return fmt.Errorf("failed to acquire %s: %w", kind, err)
		}
		logger.Info("device acquired", "device", kind.String())
	}

	logger.Info("bridge running", "host", settings.Host, "client_id", client.ClientID())
	<-ctx.Done()
	logger.Info("shutting down")

	for _, kind := range devices {
		sess.ReleaseDevice(kind)
	}
	return nil
}

// resolveHost picks the unit address: explicit flag, then mDNS
// discovery, then the persisted station IP, then the profile default.
func resolveHost(settings *config.Settings, store *persistence.StateStore, logger *slog.Logger) {
	if *flagHost != "" {
		settings.Host = *flagHost
		return
	}

	if *flagDiscover {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		browser := discovery.NewBrowser(discovery.BrowserConfig{})
		defer browser.Stop()

		unit, err := browser.FindFirst(ctx)
		if err != nil {
			logger.Warn("discovery found no unit", "error", err)
		} else if addr := unit.Addr(); addr != "" {
			logger.Info("unit discovered", "instance", unit.InstanceName, "addr", addr)
			settings.Host = addr
			return
		}
	}

	if state := store.Load(); state.StaIP != "" {
		logger.Info("using persisted station address", "addr", state.StaIP, "ssid", state.SSID)
		settings.Host = state.StaIP
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
