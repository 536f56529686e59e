// Command dwarf-provision onboards a DWARF unit onto a Wi-Fi network
// over BLE.
//
// The workflow scans for nearby units, connects, authenticates with the
// BLE password, pushes the station credentials and waits for the unit to
// report its station IP. A successful run is persisted so dwarf-bridge
// can reach the unit on the home network without discovery.
//
// Usage:
//
//	dwarf-provision [flags]
//
// Flags:
//
//	-config string        YAML settings profile
//	-ssid string          Network SSID (prompted when omitted)
//	-password string      Network password (prompted when omitted)
//	-ble-password string  BLE pairing password (default from profile)
//	-device string        Unit name to provision (default: first found)
//	-list                 List the Wi-Fi networks the unit can see, then exit
//
// Examples:
//
//	# Interactive provisioning
//	dwarf-provision
//
//	# Non-interactive
//	dwarf-provision -ssid homenet -password hunter2
//
//	# Show what the unit can see
//	dwarf-provision -list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/dwarf-protocol/dwarf-go/pkg/config"
	"github.com/dwarf-protocol/dwarf-go/pkg/persistence"
	"github.com/dwarf-protocol/dwarf-go/pkg/provisioning"
)

var (
	flagConfig      = flag.String("config", "", "YAML settings profile")
	flagSSID        = flag.String("ssid", "", "Network SSID (prompted when omitted)")
	flagPassword    = flag.String("password", "", "Network password (prompted when omitted)")
	flagBLEPassword = flag.String("ble-password", "", "BLE pairing password")
	flagDevice      = flag.String("device", "", "Unit name to provision (default: first found)")
	flagList        = flag.Bool("list", false, "List the Wi-Fi networks the unit can see, then exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dwarf-provision: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}

	blePassword := settings.BLEPassword
	if *flagBLEPassword != "" {
		blePassword = *flagBLEPassword
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	radio, err := openTransport(settings.BLEAdapter)
	if err != nil {
		return err
	}

	provisionConfig := provisioning.Config{
		BLEPassword: blePassword,
		DeviceID:    *flagDevice,
		JoinTimeout: settings.ProvisioningTimeout,
		OnStatus:    printStatus,
	}

	if *flagList {
		networks, err := provisioning.WifiList(ctx, radio, provisionConfig)
		if err != nil {
			return err
		}
		fmt.Println("Networks visible to the unit:")
		for _, ssid := range networks {
			fmt.Printf("  %s\n", ssid)
		}
		return nil
	}

	ssid, password, err := credentials()
	if err != nil {
		return err
	}
	provisionConfig.SSID = ssid
	provisionConfig.Password = password

	store := persistence.NewStateStore(filepath.Join(settings.StateDirectory, "connectivity.json"))

	result, err := provisioning.NewSession(radio, provisionConfig).Run(ctx)
	if err != nil {
		if recordErr := store.RecordError(err.Error()); recordErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record error state: %v\n", recordErr)
		}
		var failed *provisioning.FailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("provisioning failed (%s): %w", failed.Reason, err)
		}
		return err
	}

	if err := store.RecordProvisioned(result.SSID, password, result.StaIP); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist result: %v\n", err)
	}

	fmt.Printf("\nUnit %q joined %q with address %s\n", result.Device.Name, result.SSID, result.StaIP)
	fmt.Println("Run dwarf-bridge to connect.")
	return nil
}

// credentials returns the SSID and password, prompting interactively
// for whichever was not passed as a flag.
func credentials() (string, string, error) {
	ssid := strings.TrimSpace(*flagSSID)
	password := *flagPassword
	if ssid != "" && password != "" {
		return ssid, password, nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ssid> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create prompt: %w", err)
	}
	defer rl.Close()

	for ssid == "" {
		line, err := rl.Readline()
		if err != nil {
			return "", "", fmt.Errorf("aborted: %w", err)
		}
		ssid = strings.TrimSpace(line)
	}

	for password == "" {
		secret, err := rl.ReadPassword(fmt.Sprintf("password for %q: ", ssid))
		if err != nil {
			return "", "", fmt.Errorf("aborted: %w", err)
		}
		password = string(secret)
	}

	return ssid, password, nil
}

func printStatus(status provisioning.Status) {
	if status.Message != "" {
		fmt.Printf("[%s] %s\n", status.State, status.Message)
		return
	}
	fmt.Printf("[%s]\n", status.State)
}
