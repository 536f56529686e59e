package main

import (
	"fmt"

	"github.com/dwarf-protocol/dwarf-go/pkg/provisioning"
)

// openTransport returns the BLE radio for the given adapter. Radio and
// GATT access is platform-specific and kept out of the core packages;
// a platform port supplies its provisioning.Transport by replacing this
// function at build time.
var openTransport = func(adapter string) (provisioning.Transport, error) {
	return nil, fmt.Errorf("no BLE radio linked into this build (adapter %q)", adapter)
}
