package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS parameters of the firmware's announcement.
const (
	ServiceType = "_dwarf._tcp"
	Domain      = "local."

	// instancePrefix filters out unrelated services that answer the
	// same query on noisy networks.
	instancePrefix = "DWARF"
)

// ErrNotFound indicates no unit announced itself before the deadline.
var ErrNotFound = errors.New("no dwarf unit found")

// ServiceEntry is a raw mDNS answer, decoupled from the zeroconf types
// so conversion stays testable.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Addrs    []string
}

// ToUnit converts a raw entry to a Unit, or nil when the entry is not a
// DWARF announcement or carries no addresses.
func (e *ServiceEntry) ToUnit() *Unit {
	if !strings.HasPrefix(strings.ToUpper(e.Instance), instancePrefix) {
		return nil
	}
	if len(e.Addrs) == 0 {
		return nil
	}
	return &Unit{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    e.Addrs,
	}
}

// Unit is one announced DWARF on the network.
type Unit struct {
	// InstanceName is the advertised instance, e.g. "DWARF3-1A2B".
	InstanceName string

	// Host is the mDNS hostname.
	Host string

	// Port is the advertised command channel port.
	Port uint16

	// Addresses holds the unit's IPs, aggregated across interfaces.
	Addresses []string
}

// Addr returns the unit's first address, or "".
func (u *Unit) Addr() string {
	if len(u.Addresses) == 0 {
		return ""
	}
	return u.Addresses[0]
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface by name.
	// Empty means all interfaces.
	Interface string
}

// Browser finds DWARF units via mDNS.
type Browser struct {
	config BrowserConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewBrowser creates an mDNS browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse streams units as they announce themselves, until ctx ends.
// Addresses seen on multiple interfaces are merged into one entry; each
// instance is emitted once.
func (b *Browser) Browse(ctx context.Context) (<-chan *Unit, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	out := make(chan *Unit)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		units := make(map[string]*Unit)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				unit := toServiceEntry(entry).ToUnit()
				if unit == nil {
					continue
				}

				existing, found := units[unit.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, unit.Addresses)
					continue
				}
				units[unit.InstanceName] = unit
				select {
				case out <- unit:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				gone := toServiceEntry(entry)
				if existing, found := units[gone.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, gone.Addrs)
					if len(existing.Addresses) == 0 {
						delete(units, gone.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}()

	return out, nil
}

// FindFirst returns the first unit that announces itself, or ErrNotFound
// when ctx expires. Bound ctx with a deadline.
func (b *Browser) FindFirst(ctx context.Context) (*Unit, error) {
	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case unit, ok := <-results:
		if !ok {
			return nil, ErrNotFound
		}
		return unit, nil
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

// Stop cancels any active browse.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func toServiceEntry(entry *zeroconf.ServiceEntry) *ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Addrs:    addrs,
	}
}

// mergeAddresses adds new addresses, avoiding duplicates.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses a disappearing entry carried.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
