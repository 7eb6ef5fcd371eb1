package discovery

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures the mDNS browser.
type BrowserConfig struct {
	// Interface selects one network interface by name.
	// Empty string means all interfaces.
	Interface string
}

// MDNSBrowser finds REST devices advertising the FieldGate service type.
type MDNSBrowser struct {
	config BrowserConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMDNSBrowser creates an mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse searches for FieldGate devices until the context is cancelled.
// Results are aggregated by instance name: addresses seen on multiple
// interfaces merge into a single entry, and each instance is emitted once.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *DiscoveredDevice, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	out := make(chan *DiscoveredDevice)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string][]string) // instance -> addresses

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				dev := entryToDevice(entry)
				if dev == nil {
					continue
				}

				if addrs, found := seen[entry.Instance]; found {
					seen[entry.Instance] = mergeAddresses(addrs, entryAddresses(entry))
					continue
				}
				seen[entry.Instance] = entryAddresses(entry)

				select {
				case out <- dev:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceTypeFieldgate, Domain, entries, removed, b.browserOptions()...)
	}()

	return out, nil
}

// Stop cancels any active browse.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToDevice converts a zeroconf entry to a DiscoveredDevice.
func entryToDevice(entry *zeroconf.ServiceEntry) *DiscoveredDevice {
	addrs := entryAddresses(entry)
	if len(addrs) == 0 {
		return nil
	}

	txt := parseTXT(entry.Text)
	return &DiscoveredDevice{
		Protocol: "rest",
		Address:  addrs[0],
		Port:     entry.Port,
		Name:     entry.Instance,
		VendorID: txt["vendor"],
		Model:    txt["model"],
		Firmware: txt["fw"],
		Banner:   txt["banner"],
		Source:   SourceMDNS,
	}
}

// entryAddresses collects IPv4 then IPv6 addresses from an entry.
func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// parseTXT parses key=value TXT records.
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		key, value, found := strings.Cut(rec, "=")
		if found && key != "" {
			out[key] = value
		}
	}
	return out
}

// mergeAddresses adds new addresses to an existing list, avoiding duplicates.
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
