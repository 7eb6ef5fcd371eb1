package discovery

import (
	"errors"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
)

// mDNS service parameters for FieldGate-aware devices.
const (
	// ServiceTypeFieldgate is the service type REST devices advertise.
	ServiceTypeFieldgate = "_fieldgate._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// BrowseTimeout is the default timeout for browse operations.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	// ErrNotFound indicates no device matched within the timeout.
	ErrNotFound = errors.New("device not found")
)

// Source names the probe that found a device.
type Source string

const (
	// SourceMDNS is the mDNS browser.
	SourceMDNS Source = "mdns"

	// SourceBroadcast is the UDP broadcast probe.
	SourceBroadcast Source = "broadcast"

	// SourceScan is the TCP connect probe.
	SourceScan Source = "scan"
)

// DiscoveredDevice is one device found by a probe.
type DiscoveredDevice struct {
	// Protocol is the protocol the device was found on.
	Protocol string

	// Address is the device IP address.
	Address string

	// Port is the port the device answered on.
	Port int

	// Name is the advertised device name, when any.
	Name string

	// VendorID is the vendor identifier, when the probe exposes one.
	VendorID string

	// Model is the model string, when known.
	Model string

	// Firmware is the firmware revision, when known.
	Firmware string

	// Banner is the identification banner, when any.
	Banner string

	// ObjectInstance is the BACnet device object instance, when found by
	// the broadcast probe.
	ObjectInstance uint32

	// ResponseTime is how long the device took to answer the probe.
	ResponseTime time.Duration

	// Source names the probe that found the device.
	Source Source
}

// Features renders the discovery result as fingerprint features.
func (d *DiscoveredDevice) Features() devctx.Features {
	return devctx.Features{
		Protocol:       d.Protocol,
		Port:           d.Port,
		VendorID:       d.VendorID,
		Model:          d.Model,
		Firmware:       d.Firmware,
		Banner:         d.Banner,
		ResponseTiming: devctx.BucketResponseTime(d.ResponseTime),
	}
}
