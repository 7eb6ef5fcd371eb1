package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
)

// Who-Is probe wire constants.
const (
	bvlcType             = 0x81
	bvlcOriginalBroadcast = 0x0B
	npduVersion          = 0x01
	apduUnconfirmed      = 0x10
	serviceWhoIs         = 0x08
	serviceIAm           = 0x00
)

// DefaultProbeTimeout bounds one probe round.
const DefaultProbeTimeout = 3 * time.Second

// BroadcastProbe finds BACnet/IP devices with a Who-Is broadcast and
// collects the I-Am responses.
type BroadcastProbe struct {
	// Port is the UDP port to probe (default: the BACnet/IP port).
	Port int

	// Timeout bounds the listen window (default: 3s).
	Timeout time.Duration
}

// Run broadcasts Who-Is and returns the devices that answered.
func (p *BroadcastProbe) Run(ctx context.Context, network string) ([]*DiscoveredDevice, error) {
	port := p.Port
	if port == 0 {
		port = spec.PortBACnetIP
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open probe socket: %w", err)
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(network, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast address: %w", err)
	}

	sentAt := time.Now()
	if _, err := conn.WriteTo(whoIsFrame(), dest); err != nil {
		return nil, fmt.Errorf("failed to send who-is: %w", err)
	}

	deadline := sentAt.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var devices []*DiscoveredDevice
	seen := make(map[string]bool)
	buf := make([]byte, 1500)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return devices, nil
			}
			return devices, err
		}

		dev := parseIAm(buf[:n])
		if dev == nil {
			continue
		}

		host, _, err := net.SplitHostPort(from.String())
		if err != nil {
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true

		dev.Address = host
		dev.Port = port
		dev.ResponseTime = time.Since(sentAt)
		devices = append(devices, dev)
	}
}

// whoIsFrame builds an unbounded Who-Is request.
func whoIsFrame() []byte {
	apdu := []byte{apduUnconfirmed, serviceWhoIs}
	npdu := []byte{npduVersion, 0x00}
	total := 4 + len(npdu) + len(apdu)

	frame := make([]byte, 0, total)
	frame = append(frame, bvlcType, bvlcOriginalBroadcast)
	frame = binary.BigEndian.AppendUint16(frame, uint16(total))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)
	return frame
}

// parseIAm extracts device identity from an I-Am response, or nil if the
// frame is not a well-formed I-Am.
func parseIAm(frame []byte) *DiscoveredDevice {
	if len(frame) < 6 || frame[0] != bvlcType || frame[4] != npduVersion {
		return nil
	}
	apdu := frame[6:]
	if len(apdu) < 7 || apdu[0] != apduUnconfirmed || apdu[1] != serviceIAm {
		return nil
	}

	// Object identifier: application tag 12, length 4.
	if apdu[2] != 0xC4 {
		return nil
	}
	objectID := binary.BigEndian.Uint32(apdu[3:7])
	instance := objectID & 0x3FFFFF

	// Vendor id is the last application-tagged unsigned in the I-Am body:
	// object id, max APDU, segmentation, vendor id.
	vendorID := ""
	rest := apdu[7:]
	for len(rest) > 0 {
		tag := rest[0] >> 4
		length := int(rest[0] & 0x07)
		if len(rest) < 1+length {
			break
		}
		if tag == 0x2 { // unsigned
			var v uint64
			for _, b := range rest[1 : 1+length] {
				v = v<<8 | uint64(b)
			}
			vendorID = strconv.FormatUint(v, 10)
		}
		rest = rest[1+length:]
	}

	return &DiscoveredDevice{
		Protocol:       "bacnet-ip",
		ObjectInstance: instance,
		VendorID:       vendorID,
		Source:         SourceBroadcast,
	}
}

// ScanProbe checks a list of hosts for an open TCP port, the discovery
// method for protocols without an announcement mechanism such as
// Modbus TCP.
type ScanProbe struct {
	// Port is the TCP port to probe (default: the Modbus TCP port).
	Port int

	// Timeout bounds one connect attempt (default: 3s).
	Timeout time.Duration

	// Protocol names the protocol the port implies (default: "modbus-tcp").
	Protocol string
}

// Run probes each host and returns those with the port open.
func (p *ScanProbe) Run(ctx context.Context, hosts []string) []*DiscoveredDevice {
	port := p.Port
	if port == 0 {
		port = spec.PortModbusTCP
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	protocol := p.Protocol
	if protocol == "" {
		protocol = "modbus-tcp"
	}

	dialer := &net.Dialer{Timeout: timeout}
	var devices []*DiscoveredDevice

	for _, host := range hosts {
		if ctx.Err() != nil {
			return devices
		}

		started := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		conn.Close()

		devices = append(devices, &DiscoveredDevice{
			Protocol:     protocol,
			Address:      host,
			Port:         port,
			ResponseTime: time.Since(started),
			Source:       SourceScan,
		})
	}
	return devices
}
