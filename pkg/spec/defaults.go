package spec

import (
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Well-known default ports.
const (
	PortREST      = 80
	PortModbusTCP = 502
	PortBACnetIP  = 47808
)

// DefaultSpecs returns the built-in protocol specifications.
// These cover the protocols the engine ships capabilities for and serve as
// the baseline when no spec file is provided.
func DefaultSpecs() []*ProtocolSpec {
	return []*ProtocolSpec{
		{
			Name:        "rest",
			Transport:   transport.KindStream,
			DefaultPort: PortREST,
			Discovery:   "mdns",
			Description: "HTTP/JSON device API",
			Timing: Timing{
				ConnectTimeout:    5 * time.Second,
				RequestTimeout:    30 * time.Second,
				RetryCount:        3,
				BackoffInitial:    1 * time.Second,
				BackoffMax:        30 * time.Second,
				BackoffMultiplier: 2.0,
				BackoffJitter:     0.25,
			},
			MaxMessageSize: 1 << 20,
		},
		{
			Name:        "modbus-tcp",
			Transport:   transport.KindStream,
			DefaultPort: PortModbusTCP,
			Discovery:   "scan",
			Description: "Modbus TCP register access",
			Timing: Timing{
				ConnectTimeout:    5 * time.Second,
				RequestTimeout:    2 * time.Second,
				RetryCount:        3,
				BackoffInitial:    250 * time.Millisecond,
				BackoffMax:        5 * time.Second,
				BackoffMultiplier: 2.0,
				BackoffJitter:     0.25,
			},
			MaxMessageSize: 512,
		},
		{
			Name:        "bacnet-ip",
			Transport:   transport.KindDatagram,
			DefaultPort: PortBACnetIP,
			Discovery:   "broadcast",
			Description: "BACnet/IP object property access",
			Timing: Timing{
				ConnectTimeout:    2 * time.Second,
				RequestTimeout:    5 * time.Second,
				RetryCount:        3,
				BackoffInitial:    500 * time.Millisecond,
				BackoffMax:        10 * time.Second,
				BackoffMultiplier: 2.0,
				BackoffJitter:     0.25,
			},
			MaxMessageSize: 1476,
		},
	}
}
