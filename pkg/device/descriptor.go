package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Descriptor errors.
var (
	// ErrUnknownParameter indicates the descriptor has no addressing for
	// a parameter name.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrInvalidDescriptor indicates a descriptor failed validation.
	ErrInvalidDescriptor = errors.New("invalid device descriptor")
)

// ParameterAddress is the protocol-specific addressing of one parameter.
// Only the fields relevant to the device's protocol are set.
type ParameterAddress struct {
	// Endpoint is the HTTP path for REST devices (e.g. "/api/temperature").
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// ObjectType and ObjectInstance address a BACnet object (e.g.
	// "analog-input" instance 1).
	ObjectType     string `json:"object_type,omitempty" yaml:"object_type,omitempty"`
	ObjectInstance uint32 `json:"object_instance,omitempty" yaml:"object_instance,omitempty"`

	// Register and Quantity address a Modbus register block.
	// RegisterType selects the register table ("holding" or "input").
	Register     uint16 `json:"register,omitempty" yaml:"register,omitempty"`
	Quantity     uint16 `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	RegisterType string `json:"register_type,omitempty" yaml:"register_type,omitempty"`

	// NodeID addresses an OPC-UA style node.
	NodeID string `json:"node_id,omitempty" yaml:"node_id,omitempty"`

	// Transform is an optional expression applied to the raw decoded
	// value, with the raw value bound as "value" (e.g. "value / 10").
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	// Unit is the engineering unit reported in readings.
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Writable marks parameters that accept writes.
	Writable bool `json:"writable,omitempty" yaml:"writable,omitempty"`
}

// Descriptor identifies and addresses one managed device.
// Treat as immutable: the registry replaces descriptors rather than
// mutating them, so a descriptor handed to a session never changes
// underneath it.
type Descriptor struct {
	// ID is the registry-assigned device id (UUID).
	ID string `json:"id"`

	// Name is the operator-facing device name.
	Name string `json:"name"`

	// Protocol is the protocol spec name this device speaks.
	Protocol string `json:"protocol"`

	// Address is the device network address (IP or hostname).
	Address string `json:"address"`

	// Port is the device port; zero means the protocol default.
	Port int `json:"port,omitempty"`

	// UnitID is the Modbus unit identifier (0 when not applicable).
	UnitID uint8 `json:"unit_id,omitempty"`

	// Parameters maps parameter names to their addressing.
	Parameters map[string]ParameterAddress `json:"parameters,omitempty"`

	// DocRef optionally references the device documentation used to
	// build this descriptor.
	DocRef string `json:"doc_ref,omitempty"`
}

// Validate checks required descriptor fields.
func (d *Descriptor) Validate() error {
	if d.Protocol == "" {
		return fmt.Errorf("%w: protocol is required", ErrInvalidDescriptor)
	}
	if d.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDescriptor)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	}
	return nil
}

// Endpoint returns the "address:port" key identifying the physical device
// endpoint, using defaultPort when the descriptor leaves the port unset.
// Sessions are serialized per endpoint.
func (d *Descriptor) Endpoint(defaultPort int) string {
	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// Parameter returns the addressing for a parameter name.
func (d *Descriptor) Parameter(name string) (ParameterAddress, error) {
	p, ok := d.Parameters[name]
	if !ok {
		return ParameterAddress{}, fmt.Errorf("%w: %q on device %s", ErrUnknownParameter, name, d.Name)
	}
	return p, nil
}

// clone returns a deep copy of the descriptor.
func (d *Descriptor) clone() *Descriptor {
	out := *d
	if d.Parameters != nil {
		out.Parameters = make(map[string]ParameterAddress, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	return &out
}
