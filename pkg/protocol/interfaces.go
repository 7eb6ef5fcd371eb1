package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Protocol layer errors.
var (
	// ErrCapabilityNotFound indicates no capability is registered for a
	// protocol name.
	ErrCapabilityNotFound = errors.New("protocol capability not found")

	// ErrMalformedResponse indicates a response that could not be decoded.
	// Malformed responses are fatal for the attempt, never a best-effort
	// Reading.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNotWritable indicates a write to a read-only parameter.
	ErrNotWritable = errors.New("parameter is not writable")
)

// OpKind is the kind of an operation.
type OpKind uint8

const (
	// OpRead reads a parameter value.
	OpRead OpKind = iota
	// OpWrite writes a parameter value.
	OpWrite
)

// String returns the operation kind name.
func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Operation is one read or write request against a device parameter.
// Transient: one per request.
type Operation struct {
	// Kind selects read or write.
	Kind OpKind

	// Parameter is the parameter name in the device descriptor.
	Parameter string

	// Value is the value to write (writes only).
	Value any
}

// Reading is the canonical, protocol-agnostic result of a successful
// operation.
type Reading struct {
	// Parameter is the parameter name that was read or written.
	Parameter string `json:"parameter"`

	// Value is the decoded value.
	Value any `json:"value"`

	// Unit is the engineering unit, when known.
	Unit string `json:"unit,omitempty"`

	// Timestamp is when the session produced the reading.
	Timestamp time.Time `json:"timestamp"`

	// Protocol is the source protocol name.
	Protocol string `json:"protocol"`

	// Latency is the end-to-end session duration.
	Latency time.Duration `json:"latency"`
}

// Class classifies a protocol-level error for retry purposes.
type Class uint8

const (
	// ClassRetryable errors (device busy, transient rejection) follow the
	// session backoff path.
	ClassRetryable Class = iota

	// ClassFatal errors (unknown object, invalid register) are returned
	// immediately without retrying.
	ClassFatal
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DeviceError is a well-formed protocol-level error response decoded from
// the device.
type DeviceError struct {
	// Protocol is the protocol that produced the error.
	Protocol string

	// Code is the protocol-specific error code (e.g. "exception-6",
	// "http-503", "reject-other").
	Code string

	// Detail is a human-readable description.
	Detail string

	// Temporary marks errors worth retrying (device busy and similar).
	Temporary bool
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device error %s: %s", e.Protocol, e.Code, e.Detail)
}

// Exchange is one encoded request plus the context needed to decode its
// response.
type Exchange struct {
	// Payload is the wire request.
	Payload []byte

	// Complete delimits the response on raw stream transports.
	// Nil means read until the peer closes the connection.
	Complete transport.CompleteFunc

	// Operation is the operation this exchange performs.
	Operation Operation

	// Param is the parameter addressing in use.
	Param device.ParameterAddress

	// Meta carries capability-private state (transaction ids and such).
	Meta any
}

// Capability encodes and decodes one protocol, built on top of a transport
// kind. Implementations must be safe for concurrent use.
type Capability interface {
	// Name returns the protocol name (matches the protocol spec name).
	Name() string

	// TransportKind returns the transport kind the protocol runs over.
	TransportKind() transport.Kind

	// EncodeRead builds the wire exchange reading parameter from the device.
	EncodeRead(desc *device.Descriptor, parameter string) (*Exchange, error)

	// EncodeWrite builds the wire exchange writing value to parameter.
	EncodeWrite(desc *device.Descriptor, parameter string, value any) (*Exchange, error)

	// Decode parses the response into a Reading, or returns a
	// *DeviceError for well-formed protocol errors, or an error wrapping
	// ErrMalformedResponse for undecodable responses.
	Decode(ex *Exchange, response []byte) (*Reading, error)

	// Classify reports whether a protocol-level error is worth retrying.
	Classify(err error) Class
}

// Registry maps protocol names to capabilities.
// Registration happens at startup; lookups are concurrent-safe.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Capability
}

// NewRegistry creates a registry holding the given capabilities.
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{byName: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		r.byName[c.Name()] = c
	}
	return r
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[c.Name()] = c
}

// Lookup returns the capability for a protocol name.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCapabilityNotFound, name)
	}
	return c, nil
}

// Names returns the registered protocol names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile-time interface satisfaction checks.
var (
	_ Capability = (*RESTCapability)(nil)
	_ Capability = (*ModbusCapability)(nil)
	_ Capability = (*BACnetCapability)(nil)
)
