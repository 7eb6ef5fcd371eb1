package log

import (
	"time"
)

// Event represents an engine log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Protocol is the protocol name driving the session, if known.
	Protocol string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the device identifier, if known.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Attempt     *AttemptEvent     `cbor:"11,keyasint,omitempty"` // Session attempts
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session state
	Cache       *CacheEvent       `cbor:"13,keyasint,omitempty"` // Context cache
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone indicates an event with no message flow.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which engine layer captured the event.
type Layer uint8

const (
	// LayerTransport is the byte-moving layer (frames, datagrams).
	LayerTransport Layer = 0
	// LayerSession is the session executor layer (attempts, retries).
	LayerSession Layer = 1
	// LayerContext is the fingerprint/context cache layer.
	LayerContext Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerContext:
		return "CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a wire message (request/response).
	CategoryMessage Category = 0
	// CategoryAttempt indicates a session attempt outcome.
	CategoryAttempt Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryCache indicates context cache activity.
	CategoryCache Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryAttempt:
		return "ATTEMPT"
	case CategoryState:
		return "STATE"
	case CategoryCache:
		return "CACHE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a transport-layer frame or datagram.
type FrameEvent struct {
	// Size is the total wire size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the payload, possibly truncated for large frames.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut to the capture limit.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// AttemptEvent captures the outcome of one session attempt.
type AttemptEvent struct {
	// Number is the 1-based attempt number within the session.
	Number int `cbor:"1,keyasint"`

	// Outcome is the attempt outcome name (success, transient, fatal).
	Outcome string `cbor:"2,keyasint"`

	// Latency is how long the attempt took.
	Latency time.Duration `cbor:"3,keyasint,omitempty"`

	// Backoff is the delay applied before the next attempt, if any.
	Backoff time.Duration `cbor:"4,keyasint,omitempty"`

	// Detail carries the error text for failed attempts.
	Detail string `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures a session state transition.
type StateChangeEvent struct {
	// OldState is the previous state name.
	OldState string `cbor:"1,keyasint"`

	// NewState is the new state name.
	NewState string `cbor:"2,keyasint"`

	// Reason describes why the transition happened.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// CacheEvent captures context cache activity.
type CacheEvent struct {
	// Fingerprint is the cache key involved.
	Fingerprint string `cbor:"1,keyasint"`

	// Result names the cache outcome (hit, miss, stale, evicted, resolved).
	Result string `cbor:"2,keyasint"`

	// Confidence is the record confidence, when a record was involved.
	Confidence float64 `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Raw holds raw bytes relevant to the failure (e.g. an undecodable
	// response), possibly truncated.
	Raw []byte `cbor:"3,keyasint,omitempty"`
}
