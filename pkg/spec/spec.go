package spec

import (
	"errors"
	"fmt"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Spec errors.
var (
	// ErrSpecNotFound indicates no spec is registered for a protocol name.
	ErrSpecNotFound = errors.New("protocol spec not found")

	// ErrInvalidSpec indicates a spec failed validation on load.
	ErrInvalidSpec = errors.New("invalid protocol spec")
)

// Timing defaults applied during validation.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultRetryCount        = 3
	DefaultBackoffInitial    = 500 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.25
)

// Timing holds the timing and retry parameters of a protocol.
type Timing struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a single request/response exchange.
	RequestTimeout time.Duration

	// RetryCount is the maximum number of attempts (including the first).
	RetryCount int

	// BackoffInitial is the delay before the second attempt.
	BackoffInitial time.Duration

	// BackoffMax caps the backoff delay.
	BackoffMax time.Duration

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64

	// BackoffJitter is the maximum jitter as a fraction of base delay.
	BackoffJitter float64
}

// ProtocolSpec is the declarative description of one protocol.
// Immutable once loaded; shared read-only by all sessions.
type ProtocolSpec struct {
	// Name is the protocol identifier (e.g. "rest", "modbus-tcp").
	Name string

	// Transport is the transport kind the protocol runs over.
	Transport transport.Kind

	// DefaultPort is used when a device descriptor leaves the port unset.
	DefaultPort int

	// Discovery names the discovery method ("mdns", "broadcast", "scan").
	Discovery string

	// Timing holds timeout and retry parameters.
	Timing Timing

	// MaxMessageSize caps response sizes (0 means transport default).
	MaxMessageSize uint32

	// Description is free-form documentation for operators.
	Description string
}

// Validate checks required fields and fills timing defaults.
func (s *ProtocolSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.DefaultPort <= 0 || s.DefaultPort > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidSpec, s.Name, s.DefaultPort)
	}
	if s.Timing.ConnectTimeout == 0 {
		s.Timing.ConnectTimeout = DefaultConnectTimeout
	}
	if s.Timing.RequestTimeout == 0 {
		s.Timing.RequestTimeout = DefaultRequestTimeout
	}
	if s.Timing.RetryCount <= 0 {
		s.Timing.RetryCount = DefaultRetryCount
	}
	if s.Timing.BackoffInitial == 0 {
		s.Timing.BackoffInitial = DefaultBackoffInitial
	}
	if s.Timing.BackoffMax == 0 {
		s.Timing.BackoffMax = DefaultBackoffMax
	}
	if s.Timing.BackoffMax < s.Timing.BackoffInitial {
		return fmt.Errorf("%w: %s: backoff max < initial", ErrInvalidSpec, s.Name)
	}
	if s.Timing.BackoffMultiplier == 0 {
		s.Timing.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if s.Timing.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: %s: backoff multiplier < 1", ErrInvalidSpec, s.Name)
	}
	if s.Timing.BackoffJitter < 0 {
		return fmt.Errorf("%w: %s: negative jitter", ErrInvalidSpec, s.Name)
	}
	return nil
}

// SessionDeadline returns the overall deadline budget for one session:
// connect timeout plus retryCount x (request timeout + max backoff).
func (s *ProtocolSpec) SessionDeadline() time.Duration {
	t := s.Timing
	return t.ConnectTimeout + time.Duration(t.RetryCount)*(t.RequestTimeout+t.BackoffMax)
}
