package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Session failure kinds. ExecutionError wraps exactly one of these, so
// callers classify failures with errors.Is.
var (
	// ErrUnknownProtocol indicates no spec or capability is registered for
	// the descriptor's protocol. Caller error, never retried.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrBusy indicates the endpoint lock could not be acquired within the
	// admission bound.
	ErrBusy = errors.New("device endpoint busy")

	// ErrUnreachable indicates all attempts failed with transport-level
	// errors or the session deadline expired.
	ErrUnreachable = errors.New("device unreachable")

	// ErrDeviceRejected indicates the device answered with a fatal
	// protocol-level error.
	ErrDeviceRejected = errors.New("device rejected operation")

	// ErrDecodeError indicates the device answered but the response could
	// not be decoded.
	ErrDecodeError = errors.New("response decode failed")
)

// ExecutionError is the structured failure of one session execution.
type ExecutionError struct {
	// Kind is the failure classification sentinel.
	Kind error

	// Protocol is the protocol that was being executed.
	Protocol string

	// DeviceID is the device identifier, when known.
	DeviceID string

	// Attempts is the session-scoped attempt log.
	Attempts []Attempt

	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Protocol, e.Kind, len(e.Attempts), e.Err)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s)", e.Protocol, e.Kind, len(e.Attempts))
}

// Unwrap exposes both the kind sentinel and the underlying error to
// errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// isTransient reports whether a transport-level error is worth retrying:
// timeouts, refused or reset connections, and missing responses.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, transport.ErrNoResponse) || errors.Is(err, transport.ErrConnectionClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
