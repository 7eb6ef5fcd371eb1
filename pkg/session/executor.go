package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/metric"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/protocol"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Config configures an Executor.
type Config struct {
	// Specs resolves protocol names to timing and transport parameters.
	Specs *spec.Registry

	// Protocols resolves protocol names to capabilities.
	Protocols *protocol.Registry

	// Transports resolves transport kinds to implementations.
	Transports *transport.Registry

	// Policy is the endpoint lock admission policy (default: PolicyQueue).
	Policy AdmissionPolicy

	// Logger receives session events (default: NoopLogger).
	Logger log.Logger

	// Metrics receives session counters; nil disables metrics.
	Metrics *metric.Metrics
}

// Executor drives read/write operations against devices, one serialized
// session per device endpoint. Safe for concurrent use; invocations
// against different endpoints proceed independently.
type Executor struct {
	specs      *spec.Registry
	protocols  *protocol.Registry
	transports *transport.Registry
	policy     AdmissionPolicy
	logger     log.Logger
	metrics    *metric.Metrics
	locks      *Locks
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Executor{
		specs:      cfg.Specs,
		protocols:  cfg.Protocols,
		transports: cfg.Transports,
		policy:     cfg.Policy,
		logger:     logger,
		metrics:    cfg.Metrics,
		locks:      NewLocks(),
	}
}

// Execute performs one operation against the device described by desc.
//
// The protocol spec and capability are resolved first and fail fast with
// ErrUnknownProtocol. The per-endpoint lock serializes physical sessions.
// Transient transport errors and retryable device errors are retried with
// exponential backoff up to the spec's retry count; fatal device errors
// return immediately as ErrDeviceRejected, undecodable responses as
// ErrDecodeError. Exhausted retries or an expired session deadline return
// ErrUnreachable. Failures are always *ExecutionError values carrying the
// attempt log.
func (e *Executor) Execute(ctx context.Context, desc *device.Descriptor, op protocol.Operation) (*protocol.Reading, error) {
	started := time.Now()

	ps, err := e.specs.Lookup(desc.Protocol)
	if err != nil {
		return nil, e.fail(desc, nil, ErrUnknownProtocol, err, started)
	}
	capability, err := e.protocols.Lookup(desc.Protocol)
	if err != nil {
		return nil, e.fail(desc, nil, ErrUnknownProtocol, err, started)
	}
	tr, err := e.transports.Lookup(ps.Transport)
	if err != nil {
		return nil, e.fail(desc, nil, ErrUnknownProtocol, err, started)
	}

	ex, err := e.encode(capability, desc, op)
	if err != nil {
		return nil, err
	}

	// Overall session budget: connect + retries x (request + max backoff).
	ctx, cancel := context.WithTimeout(ctx, ps.SessionDeadline())
	defer cancel()

	endpoint := desc.Endpoint(ps.DefaultPort)
	if err := e.locks.Acquire(ctx, endpoint, ps.Timing.RequestTimeout, e.policy); err != nil {
		e.metrics.LockReject()
		return nil, e.fail(desc, nil, ErrBusy, err, started)
	}
	defer e.locks.Release(endpoint)

	backoff := NewBackoff(ps.Timing)
	attempts := make([]Attempt, 0, ps.Timing.RetryCount)
	var lastErr error

	for number := 1; number <= ps.Timing.RetryCount; number++ {
		attempt := Attempt{Number: number, StartedAt: time.Now()}

		response, err := e.runAttempt(ctx, tr, ps, ex, endpoint)
		attempt.Latency = time.Since(attempt.StartedAt)

		if err == nil {
			reading, decodeErr := capability.Decode(ex, response)
			if decodeErr == nil {
				attempt.Outcome = OutcomeSuccess
				attempts = append(attempts, attempt)
				e.logAttempt(desc, endpoint, attempt)
				e.metrics.Attempt(desc.Protocol, metric.OutcomeSuccess)
				e.metrics.Session(desc.Protocol, metric.OutcomeSuccess, time.Since(started))

				reading.Timestamp = time.Now()
				reading.Latency = time.Since(started)
				return reading, nil
			}

			var devErr *protocol.DeviceError
			if errors.As(decodeErr, &devErr) {
				if capability.Classify(devErr) == protocol.ClassRetryable {
					err = devErr
				} else {
					attempt.Outcome = OutcomeFatal
					attempt.Err = devErr
					attempts = append(attempts, attempt)
					e.logAttempt(desc, endpoint, attempt)
					e.metrics.Attempt(desc.Protocol, metric.OutcomeFatal)
					return nil, e.fail(desc, attempts, ErrDeviceRejected, devErr, started)
				}
			} else {
				attempt.Outcome = OutcomeFatal
				attempt.Err = decodeErr
				attempts = append(attempts, attempt)
				e.logAttempt(desc, endpoint, attempt)
				e.metrics.Attempt(desc.Protocol, metric.OutcomeFatal)
				return nil, e.fail(desc, attempts, ErrDecodeError, decodeErr, started)
			}
		} else if !isTransient(err) {
			attempt.Outcome = OutcomeFatal
			attempt.Err = err
			attempts = append(attempts, attempt)
			e.logAttempt(desc, endpoint, attempt)
			e.metrics.Attempt(desc.Protocol, metric.OutcomeFatal)
			return nil, e.fail(desc, attempts, ErrUnreachable, err, started)
		}

		attempt.Outcome = OutcomeTransient
		attempt.Err = err
		lastErr = err

		if number < ps.Timing.RetryCount {
			attempt.Backoff = backoff.Next()
		}
		attempts = append(attempts, attempt)
		e.logAttempt(desc, endpoint, attempt)
		e.metrics.Attempt(desc.Protocol, metric.OutcomeTransient)

		if number == ps.Timing.RetryCount {
			break
		}
		select {
		case <-time.After(attempt.Backoff):
		case <-ctx.Done():
			return nil, e.fail(desc, attempts, ErrUnreachable, fmt.Errorf("session deadline: %w", ctx.Err()), started)
		}
	}

	return nil, e.fail(desc, attempts, ErrUnreachable, lastErr, started)
}

// encode builds the wire exchange for the operation.
func (e *Executor) encode(capability protocol.Capability, desc *device.Descriptor, op protocol.Operation) (*protocol.Exchange, error) {
	switch op.Kind {
	case protocol.OpRead:
		return capability.EncodeRead(desc, op.Parameter)
	case protocol.OpWrite:
		return capability.EncodeWrite(desc, op.Parameter, op.Value)
	default:
		return nil, fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}

// runAttempt opens the transport, exchanges the request and closes the
// connection. Capabilities in this engine never reuse connections across
// attempts. A supervising goroutine closes the connection when the
// session deadline expires so in-flight exchanges abort.
func (e *Executor) runAttempt(ctx context.Context, tr transport.Transport, ps *spec.ProtocolSpec, ex *protocol.Exchange, endpoint string) ([]byte, error) {
	opts := transport.Options{
		ConnectTimeout:   ps.Timing.ConnectTimeout,
		MaxMessageSize:   ps.MaxMessageSize,
		ResponseComplete: ex.Complete,
	}

	conn, err := tr.Open(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return conn.Exchange(ex.Payload, ps.Timing.RequestTimeout)
}

// fail builds the ExecutionError and records terminal telemetry.
func (e *Executor) fail(desc *device.Descriptor, attempts []Attempt, kind, cause error, started time.Time) error {
	execErr := &ExecutionError{
		Kind:     kind,
		Protocol: desc.Protocol,
		DeviceID: desc.ID,
		Attempts: attempts,
		Err:      cause,
	}

	e.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Protocol:  desc.Protocol,
		DeviceID:  desc.ID,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: execErr.Error(),
		},
	})
	e.metrics.Session(desc.Protocol, outcomeLabel(kind), time.Since(started))

	return execErr
}

// logAttempt emits one attempt event.
func (e *Executor) logAttempt(desc *device.Descriptor, endpoint string, a Attempt) {
	event := log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionNone,
		Layer:      log.LayerSession,
		Category:   log.CategoryAttempt,
		Protocol:   desc.Protocol,
		DeviceID:   desc.ID,
		RemoteAddr: endpoint,
		Attempt: &log.AttemptEvent{
			Number:  a.Number,
			Outcome: a.Outcome.String(),
			Latency: a.Latency,
			Backoff: a.Backoff,
		},
	}
	if a.Err != nil {
		event.Attempt.Detail = a.Err.Error()
	}
	e.logger.Log(event)
}

// outcomeLabel maps a failure kind to a metrics outcome label.
func outcomeLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrUnreachable), errors.Is(kind, ErrBusy):
		return metric.OutcomeTransient
	default:
		return metric.OutcomeFatal
	}
}
