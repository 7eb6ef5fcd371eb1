package session

import "time"

// Outcome classifies one attempt.
type Outcome uint8

const (
	// OutcomeSuccess is a decoded success response.
	OutcomeSuccess Outcome = iota

	// OutcomeTransient is a transport failure or retryable device error.
	OutcomeTransient

	// OutcomeFatal is a fatal device error or undecodable response.
	OutcomeFatal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Attempt records one attempt within a session. The log is scoped to a
// single Execute invocation and is carried in the ExecutionError for
// diagnostics; it is never persisted.
type Attempt struct {
	// Number is the 1-based attempt number.
	Number int

	// StartedAt is when the attempt began.
	StartedAt time.Time

	// Latency is how long the attempt took.
	Latency time.Duration

	// Outcome classifies the attempt.
	Outcome Outcome

	// Backoff is the delay applied after this attempt, if any.
	Backoff time.Duration

	// Err is the attempt's error, nil on success.
	Err error
}
