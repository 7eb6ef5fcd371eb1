package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
)

// Backoff calculates exponential retry delays with jitter, parameterized
// by a protocol spec's timing block. One Backoff belongs to one session
// execution.
type Backoff struct {
	mu sync.Mutex

	// Current backoff delay (before jitter)
	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator from the spec timing. Zero or
// out-of-range fields fall back to the registry defaults, matching what
// spec validation would have filled.
func NewBackoff(t spec.Timing) *Backoff {
	if t.BackoffInitial <= 0 {
		t.BackoffInitial = spec.DefaultBackoffInitial
	}
	if t.BackoffMax <= 0 {
		t.BackoffMax = spec.DefaultBackoffMax
	}
	if t.BackoffMultiplier <= 1 {
		t.BackoffMultiplier = spec.DefaultBackoffMultiplier
	}
	if t.BackoffJitter < 0 {
		t.BackoffJitter = 0
	}

	return &Backoff{
		current:    t.BackoffInitial,
		initial:    t.BackoffInitial,
		max:        t.BackoffMax,
		multiplier: t.BackoffMultiplier,
		jitter:     t.BackoffJitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Peek returns the current backoff delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.current)
}

// Reset resets the backoff to its initial value.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// addJitter adds random jitter to a delay.
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	jitterAmount := time.Duration(float64(d) * b.jitter * b.rng.Float64())
	return d + jitterAmount
}
