package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AdmissionPolicy controls what happens when the endpoint lock is held.
type AdmissionPolicy uint8

const (
	// PolicyQueue waits in FIFO order, bounded by the spec request timeout.
	PolicyQueue AdmissionPolicy = iota

	// PolicyReject returns ErrBusy immediately when the lock is held.
	PolicyReject
)

// endpointLock is one endpoint's serialization state.
type endpointLock struct {
	held    bool
	waiters []chan struct{}
}

// Locks serializes sessions per device endpoint. Many industrial endpoints
// refuse concurrent sessions, so at most one connection per endpoint is
// open at a time. The map is sized to live endpoints: entries disappear
// when the last holder releases with no waiters queued.
type Locks struct {
	mu        sync.Mutex
	endpoints map[string]*endpointLock
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{endpoints: make(map[string]*endpointLock)}
}

// Acquire takes the endpoint lock. A free lock is granted immediately.
// A held lock either queues the caller in FIFO order bounded by maxWait,
// or fails with ErrBusy under PolicyReject. Context cancellation also
// abandons the wait.
func (l *Locks) Acquire(ctx context.Context, endpoint string, maxWait time.Duration, policy AdmissionPolicy) error {
	l.mu.Lock()
	el := l.endpoints[endpoint]
	if el == nil {
		el = &endpointLock{}
		l.endpoints[endpoint] = el
	}
	if !el.held {
		el.held = true
		l.mu.Unlock()
		return nil
	}
	if policy == PolicyReject {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, endpoint)
	}

	ch := make(chan struct{})
	el.waiters = append(el.waiters, ch)
	l.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		l.abandon(endpoint, ch)
		return fmt.Errorf("%w: %s: lock wait exceeded %s", ErrBusy, endpoint, maxWait)
	case <-ctx.Done():
		l.abandon(endpoint, ch)
		return fmt.Errorf("%w: %s: %v", ErrBusy, endpoint, ctx.Err())
	}
}

// Release hands the lock to the oldest waiter, or frees the endpoint
// entry when nobody is queued.
func (l *Locks) Release(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el := l.endpoints[endpoint]
	if el == nil || !el.held {
		return
	}
	if len(el.waiters) > 0 {
		ch := el.waiters[0]
		el.waiters = el.waiters[1:]
		close(ch)
		return
	}
	el.held = false
	delete(l.endpoints, endpoint)
}

// Held reports whether the endpoint lock is currently held.
func (l *Locks) Held(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el := l.endpoints[endpoint]
	return el != nil && el.held
}

// Waiters returns the queue depth for an endpoint.
func (l *Locks) Waiters(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	el := l.endpoints[endpoint]
	if el == nil {
		return 0
	}
	return len(el.waiters)
}

// abandon removes a waiter that gave up. When the grant raced with the
// timeout the channel is already closed and no longer queued, so the
// caller owns the lock and must give it back.
func (l *Locks) abandon(endpoint string, ch chan struct{}) {
	l.mu.Lock()
	el := l.endpoints[endpoint]
	if el != nil {
		for i, w := range el.waiters {
			if w == ch {
				el.waiters = append(el.waiters[:i], el.waiters[i+1:]...)
				l.mu.Unlock()
				return
			}
		}
	}
	l.mu.Unlock()

	l.Release(endpoint)
}
