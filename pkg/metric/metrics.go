package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt and session outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

// Cache result label values.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheStale    = "stale"
	CacheEvicted  = "evicted"
	CacheResolved = "resolved"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	attempts       *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	sessionLatency *prometheus.HistogramVec
	lockRejects    prometheus.Counter
	cacheEvents    *prometheus.CounterVec
	resolverErrors prometheus.Counter
}

// New creates the engine collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "session",
			Name:      "attempts_total",
			Help:      "Session attempts by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "session",
			Name:      "executions_total",
			Help:      "Completed session executions by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		sessionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldgate",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "End-to-end session duration by protocol.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"protocol"}),
		lockRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "session",
			Name:      "lock_rejections_total",
			Help:      "Executions rejected or timed out waiting for the endpoint lock.",
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "context",
			Name:      "cache_events_total",
			Help:      "Context cache events by result.",
		}, []string{"result"}),
		resolverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "context",
			Name:      "resolver_failures_total",
			Help:      "Remote context resolver failures.",
		}),
	}

	reg.MustRegister(
		m.attempts,
		m.sessions,
		m.sessionLatency,
		m.lockRejects,
		m.cacheEvents,
		m.resolverErrors,
	)
	return m
}

// Attempt records one session attempt outcome.
func (m *Metrics) Attempt(protocol, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(protocol, outcome).Inc()
}

// Session records a completed session execution.
func (m *Metrics) Session(protocol, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(protocol, outcome).Inc()
	m.sessionLatency.WithLabelValues(protocol).Observe(elapsed.Seconds())
}

// LockReject records a rejected or timed-out lock acquisition.
func (m *Metrics) LockReject() {
	if m == nil {
		return
	}
	m.lockRejects.Inc()
}

// Cache records a context cache event.
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(result).Inc()
}

// ResolverFailure records a remote resolver failure.
func (m *Metrics) ResolverFailure() {
	if m == nil {
		return
	}
	m.resolverErrors.Inc()
}
