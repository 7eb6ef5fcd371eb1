package devctx

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/metric"
)

// ErrContextUnavailable indicates no cached record exists and the
// resolver could not produce one. The read/write path is unaffected;
// only richer metadata is missing.
var ErrContextUnavailable = errors.New("device context unavailable")

// Cache defaults.
const (
	DefaultCapacity            = 256
	DefaultTTL                 = 24 * time.Hour
	DefaultConfidenceThreshold = 0.5
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	// Capacity bounds the number of records (default: 256). The least
	// recently used record is evicted beyond it.
	Capacity int

	// TTL is how long a record counts as fresh (default: 24h).
	TTL time.Duration

	// ConfidenceThreshold separates authoritative from advisory records
	// (default: 0.5).
	ConfidenceThreshold float64

	// Resolver answers misses. Nil disables remote resolution; the cache
	// then serves only what Put and Restore loaded.
	Resolver Resolver

	// Logger receives cache events (default: NoopLogger).
	Logger log.Logger

	// Metrics receives cache counters; nil disables metrics.
	Metrics *metric.Metrics

	// OnEvict is called after a record is evicted, outside the cache lock.
	OnEvict func(record *ContextRecord)
}

// cacheEntry is one LRU slot.
type cacheEntry struct {
	fingerprint string
	record      *ContextRecord
	storedAt    time.Time
}

// Cache is the fingerprint-keyed context cache: exact-key lookup with
// LRU eviction, TTL expiry and stale fallback when the resolver is
// unreachable. Safe for concurrent use; per-entry atomicity is provided
// by handing out record copies.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used

	capacity  int
	ttl       time.Duration
	threshold float64
	resolver  Resolver
	logger    log.Logger
	metrics   *metric.Metrics
	onEvict   func(*ContextRecord)
}

// NewCache creates a cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Cache{
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		capacity:  cfg.Capacity,
		ttl:       cfg.TTL,
		threshold: cfg.ConfidenceThreshold,
		resolver:  cfg.Resolver,
		logger:    logger,
		metrics:   cfg.Metrics,
		onEvict:   cfg.OnEvict,
	}
}

// ConfidenceThreshold returns the configured authoritative threshold.
func (c *Cache) ConfidenceThreshold() float64 { return c.threshold }

// ResolveContext returns the context record for a fingerprint.
//
// A fresh cached record is returned without touching the network. On a
// miss or an expired record the resolver is consulted; resolver failure
// degrades to the last known record marked stale. With no record and no
// working resolver the lookup fails with ErrContextUnavailable.
func (c *Cache) ResolveContext(ctx context.Context, fingerprint string, features Features) (*ContextRecord, error) {
	c.mu.Lock()
	var expired *ContextRecord
	if elem, ok := c.entries[fingerprint]; ok {
		entry := elem.Value.(*cacheEntry)
		if time.Since(entry.storedAt) <= c.ttl {
			c.order.MoveToFront(elem)
			record := entry.record.clone()
			c.mu.Unlock()

			c.event(fingerprint, metric.CacheHit, record.Confidence)
			return record, nil
		}
		expired = entry.record.clone()
	}
	c.mu.Unlock()

	c.event(fingerprint, metric.CacheMiss, 0)

	if c.resolver != nil {
		record, err := c.resolver.Resolve(ctx, fingerprint, features)
		if err == nil {
			c.Put(record)
			c.event(fingerprint, metric.CacheResolved, record.Confidence)
			return record.clone(), nil
		}

		c.metrics.ResolverFailure()
		c.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionNone,
			Layer:     log.LayerContext,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerContext,
				Message: fmt.Sprintf("resolver failed for %s: %v", fingerprint, err),
			},
		})

		if expired != nil {
			expired.Stale = true
			c.event(fingerprint, metric.CacheStale, expired.Confidence)
			return expired, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrContextUnavailable, fingerprint, err)
	}

	if expired != nil {
		expired.Stale = true
		c.event(fingerprint, metric.CacheStale, expired.Confidence)
		return expired, nil
	}
	return nil, fmt.Errorf("%w: %s: no resolver configured", ErrContextUnavailable, fingerprint)
}

// Get returns the cached record regardless of freshness, without
// consulting the resolver. Expired records come back marked stale.
func (c *Cache) Get(fingerprint string) (*ContextRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	c.order.MoveToFront(elem)

	record := entry.record.clone()
	if time.Since(entry.storedAt) > c.ttl {
		record.Stale = true
	}
	return record, true
}

// Put stores a record, replacing any existing record for the same
// fingerprint and evicting the least recently used record beyond
// capacity.
func (c *Cache) Put(record *ContextRecord) {
	stored := record.clone()

	c.mu.Lock()
	var evicted *ContextRecord
	if elem, ok := c.entries[stored.Fingerprint]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.record = stored
		entry.storedAt = time.Now()
		c.order.MoveToFront(elem)
	} else {
		elem := c.order.PushFront(&cacheEntry{
			fingerprint: stored.Fingerprint,
			record:      stored,
			storedAt:    time.Now(),
		})
		c.entries[stored.Fingerprint] = elem

		if c.order.Len() > c.capacity {
			oldest := c.order.Back()
			entry := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, entry.fingerprint)
			evicted = entry.record
		}
	}
	c.mu.Unlock()

	if evicted != nil {
		c.event(evicted.Fingerprint, metric.CacheEvicted, evicted.Confidence)
		if c.onEvict != nil {
			c.onEvict(evicted)
		}
	}
}

// Invalidate removes a record.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		c.order.Remove(elem)
		delete(c.entries, fingerprint)
	}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Records returns copies of all cached records, most recently used first.
func (c *Cache) Records() []*ContextRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]*ContextRecord, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		records = append(records, elem.Value.(*cacheEntry).record.clone())
	}
	return records
}

// Restore loads records into the cache, oldest first so LRU order ends
// up matching the snapshot order.
func (c *Cache) Restore(records []*ContextRecord) {
	for i := len(records) - 1; i >= 0; i-- {
		c.Put(records[i])
	}
}

// event emits one cache event to the logger and metrics.
func (c *Cache) event(fingerprint, result string, confidence float64) {
	c.metrics.Cache(result)
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerContext,
		Category:  log.CategoryCache,
		Cache: &log.CacheEvent{
			Fingerprint: fingerprint,
			Result:      result,
			Confidence:  confidence,
		},
	})
}
