package devctx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// countingResolver serves canned records and counts lookups.
type countingResolver struct {
	calls  atomic.Int32
	fail   bool
	record *ContextRecord
}

func (r *countingResolver) Resolve(ctx context.Context, fingerprint string, features Features) (*ContextRecord, error) {
	r.calls.Add(1)
	if r.fail {
		return nil, errors.New("resolver offline")
	}
	record := r.record
	if record == nil {
		record = &ContextRecord{
			Fingerprint: fingerprint,
			Profile:     Profile{Manufacturer: "Acme", Model: "TH-100"},
			Confidence:  0.9,
			RetrievedAt: time.Now(),
		}
	}
	return record.clone(), nil
}

func testRecord(fingerprint string) *ContextRecord {
	return &ContextRecord{
		Fingerprint: fingerprint,
		Profile:     Profile{Manufacturer: "Acme", Model: "TH-100", DeviceType: "thermostat"},
		ErrorCodes:  map[string]string{"E01": "sensor fault"},
		Confidence:  0.9,
		RetrievedAt: time.Now(),
	}
}

func TestCacheResolvesOnMiss(t *testing.T) {
	resolver := &countingResolver{}
	cache := NewCache(CacheConfig{Resolver: resolver})

	record, err := cache.ResolveContext(context.Background(), "aaaa111122223333", Features{Protocol: "rest"})
	if err != nil {
		t.Fatalf("ResolveContext() error = %v", err)
	}
	if record.Profile.Manufacturer != "Acme" {
		t.Errorf("Manufacturer = %q", record.Profile.Manufacturer)
	}
	if resolver.calls.Load() != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls.Load())
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestCacheHitSkipsResolver(t *testing.T) {
	resolver := &countingResolver{}
	cache := NewCache(CacheConfig{Resolver: resolver})

	ctx := context.Background()
	if _, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{}); err != nil {
		t.Fatalf("first ResolveContext() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{}); err != nil {
			t.Fatalf("ResolveContext() error = %v", err)
		}
	}

	if resolver.calls.Load() != 1 {
		t.Errorf("resolver calls = %d, want 1 (fresh hits must not resolve)", resolver.calls.Load())
	}
}

func TestCacheExpiryTriggersResolver(t *testing.T) {
	resolver := &countingResolver{}
	cache := NewCache(CacheConfig{Resolver: resolver, TTL: 10 * time.Millisecond})

	ctx := context.Background()
	if _, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{}); err != nil {
		t.Fatalf("ResolveContext() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{}); err != nil {
		t.Fatalf("ResolveContext() after expiry error = %v", err)
	}
	if resolver.calls.Load() != 2 {
		t.Errorf("resolver calls = %d, want 2 (expired records re-resolve)", resolver.calls.Load())
	}
}

func TestCacheStaleFallback(t *testing.T) {
	resolver := &countingResolver{}
	cache := NewCache(CacheConfig{Resolver: resolver, TTL: 10 * time.Millisecond})

	ctx := context.Background()
	if _, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{}); err != nil {
		t.Fatalf("ResolveContext() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	resolver.fail = true

	record, err := cache.ResolveContext(ctx, "aaaa111122223333", Features{})
	if err != nil {
		t.Fatalf("ResolveContext() with failing resolver error = %v", err)
	}
	if !record.Stale {
		t.Error("record served past TTL with a dead resolver is not marked stale")
	}
	if record.Authoritative(0.5) {
		t.Error("stale record reports authoritative")
	}
}

func TestCacheUnavailable(t *testing.T) {
	resolver := &countingResolver{fail: true}
	cache := NewCache(CacheConfig{Resolver: resolver})

	_, err := cache.ResolveContext(context.Background(), "aaaa111122223333", Features{})
	if !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("ResolveContext() error = %v, want ErrContextUnavailable", err)
	}

	// No resolver at all behaves the same on a cold cache.
	cold := NewCache(CacheConfig{})
	_, err = cold.ResolveContext(context.Background(), "aaaa111122223333", Features{})
	if !errors.Is(err, ErrContextUnavailable) {
		t.Errorf("ResolveContext() without resolver error = %v, want ErrContextUnavailable", err)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	var evicted []string
	cache := NewCache(CacheConfig{
		Capacity: 2,
		OnEvict:  func(r *ContextRecord) { evicted = append(evicted, r.Fingerprint) },
	})

	cache.Put(testRecord("fp-a"))
	cache.Put(testRecord("fp-b"))

	// Touch fp-a so fp-b becomes the eviction candidate.
	if _, ok := cache.Get("fp-a"); !ok {
		t.Fatal("Get(fp-a) missed")
	}

	cache.Put(testRecord("fp-c"))

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
	if _, ok := cache.Get("fp-b"); ok {
		t.Error("fp-b survived eviction, want LRU evicted")
	}
	if _, ok := cache.Get("fp-a"); !ok {
		t.Error("fp-a evicted despite being recently used")
	}
	if len(evicted) != 1 || evicted[0] != "fp-b" {
		t.Errorf("evicted = %v, want [fp-b]", evicted)
	}
}

func TestCachePutReplaces(t *testing.T) {
	cache := NewCache(CacheConfig{})

	cache.Put(testRecord("fp-a"))
	updated := testRecord("fp-a")
	updated.Confidence = 0.4
	cache.Put(updated)

	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	record, ok := cache.Get("fp-a")
	if !ok {
		t.Fatal("Get(fp-a) missed")
	}
	if record.Confidence != 0.4 {
		t.Errorf("Confidence = %v, want replaced value 0.4", record.Confidence)
	}
}

func TestCacheHandsOutCopies(t *testing.T) {
	cache := NewCache(CacheConfig{})
	cache.Put(testRecord("fp-a"))

	first, _ := cache.Get("fp-a")
	first.ErrorCodes["E99"] = "injected"
	first.Profile.Manufacturer = "Mallory"

	second, _ := cache.Get("fp-a")
	if _, ok := second.ErrorCodes["E99"]; ok {
		t.Error("mutation through a returned record leaked into the cache")
	}
	if second.Profile.Manufacturer != "Acme" {
		t.Errorf("Manufacturer = %q, want Acme", second.Profile.Manufacturer)
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(CacheConfig{})
	cache.Put(testRecord("fp-a"))

	cache.Invalidate("fp-a")
	if _, ok := cache.Get("fp-a"); ok {
		t.Error("record survived Invalidate")
	}
	cache.Invalidate("fp-a") // idempotent
}

func TestCacheRecordsAndRestore(t *testing.T) {
	cache := NewCache(CacheConfig{})
	for i := 0; i < 3; i++ {
		cache.Put(testRecord(fmt.Sprintf("fp-%d", i)))
	}

	records := cache.Records()
	if len(records) != 3 {
		t.Fatalf("Records() returned %d, want 3", len(records))
	}
	// Most recently used first.
	if records[0].Fingerprint != "fp-2" {
		t.Errorf("Records()[0] = %s, want fp-2", records[0].Fingerprint)
	}

	restored := NewCache(CacheConfig{})
	restored.Restore(records)

	if restored.Len() != 3 {
		t.Fatalf("restored Len() = %d, want 3", restored.Len())
	}
	// Restore preserves LRU order: the snapshot head stays most recent.
	again := restored.Records()
	for i := range records {
		if again[i].Fingerprint != records[i].Fingerprint {
			t.Errorf("restored order[%d] = %s, want %s", i, again[i].Fingerprint, records[i].Fingerprint)
		}
	}
}
