// Package cache provides a generic TTL-bounded store for derived and
// aggregated data (tournament snapshots, match snapshots, statistics).
//
// The cache knows nothing about the wire protocol. Entries are grouped by a
// hierarchical scope key so that a finished match can drop every snapshot
// under it in one call. Expired entries are never returned: lookups evict
// lazily, and a background sweep bounds memory even under low read traffic.
// At capacity, insertion evicts the entry with the soonest expiry, since TTL
// already encodes staleness priority.
package cache

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultCapacity      = 10_000
	defaultTTL           = 30 * time.Second
	defaultSweepInterval = 5 * time.Second
)

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// entry holds one cached value with its expiry bookkeeping.
type entry[T any] struct {
	scope     string
	key       string
	value     T
	createdAt time.Time
	expiresAt time.Time
	heapIndex int
}

// Cache is a TTL-bounded scoped store. The zero value is not usable; use New.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	byTTL   expiryHeap[T]

	capacity      int
	defaultTTL    time.Duration
	sweepInterval time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a cache with the given options.
func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries:       make(map[string]*entry[T]),
		capacity:      defaultCapacity,
		defaultTTL:    defaultTTL,
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// mapKey joins scope and key into the internal map key.
func mapKey(scope, key string) string {
	return scope + "|" + key
}

// Get returns the value for (scope, key) if present and not expired. Expired
// entries are evicted on the spot, regardless of whether a sweep has run.
func (c *Cache[T]) Get(ctx context.Context, scope, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[mapKey(scope, key)]
	if !ok {
		c.misses.Add(1)
		metrics.RecordCacheMiss()
		return zero, false
	}

	if !time.Now().Before(e.expiresAt) {
		c.removeLocked(e)
		c.evictions.Add(1)
		c.misses.Add(1)
		metrics.RecordCacheEviction(1)
		metrics.RecordCacheMiss()
		return zero, false
	}

	c.hits.Add(1)
	metrics.RecordCacheHit()
	return e.value, true
}

// Put stores a value under (scope, key) with the given TTL. A non-positive ttl
// uses the configured default. Replacing an existing key does not count as an
// eviction. At capacity, the live entry with the soonest expiry is evicted.
func (c *Cache[T]) Put(ctx context.Context, scope, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	mk := mapKey(scope, key)
	if existing, ok := c.entries[mk]; ok {
		existing.value = value
		existing.createdAt = now
		existing.expiresAt = now.Add(ttl)
		heap.Fix(&c.byTTL, existing.heapIndex)
		return
	}

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictSoonestLocked()
	}

	e := &entry[T]{
		scope:     scope,
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.entries[mk] = e
	heap.Push(&c.byTTL, e)
	metrics.UpdateCacheSize(len(c.entries))
}

// InvalidateScope removes every entry whose scope is exactly scope or nested
// under it, and no entries outside it. Returns the number of entries removed.
func (c *Cache[T]) InvalidateScope(ctx context.Context, scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := scope + "/"
	removed := 0
	for _, e := range c.entries {
		if e.scope == scope || strings.HasPrefix(e.scope, prefix) {
			c.removeLocked(e)
			removed++
		}
	}

	if removed > 0 {
		c.evictions.Add(uint64(removed))
		metrics.RecordCacheEviction(removed)
		metrics.UpdateCacheSize(len(c.entries))
	}
	return removed
}

// Stats returns a snapshot of hit/miss/eviction counters and current size.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

// Len returns the current number of entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the background sweep until ctx is canceled or Stop is called.
func (c *Cache[T]) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (c *Cache[T]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Sweep eagerly removes all expired entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	// The heap is ordered by expiry, so sweeping stops at the first live entry.
	for c.byTTL.Len() > 0 {
		soonest := c.byTTL[0]
		if now.Before(soonest.expiresAt) {
			break
		}
		c.removeLocked(soonest)
		removed++
	}

	if removed > 0 {
		c.evictions.Add(uint64(removed))
		metrics.RecordCacheEviction(removed)
		metrics.UpdateCacheSize(len(c.entries))
	}
	return removed
}

// evictSoonestLocked removes the entry with the soonest expiry to make room.
func (c *Cache[T]) evictSoonestLocked() {
	if c.byTTL.Len() == 0 {
		return
	}
	c.removeLocked(c.byTTL[0])
	c.evictions.Add(1)
	metrics.RecordCacheEviction(1)
}

// removeLocked deletes an entry from both the map and the heap.
func (c *Cache[T]) removeLocked(e *entry[T]) {
	delete(c.entries, mapKey(e.scope, e.key))
	if e.heapIndex >= 0 {
		heap.Remove(&c.byTTL, e.heapIndex)
	}
}

// expiryHeap is a min-heap over entry expiry times.
type expiryHeap[T any] []*entry[T]

func (h expiryHeap[T]) Len() int { return len(h) }

func (h expiryHeap[T]) Less(i, j int) bool {
	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h expiryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
