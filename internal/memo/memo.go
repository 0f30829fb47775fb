// Package memo provides a generic in-process TTL cache with single-flight
// semantics: concurrent callers for the same key share one producer
// execution, and a failed producer never leaves a poisoned entry behind.
package memo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Producer computes the value for a cache key.
type Producer[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache memoizes producer results per key for a caller-supplied TTL.
// The zero value is not usable; construct with New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	sf      singleflight.Group
	now     func() time.Time // injectable for testing
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// WithNow overrides the clock for tests.
func (c *Cache[V]) WithNow(now func() time.Time) *Cache[V] {
	c.now = now
	return c
}

// get returns the value for key if a live entry exists. Expired entries are
// treated as misses but left in place; the next successful run overwrites.
func (c *Cache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.value, true
	}
	var zero V
	return zero, false
}

// GetOrSet returns the live cached value for key, or runs the producer,
// coalescing concurrent callers into a single run. The producer executes on a
// context detached from the initiating caller, so one caller's cancellation
// cannot fail the run for everyone joined to it; each waiter still stops
// waiting when its own ctx is done. On producer failure the key is evicted
// and the error propagates to every waiter.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, producer Producer[V]) (V, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	pctx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (any, error) {
		// Recheck inside the flight: another run may have settled the key
		// between the fast path and here.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		v, err := producer(pctx)
		if err != nil {
			// No stale entry survives a failed refresh.
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Invalidate removes the key so the next GetOrSet re-runs the producer. An
// in-flight producer is detached, not interrupted; callers already joined to
// it still receive its result.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.sf.Forget(key)
}

// Len reports the number of settled keys currently held, expired included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
