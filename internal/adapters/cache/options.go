package cache

import "time"

// Option applies a configuration option to the Cache.
type Option[T any] func(*Cache[T])

// WithCapacity bounds the number of entries. Zero or negative disables the
// capacity bound (TTL and sweeps still bound memory over time).
func WithCapacity[T any](capacity int) Option[T] {
	return func(c *Cache[T]) {
		c.capacity = capacity
	}
}

// WithDefaultTTL sets the TTL used when Put is called with a non-positive ttl.
func WithDefaultTTL[T any](ttl time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithSweepInterval sets the background sweep cadence.
func WithSweepInterval[T any](interval time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if interval > 0 {
			c.sweepInterval = interval
		}
	}
}
