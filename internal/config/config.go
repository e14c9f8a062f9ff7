// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Listeners are the UDP bind addresses, one listener node each.
	Listeners []string `koanf:"listeners"`

	// Strategy selects the distributor strategy: round_robin,
	// least_connections, weighted_round_robin, consistent_hash.
	Strategy string `koanf:"strategy"`

	// Weights are per-listener capacity hints, aligned with Listeners by
	// index. Missing entries default to 1.
	Weights []int `koanf:"weights"`

	// QueueSize bounds the in-memory ingress queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of stream processing workers.
	WorkerCount int `koanf:"worker_count"`

	// CacheCapacity bounds the snapshot cache entry count.
	CacheCapacity int `koanf:"cache_capacity"`

	// CacheDefaultTTL is the TTL applied to snapshot entries.
	CacheDefaultTTL time.Duration `koanf:"cache_default_ttl"`

	// CacheSweepInterval is the period of the background expiry sweep.
	CacheSweepInterval time.Duration `koanf:"cache_sweep_interval"`

	// AnalyticsTick is the snapshot aggregation interval.
	AnalyticsTick time.Duration `koanf:"analytics_tick"`

	// AnalyticsHistory is the per-scope snapshot ring capacity.
	AnalyticsHistory int `koanf:"analytics_history"`

	// PersistDSN is the Postgres connection string. Empty selects the
	// in-memory store.
	PersistDSN string `koanf:"persist_dsn"`

	// PersistTimeout bounds each persistence call.
	PersistTimeout time.Duration `koanf:"persist_timeout"`

	// PersistRetries is the number of attempts before a persist is abandoned.
	PersistRetries int `koanf:"persist_retries"`

	// PersistBackoff is the initial delay between persist attempts; it
	// doubles on every retry.
	PersistBackoff time.Duration `koanf:"persist_backoff"`

	// NATSURL enables the outbound NATS bridge when non-empty.
	NATSURL string `koanf:"nats_url"`

	// SubscriberBuffer is the per-subscriber broadcast buffer size.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		Listeners:          []string{"127.0.0.1:6000"},
		Strategy:           "round_robin",
		QueueSize:          100_000,
		WorkerCount:        runtime.NumCPU() * 4,
		CacheCapacity:      10_000,
		CacheDefaultTTL:    30 * time.Second,
		CacheSweepInterval: 5 * time.Second,
		AnalyticsTick:      2 * time.Second,
		AnalyticsHistory:   64,
		PersistTimeout:     2 * time.Second,
		PersistRetries:     3,
		PersistBackoff:     100 * time.Millisecond,
		SubscriberBuffer:   1024,
	}
}
