package stream

import (
	"time"

	"github.com/scorepipe/scorepipe/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithPersistRetries sets how many attempts a persist gets before giving up.
func WithPersistRetries(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.persistRetries = n
		}
	}
}

// WithPersistTimeout sets the per-attempt persist timeout.
func WithPersistTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.persistTimeout = d
		}
	}
}

// WithPersistBackoff sets the initial backoff between persist attempts. The
// delay doubles on every subsequent attempt.
func WithPersistBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.persistBackoff = d
		}
	}
}

// WithCacheTTL sets the TTL used for snapshot entries written by workers.
func WithCacheTTL(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.cacheTTL = d
		}
	}
}
