package analytics

import (
	"time"

	"github.com/scorepipe/scorepipe/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithTick sets the aggregation tick interval.
func WithTick(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithHistoryCapacity sets how many snapshots each scope retains.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyCap = n
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(logger logger.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
