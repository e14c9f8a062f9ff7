package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if SCOREPIPE_CONFIG is set
//  3. env (prefix SCOREPIPE_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("SCOREPIPE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: SCOREPIPE_ADDR, SCOREPIPE_QUEUE_SIZE, ...
	// Map env keys like SCOREPIPE_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("SCOREPIPE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "scorepipe_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate applies basic sanity checks on the merged configuration.
func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if len(c.Listeners) == 0 {
		return fmt.Errorf("%w: at least one listener address required", ErrInvalidConfig)
	}
	if len(c.Weights) > len(c.Listeners) {
		return fmt.Errorf("%w: more weights than listeners", ErrInvalidConfig)
	}
	switch c.Strategy {
	case "", "round_robin", "least_connections", "weighted_round_robin", "consistent_hash":
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.PersistRetries <= 0 {
		return fmt.Errorf("%w: persist_retries must be positive", ErrInvalidConfig)
	}
	return nil
}

// NodeWeight returns the weight for the i-th listener, defaulting to 1.
func (c *Config) NodeWeight(i int) int {
	if i < len(c.Weights) && c.Weights[i] > 0 {
		return c.Weights[i]
	}
	return 1
}
