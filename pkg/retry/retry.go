// Package retry runs an operation repeatedly with backoff until it
// succeeds, the context ends, or the attempt budget is spent. The node
// uses it around storage opens, where a fast restart can race the
// previous process still releasing its database file lock.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Operation is one attempt of the work being retried.
type Operation func(ctx context.Context) error

// Config controls the retry loop.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, nextDelay time.Duration)
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// WithMaxAttempts caps the number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithOnRetry installs a callback fired before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, nextDelay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// WithExponentialBackoff doubles the delay each attempt, bounded by
// maxDelay.
func WithExponentialBackoff(maxAttempts int, initialDelay, maxDelay time.Duration) []Option {
	return []Option{func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
		c.Multiplier = 2.0
	}}
}

// WithLinearBackoff waits the same delay between every attempt.
func WithLinearBackoff(maxAttempts int, delay time.Duration) []Option {
	return []Option{func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.InitialDelay = delay
		c.MaxDelay = delay
		c.Multiplier = 1.0
	}}
}

// Do runs op until it returns nil or the attempt budget is exhausted,
// sleeping between attempts. The last attempt's error is returned when
// every attempt fails.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: canceled before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: canceled during backoff after attempt %d: %w (last error: %v)", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("retry: all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}
