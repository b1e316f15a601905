// Package retry implements bounded retries with capped exponential backoff.
//
// Every outbound network call in the sync path runs through Do: a fixed
// maximum attempt count, a per-attempt timeout, and an exponential delay
// between attempts capped at MaxDelay. Permanent errors (upstream protocol
// failures) abort immediately; only transient connectivity errors are
// retried.
package retry

import (
	"context"
	"time"

	apperrors "funding-recon-service/pkg/errors"
)

// Config controls retry behavior for one upstream call site.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout"`

	// BaseDelay is the delay after the first failure; it doubles per attempt.
	BaseDelay time.Duration `json:"base_delay" mapstructure:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// DefaultConfig returns the standard sync-path retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
	}
}

// Do runs fn with the configured policy. fn receives a context bounded by
// AttemptTimeout. A non-transient error returns immediately; exhausting all
// attempts returns a retries-exhausted connectivity error wrapping the last
// failure.
func Do(ctx context.Context, cfg Config, endpoint string, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return apperrors.ConnectivityError(apperrors.CodeTimeout, endpoint, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return apperrors.ConnectivityError(apperrors.CodeRetriesExhausted, endpoint, lastErr)
}
