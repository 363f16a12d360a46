package provider

import (
	"context"
	"errors"
	"time"

	"github.com/simplemem/simplemem/pkg/types"
)

// retryConfig controls the backoff loop around provider calls.
type retryConfig struct {
	// maxAttempts is the total number of attempts (including the first).
	maxAttempts int
	// initialDelay is the wait before the second attempt; subsequent
	// delays double up to maxDelay.
	initialDelay time.Duration
	maxDelay     time.Duration
}

var defaultRetry = retryConfig{
	maxAttempts:  3,
	initialDelay: 500 * time.Millisecond,
	maxDelay:     10 * time.Second,
}

// withRetry calls fn up to cfg.maxAttempts times, backing off exponentially
// between attempts. Only transient ProviderErrors are retried; auth, budget,
// and permanent failures return immediately. The loop stops early when ctx
// is cancelled, reporting DeadlineExceeded so callers can distinguish a
// timed-out request from an exhausted provider.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = 1
	}

	delay := cfg.initialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(types.ErrDeadlineExceeded, lastErr)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var pe *types.ProviderError
		if !errors.As(lastErr, &pe) || pe.Kind != types.ProviderTransient {
			return lastErr
		}

		if attempt < cfg.maxAttempts {
			select {
			case <-ctx.Done():
				return errors.Join(types.ErrDeadlineExceeded, lastErr)
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}
		}
	}
	return lastErr
}
