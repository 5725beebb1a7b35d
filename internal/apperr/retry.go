package apperr

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-nexus/nexus/internal/logging"
)

// RetryConfig controls exponential backoff for retryable operations.
// Values are immutable; pick a preset or build one per call site.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetry is the standard policy: 3 retries, 1s doubling to a 30s cap.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// AggressiveRetry retries more often with shorter waits.
func AggressiveRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.5,
	}
}

// ConservativeRetry retries less often with longer waits.
func ConservativeRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   3.0,
	}
}

// Delay returns the backoff delay for a zero-indexed attempt:
// InitialDelay * Multiplier^attempt, capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt)))
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// backOff builds the cenkalti policy for this config. RandomizationFactor
// is zero so delays follow Delay() exactly.
func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxRetries)), ctx)
}

// Retry invokes op until it succeeds, fails with a non-retryable error, or
// exhausts cfg.MaxRetries. Non-retryable failures propagate immediately
// without any backoff sleep.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		logging.Debug().
			Int("attempt", attempt).
			Str("error", Classify(err).UserMessage()).
			Msg("retrying after failure")
		attempt++
		return v, err
	}, cfg.backOff(ctx))
}
