// Package retry provides the shared retry policy for transient failures
// in the sync path (source fetches, embedding calls, storage connectivity).
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff and a predicate deciding
// which errors are worth retrying. A nil Retryable retries every error.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Retryable    func(error) bool
}

// Default mirrors the sync tuning: 5 attempts starting at 1s, doubling,
// capped at 30s.
func Default() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Do runs op until it succeeds, a permanent error is hit, the attempt budget
// is exhausted, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempts := uint64(p.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "transient failure, retrying", "error", err, "wait", wait)
	}

	return backoff.RetryNotify(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx),
		notify)
}
