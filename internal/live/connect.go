package live

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// RetryFunc is told about each failed attempt before the wait that follows it.
type RetryFunc func(attempt int, err error, wait time.Duration)

// Permanent marks a dial error that retrying cannot fix.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Connect dials with exponential backoff, making at most policy.Attempts
// attempts. It stops early when ctx is done or the dialer returns a
// Permanent error.
func Connect(ctx context.Context, dialer Dialer, opts SetupOptions, policy RetryPolicy, onRetry RetryFunc) (Session, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultConnectAttempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultConnectBackoff
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.Backoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxInterval = policy.Backoff * 8
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.Attempts-1)), ctx)

	attempt := 0
	op := func() (Session, error) {
		attempt++
		session, err := dialer.Dial(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return session, nil
	}

	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}

	session, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		return nil, fmt.Errorf("live connect failed after %d attempt(s): %w", attempt, err)
	}
	return session, nil
}
