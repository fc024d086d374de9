package attendsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the exponential backoff used for network errors.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 2 disable retrying.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries three times: now, after ~500ms, after ~1s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// NoRetry disables retries.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// withRetry runs op, retrying only network errors. Any other error stops
// immediately. Running out of attempts wraps the last error with
// ErrRetryBudgetExhausted.
func (c *Client) withRetry(ctx context.Context, name string, op func() error) error {
	if c.Retry.MaxAttempts < 2 {
		return op()
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || IsNetwork(err) {
			return err
		}
		return backoff.Permanent(err)
	}, c.Retry.backOff(ctx), func(err error, wait time.Duration) {
		c.Logger.Warn("attendance request failed, retrying",
			"op", name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})

	if err != nil && IsNetwork(err) && ctx.Err() == nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, attempt, err)
	}
	return err
}
