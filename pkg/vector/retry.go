package vector

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corpora-io/corpora/internal/logger"
)

// retryAttempts bounds how often a single API call is tried, first
// attempt included.
const retryAttempts = 5

// newServiceBackoff returns the retry schedule for one API call: 1s
// initial, doubling, capped at a minute, with the default jitter.
// BackOff implementations are stateful; always return a fresh instance.
func newServiceBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, retryAttempts-1)
}

// retryCall runs op under bo until it succeeds, the schedule is
// exhausted, or ctx ends. Errors IsRetryable rejects stop the loop
// immediately; op may force a stop itself by returning
// backoff.Permanent, which passes through untouched.
func retryCall(ctx context.Context, call string, bo backoff.BackOff, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		logger.Warn("vector service call failed, backing off",
			"call", call,
			"attempt", attempt,
			"error", err)
		return err
	}, backoff.WithContext(bo, ctx))
}
