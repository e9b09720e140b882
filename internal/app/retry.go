package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"quizzana/internal/domain"
)

const retryAttempts = 3

// withRetry runs op until it succeeds, returns a non-transient error, or the
// attempts or ctx run out.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, retryAttempts), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
