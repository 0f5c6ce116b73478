package widget

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/storage"
)

// RetryPolicy bounds the exponential backoff applied to transient storage failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

var (
	// DefaultReadRetryPolicy keeps public reads fast.
	DefaultReadRetryPolicy = RetryPolicy{InitialInterval: 25 * time.Millisecond, MaxInterval: 100 * time.Millisecond, MaxRetries: 2}
	// DefaultSaveRetryPolicy gives background saves more room.
	DefaultSaveRetryPolicy = RetryPolicy{InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second, MaxRetries: 4}
)

// retryTransient runs operation until it succeeds, fails with a non-transient error, or the policy runs out.
// onRetry is called before every retry.
func retryTransient(ctx context.Context, policy RetryPolicy, operation func() error, onRetry func(error)) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialInterval
	exponential.MaxInterval = policy.MaxInterval
	exponential.MaxElapsedTime = 0

	var strategy backoff.BackOff = backoff.WithMaxRetries(exponential, policy.MaxRetries)
	strategy = backoff.WithContext(strategy, ctx)

	return backoff.RetryNotify(func() error {
		operationErr := operation()
		if operationErr != nil && !errors.Is(operationErr, storage.ErrUnavailable) {
			return backoff.Permanent(operationErr)
		}
		return operationErr
	}, strategy, func(retryErr error, _ time.Duration) {
		if onRetry != nil {
			onRetry(retryErr)
		}
	})
}
