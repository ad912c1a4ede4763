package transfer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
)

// RetryPolicy is the bounded constant-delay policy shared by downloads and
// uploads.
type RetryPolicy struct {
	MaxAttempts uint
	Delay       time.Duration
	MaxElapsed  time.Duration
}

// Retry runs op until it succeeds, returns a non-transient error, or the
// policy is exhausted. It returns the number of attempts made.
func Retry[T any](ctx context.Context, p RetryPolicy, operation string, op func(ctx context.Context, attempt uint) (T, error)) (T, uint, error) {
	logger := logctx.LoggerFromContext(ctx)

	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var attempts uint

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "attempt failed, retrying",
				"operation", operation,
				"attempt", attempts,
				"max_attempts", maxAttempts,
				"retry_in", next,
				"err", err)
		}),
	}

	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++

		v, err := op(ctx, attempts)
		if err != nil && !Transient(err) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}, opts...)

	return res, attempts, err
}
