package usecase

import (
	"context"
	"time"

	"TranscriptPipeline/internal/domain"
)

// retryTransient runs fn up to attempts times, sleeping with doubling
// backoff between tries. Only transient errors are retried; anything
// else surfaces immediately.
func retryTransient(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) || attempt >= attempts {
			return err
		}

		wait := base << (attempt - 1)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
