package client

import (
	"context"
	"time"
)

// Backoff is a capped exponential delay.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. onRetry sees each failure that will be retried.
func retry(ctx context.Context, b Backoff, attempts int, fn func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !Retryable(err) || attempt+1 >= attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-time.After(b.Delay(attempt)):
		case <-ctx.Done():
			return err
		}
	}
}
