package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeliveryFailed is returned once every acknowledgement attempt has failed
var ErrDeliveryFailed = errors.New("acknowledgement delivery failed")

// RetryPolicy bounds the acknowledgement loop: how many attempts, how long
// each one may take and how long to wait in between
type RetryPolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
	Delay          time.Duration

	// Sleep waits between attempts; nil uses a timer. Tests swap in a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the gateway's documented delivery contract
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		AttemptTimeout: 10 * time.Second,
	}
}

// Do calls fn until it returns nil or the attempts run out. Each call gets its
// own deadline derived from ctx. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Delay > 0 {
			if err := p.sleep(ctx, p.Delay); err != nil {
				return attempt - 1, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
			}
		}

		lastErr = p.attempt(ctx, attempt, fn)
		if lastErr == nil {
			return attempt, nil
		}
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempts, lastErr)
}

func (p RetryPolicy) attempt(ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
