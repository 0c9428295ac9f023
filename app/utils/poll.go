package utils

import (
	"context"
	"time"
)

// PollPolicy defines fixed-interval bounded polling behavior
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// NewPollPolicy creates a new poll policy
func NewPollPolicy(maxAttempts int, interval time.Duration) *PollPolicy {
	return &PollPolicy{
		MaxAttempts: maxAttempts,
		Interval:    interval,
	}
}

// Wait polls fn at a fixed interval until it reports done, the attempt
// budget is exhausted, or the context is cancelled. It returns false when
// the budget ran out without fn reporting done.
func (p *PollPolicy) Wait(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}

		if attempt < p.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(p.Interval):
			}
		}
	}
	return false, nil
}
