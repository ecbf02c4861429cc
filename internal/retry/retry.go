// Package retry wraps an operation with bounded exponential backoff.
// Which errors are worth retrying is the caller's call, passed in as a
// predicate, so the policy reads at the call site.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds the retry loop.
type Policy struct {
	Attempts int           // total attempts including the first
	Base     time.Duration // first backoff; doubles each retry
	Max      time.Duration // backoff cap; 0 means uncapped
	Jitter   float64       // fraction of the delay randomised, 0..1
}

// DefaultPolicy suits flaky upstream APIs: 6 attempts with doubling
// delays from 1s, capped at 30s, a quarter of each delay jittered.
var DefaultPolicy = Policy{Attempts: 6, Base: time.Second, Max: 30 * time.Second, Jitter: 0.25}

// Do runs fn until it succeeds, the attempts are exhausted, the
// predicate rejects the error, or ctx ends. The last error is
// returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	delay := p.Base
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.Attempts {
			return lastErr
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		select {
		case <-time.After(jittered(delay, p.Jitter)):
		case <-ctx.Done():
			return lastErr
		}

		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
}

// jittered spreads d by up to frac in either direction.
func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	span := float64(d) * frac
	return d + time.Duration((rand.Float64()*2-1)*span)
}
