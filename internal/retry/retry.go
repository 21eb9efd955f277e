// Package retry holds the exponential backoff used by the queue consumer and
// by the extraction pipeline when calling the upstream extractor.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// Backoff returns an exponential delay for attempt (1-based) with jitter in [wait/2, wait].
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// MaxRetries retries are spent. It returns the number of calls made and the
// last error. Cancellation of ctx stops waiting between calls.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.Max
	if max == 0 {
		max = 30 * time.Second
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt > p.MaxRetries || retryable == nil || !retryable(err) {
			return attempt, err
		}
		timer := time.NewTimer(Backoff(p.Base, max, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
