package resilience

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy returns how long to wait after the given failed attempt
// (1-based) before trying again.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff waits multiplier * 2^(attempt-1) seconds, clamped to
// [floor, ceiling]. With multiplier 1, floor 2s and ceiling 10s the waits are
// 2s, 2s, 4s, 8s, 10s, 10s...
func ExponentialBackoff(multiplier float64, floor, ceiling time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		secs := multiplier * math.Pow(2, float64(attempt-1))
		if c := float64(ceiling) / float64(time.Second); secs > c {
			return ceiling
		}
		delay := time.Duration(secs * float64(time.Second))
		if delay < floor {
			return floor
		}
		return delay
	}
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration {
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
