// Package ratelimit provides the process-wide request gate the Broker
// Client blocks on before every outbound call (spec §4.1, §5). It is
// injected at construction (Design Note §9 "global module state ... model
// as an injected Context object") rather than held as a package-level
// singleton, so tests can substitute a no-op limiter.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound broker calls so that no more than R requests
// start within any one-second interval. Callers block in Wait until a
// slot frees up.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a Limiter allowing ratePerSec requests/second, spaced one
// every 1/ratePerSec seconds (burst 1), matching spec scenario §8.6: with
// R=20, 25 calls back to back see 20 complete in the first second and the
// other 5 in the next.
func New(ratePerSec int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

// Wait blocks until a slot is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports, without blocking, whether a slot is free right now.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Backoff computes the spec's exponential retry delay for attempt n
// (1-indexed): 1s, 2s, 4s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}
