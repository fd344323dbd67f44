// Package backoff provides a small retry helper driven by an explicit
// policy (attempt bound, base delay, multiplier) so callers are not tied
// to any particular scheduler.
package backoff

import (
	"context"
	"time"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Delay returns the wait applied after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Retry runs fn up to p.MaxAttempts times, sleeping p.Delay(n) between
// attempts. It returns nil on the first success, the last error once
// attempts are exhausted, or ctx.Err() if the context ends mid-wait.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
}
