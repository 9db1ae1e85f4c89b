// Package backoff computes capped exponential delays with jitter for
// reconnection and retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds backoff parameters. Jitter is a fraction in [0, 1]: each
// delay is scaled by a uniform factor in [1-Jitter, 1+Jitter].
type Config struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int // 0 means unlimited
}

// DefaultConfig returns the reconnect defaults used by the relay supervisor.
func DefaultConfig() Config {
	return Config{
		Initial:     time.Second,
		Max:         60 * time.Second,
		Factor:      2,
		Jitter:      0.2,
		MaxAttempts: 0,
	}
}

// Delay returns the backoff delay for a 1-based attempt number. Attempt
// values below 1 are treated as 1.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.Initial) * math.Pow(c.Factor, float64(attempt-1))
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	if c.Jitter > 0 {
		d *= 1 - c.Jitter + rand.Float64()*2*c.Jitter
	}
	return time.Duration(d)
}

// MaxAttemptsReached reports whether the given 1-based attempt count has
// exhausted the configured limit.
func (c Config) MaxAttemptsReached(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

// Sleep waits for d or until ctx is cancelled, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
