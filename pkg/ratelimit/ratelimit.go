package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces operations at least one interval apart, shared across
// goroutines. The first call never blocks.
type Limiter struct {
	rl       *rate.Limiter
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
}

// NewLimiter creates a limiter allowing rps operations per second with the
// given jitter factor. If rps is <= 0, the limiter does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		rl:       rate.NewLimiter(rate.Limit(rps), 1),
		interval: time.Duration(float64(time.Second) / rps),
		jitter:   clampJitter(jitter),
	}
}

// Wait blocks until the caller's slot comes up or ctx is done, then delays
// by up to jitter*interval more. A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	if err := l.rl.Wait(ctx); err != nil {
		return err
	}
	if l.jitter <= 0 {
		return nil
	}
	extra := time.Duration(rand.Float64() * l.jitter * float64(l.interval))
	return Sleep(ctx, extra)
}

// Pause waits d, randomised by up to +/- jitter*d, unless ctx ends first.
// It is the cooperative delay between consecutive page fetches.
func Pause(ctx context.Context, d time.Duration, jitter float64) error {
	return Sleep(ctx, Jittered(d, clampJitter(jitter)))
}

// Sleep waits d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Jittered returns d shifted by a random amount within +/- jitter*d.
func Jittered(d time.Duration, jitter float64) time.Duration {
	if d <= 0 || jitter <= 0 {
		return d
	}
	factor := (rand.Float64() * 2) - 1.0 // -1.0 to 1.0
	out := d + time.Duration(float64(d)*jitter*factor)
	if out < 0 {
		return 0
	}
	return out
}

func clampJitter(j float64) float64 {
	if j < 0 {
		return 0
	}
	if j > 1 {
		return 1
	}
	return j
}
