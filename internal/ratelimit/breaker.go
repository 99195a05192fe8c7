package ratelimit

import (
	"context"
	"time"
)

// Breaker tracks consecutive fetch failures for one worker. Crossing the
// threshold trips it into a backoff state: the worker sleeps a fixed cooldown,
// the counter resets, and every later request runs at the relaxed (slower)
// floor. State machine is {normal, backoff}; backoff ends when the cooldown
// deadline passes.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration
	Relaxed   time.Duration

	fails   int
	tripped bool
	until   time.Time

	now func() time.Time
}

func NewBreaker(threshold int, cooldown, relaxed time.Duration) *Breaker {
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		Relaxed:   relaxed,
		now:       time.Now,
	}
}

// Failure records one failed or timed-out fetch. It reports true when this
// failure crossed the threshold and the breaker entered backoff.
func (b *Breaker) Failure() bool {
	b.fails++
	if b.fails < b.Threshold {
		return false
	}

	b.fails = 0
	b.tripped = true
	b.until = b.now().Add(b.Cooldown)

	return true
}

// Success resets the consecutive-failure counter.
func (b *Breaker) Success() {
	b.fails = 0
}

func (b *Breaker) InBackoff() bool {
	return b.now().Before(b.until)
}

// Wait sleeps out the remainder of the cooldown window, if any.
func (b *Breaker) Wait(ctx context.Context) error {
	remain := b.until.Sub(b.now())
	if remain <= 0 {
		return nil
	}

	return sleepCtx(ctx, remain)
}

// Floor maps the configured base floor to the one currently in force: once
// the breaker has tripped, the worker stays on the relaxed floor for the rest
// of the run.
func (b *Breaker) Floor(base time.Duration) time.Duration {
	if b.tripped && b.Relaxed > base {
		return b.Relaxed
	}

	return base
}
