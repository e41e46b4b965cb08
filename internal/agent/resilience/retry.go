package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is a bounded exponential backoff: Min, 2*Min, 4*Min ... capped at Max.
type RetryPolicy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Min <= 0 {
		p.Min = time.Second
	}
	if p.Max < p.Min {
		p.Max = p.Min
	}
	return p
}

// NewBackOff returns a fresh schedule for one retried call. Intervals are not
// randomized, so the waits are exactly Min, 2*Min ... Max.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	p = p.normalized()
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.Min,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleeperBackOff hands every wait to a Sleeper and tells backoff.Retry to go again
// immediately. A failed sleep stops the retries.
type sleeperBackOff struct {
	ctx   context.Context
	inner backoff.BackOff
	sleep Sleeper
}

func (b *sleeperBackOff) NextBackOff() time.Duration {
	d := b.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if err := b.sleep(b.ctx, d); err != nil {
		return backoff.Stop
	}
	return 0
}

func (b *sleeperBackOff) Reset() {
	b.inner.Reset()
}
