// Package backoff computes retry delays for failed step invocations.
// Strategies hold no mutable state and may be shared across executions.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt. Attempts are
// 1-indexed: attempt 1 is the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt. Steps that declare
// an explicit retry delay are scheduled with a Constant strategy.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear grows the delay by Initial per attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns attempt*Initial, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capped(time.Duration(attempt)*l.Initial, l.Max)
}

// Exponential doubles the delay on every attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial doubled attempt-1 times, capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(doubled(e.Initial, attempt), e.Max)
}

// ExponentialWithJitter draws a uniformly random delay from
// [0, min(Initial doubled attempt-1 times, Max)]. Full jitter keeps a
// batch of steps that failed together from retrying in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration up to the capped exponential bound.
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	bound := capped(doubled(e.Initial, attempt), e.Max)
	if bound <= 0 {
		return 0
	}
	return rand.N(bound) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy is the engine fallback when neither the step nor the
// configuration names a delay: full jitter, 500ms initial, 30s cap.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(500*time.Millisecond, 30*time.Second)
}

// doubled shifts initial left attempt-1 times, saturating instead of
// overflowing.
func doubled(initial time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		next := d << 1
		if next < d {
			return d
		}
		d = next
	}
	return d
}

// capped limits d to maxDelay when a positive cap is set.
func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
