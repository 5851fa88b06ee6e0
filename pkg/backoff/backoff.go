// Package backoff provides delay policies for retry loops and worker
// idle sleeps.
//
// A Policy maps an attempt number (1-based) to a delay. Base strategies
// (constant, linear, exponential) compose with jitter and clamping
// wrappers. All computed delays are floored to non-negative whole
// milliseconds; NaN and infinite intermediate values are sanitized to
// the configured minimum.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy maps a 1-based attempt number to a delay.
type Policy interface {
	Delay(attempt int) time.Duration
}

// PolicyFunc adapts a plain function to a Policy.
type PolicyFunc func(attempt int) time.Duration

// Delay implements Policy.
func (f PolicyFunc) Delay(attempt int) time.Duration {
	return f(attempt)
}

// normalizeAttempt clamps attempt numbers below 1 up to 1.
func normalizeAttempt(attempt int) int {
	if attempt < 1 {
		return 1
	}
	return attempt
}

// floorMs rounds a delay down to whole non-negative milliseconds.
// NaN and infinities sanitize to min.
func floorMs(ms float64, min time.Duration) time.Duration {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return min
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(math.Floor(ms)) * time.Millisecond
}

// ============================================================================
// Base Strategies
// ============================================================================

// Constant returns the same delay for every attempt.
func Constant(d time.Duration) Policy {
	return PolicyFunc(func(int) time.Duration {
		return floorMs(float64(d.Milliseconds()), 0)
	})
}

// Linear grows the delay by a fixed increment per attempt:
// base + increment*(attempt-1).
func Linear(base, increment time.Duration) Policy {
	return PolicyFunc(func(attempt int) time.Duration {
		n := float64(normalizeAttempt(attempt) - 1)
		ms := float64(base.Milliseconds()) + float64(increment.Milliseconds())*n
		return floorMs(ms, 0)
	})
}

// Exponential multiplies the base delay by factor^(attempt-1).
// A factor <= 0 defaults to 2.
func Exponential(base time.Duration, factor float64) Policy {
	if factor <= 0 {
		factor = 2
	}
	return PolicyFunc(func(attempt int) time.Duration {
		n := float64(normalizeAttempt(attempt) - 1)
		ms := float64(base.Milliseconds()) * math.Pow(factor, n)
		return floorMs(ms, 0)
	})
}

// ============================================================================
// Clamping
// ============================================================================

// Clamp bounds the wrapped policy's delays to [min, max].
// A max of 0 means unbounded above.
func Clamp(p Policy, min, max time.Duration) Policy {
	if min < 0 {
		min = 0
	}
	return PolicyFunc(func(attempt int) time.Duration {
		d := p.Delay(attempt)
		if d < min {
			d = min
		}
		if max > 0 && d > max {
			d = max
		}
		return d
	})
}

// ============================================================================
// Jitter
// ============================================================================

// lockedRand guards a rand.Rand for concurrent policy use.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(rng *rand.Rand) *lockedRand {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &lockedRand{rng: rng}
}

// float64n returns a uniform value in [0, 1).
func (l *lockedRand) float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

// FullJitter spreads each delay uniformly over [0, delay].
// Pass a nil rng to use a time-seeded source.
func FullJitter(p Policy, rng *rand.Rand) Policy {
	r := newLockedRand(rng)
	return PolicyFunc(func(attempt int) time.Duration {
		d := p.Delay(attempt)
		ms := r.float64() * float64(d.Milliseconds())
		return floorMs(ms, 0)
	})
}

// EqualJitter spreads each delay uniformly over [delay/2, delay].
// Pass a nil rng to use a time-seeded source.
func EqualJitter(p Policy, rng *rand.Rand) Policy {
	r := newLockedRand(rng)
	return PolicyFunc(func(attempt int) time.Duration {
		d := float64(p.Delay(attempt).Milliseconds())
		ms := d/2 + r.float64()*(d/2)
		return floorMs(ms, 0)
	})
}

// DecorrelatedJitter implements the "decorrelated" strategy: each delay
// is drawn uniformly from [min, prev*3], clamped to [min, max], where
// prev is the previously returned delay (starting at min). The policy
// is stateful and safe for concurrent use.
func DecorrelatedJitter(min, max time.Duration, rng *rand.Rand) Policy {
	if min < 0 {
		min = 0
	}
	r := newLockedRand(rng)

	var mu sync.Mutex
	prev := min

	return PolicyFunc(func(int) time.Duration {
		mu.Lock()
		defer mu.Unlock()

		lo := float64(min.Milliseconds())
		hi := float64(prev.Milliseconds()) * 3
		if hi < lo {
			hi = lo
		}

		ms := lo + r.float64()*(hi-lo)
		d := floorMs(ms, min)
		if d < min {
			d = min
		}
		if max > 0 && d > max {
			d = max
		}

		prev = d
		return d
	})
}
