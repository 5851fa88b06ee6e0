package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for tests.
//
// Sleep returns immediately (after recording the requested duration), so
// tests exercising retry and lease logic never block on real time.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFake returns a Fake pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NowMs returns the fake current time as Unix milliseconds.
func (f *Fake) NowMs() int64 {
	return f.Now().UnixMilli()
}

// Sleep records the requested duration, advances the fake clock by it,
// and returns without blocking. Context cancellation is still honoured.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.sleeps = append(f.sleeps, d)
		f.now = f.now.Add(d)
	}
	return nil
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns the durations passed to Sleep, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Ensure Fake implements Clock.
var _ Clock = (*Fake)(nil)
