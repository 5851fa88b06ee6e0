// Package clock provides the time capability consumed by the upload
// pipeline. Production code uses the system clock; tests substitute a
// fake to make lease expiry and backoff deterministic.
package clock

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time and cancellable sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowMs returns the current time as Unix milliseconds.
	NowMs() int64

	// Sleep blocks for d or until ctx is cancelled, whichever comes
	// first. Returns ctx.Err() when interrupted, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the real wall-clock implementation.
type System struct{}

// NewSystem returns a Clock backed by the OS clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current time.
func (s *System) Now() time.Time {
	return time.Now()
}

// NowMs returns the current time as Unix milliseconds.
func (s *System) NowMs() int64 {
	return time.Now().UnixMilli()
}

// Sleep blocks for d or until ctx is cancelled.
func (s *System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure System implements Clock.
var _ Clock = (*System)(nil)
