// Package retry provides a bounded retry executor for operations whose
// failure mode is transient infrastructure rather than domain logic.
//
// Callers describe the budget in a Config (attempt count, delay policy,
// optional wall-clock ceiling) and hand the executor a closure. Expected
// business outcomes should never travel through here as errors; only
// genuinely retriable failures belong in the closure's error return.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/pixstore/pkg/backoff"
	"github.com/marmos91/pixstore/pkg/clock"
)

// Config describes a retry budget.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Must be >= 1.
	MaxAttempts int

	// Delay supplies the wait before each re-attempt. The policy is
	// consulted with the 1-based number of the attempt about to run.
	// A nil policy means no delay between attempts.
	Delay backoff.Policy

	// MaxElapsed caps total wall-clock time across attempts and sleeps.
	// Zero means unbounded. When the next sleep would exceed the cap,
	// execution stops and the last error is surfaced.
	MaxElapsed time.Duration

	// RetryIf decides whether an error is retriable. A nil predicate
	// retries every error.
	RetryIf func(error) bool
}

// Validate checks the config before execution.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MaxElapsed < 0 {
		return fmt.Errorf("retry: MaxElapsed must be >= 0, got %s", c.MaxElapsed)
	}
	return nil
}

// Outcome reports how a TryExecute run ended.
type Outcome struct {
	// Success is true when the operation returned nil.
	Success bool

	// Attempts is the number of attempts actually made.
	Attempts int

	// Elapsed is the total wall-clock time spent.
	Elapsed time.Duration

	// Err is the last error observed (nil on success).
	Err error

	// Aborted is true when the context was cancelled mid-run.
	Aborted bool

	// TimedOut is true when MaxElapsed stopped further attempts.
	TimedOut bool
}

// Executor runs operations under a retry budget.
// The zero value is not usable; construct with New.
type Executor struct {
	clock clock.Clock
}

// New creates an Executor. A nil clock defaults to the system clock.
func New(c clock.Clock) *Executor {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Executor{clock: c}
}

// Execute runs fn under cfg and returns the final error (nil on
// success). Config validation failures are returned without running fn.
func (e *Executor) Execute(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	out := e.TryExecute(ctx, cfg, fn)
	return out.Err
}

// TryExecute runs fn under cfg and reports the full outcome.
func (e *Executor) TryExecute(ctx context.Context, cfg Config, fn func(ctx context.Context) error) Outcome {
	if err := cfg.Validate(); err != nil {
		return Outcome{Err: err}
	}

	start := e.clock.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{
				Attempts: attempt - 1,
				Elapsed:  e.clock.Now().Sub(start),
				Err:      lastErr,
				Aborted:  true,
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return Outcome{
				Success:  true,
				Attempts: attempt,
				Elapsed:  e.clock.Now().Sub(start),
			}
		}

		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return Outcome{
				Attempts: attempt,
				Elapsed:  e.clock.Now().Sub(start),
				Err:      lastErr,
			}
		}

		if attempt >= cfg.MaxAttempts {
			return Outcome{
				Attempts: attempt,
				Elapsed:  e.clock.Now().Sub(start),
				Err:      lastErr,
			}
		}

		var delay time.Duration
		if cfg.Delay != nil {
			// The policy sees the number of the attempt about to run.
			delay = cfg.Delay.Delay(attempt + 1)
		}

		if cfg.MaxElapsed > 0 {
			elapsed := e.clock.Now().Sub(start)
			if elapsed+delay >= cfg.MaxElapsed {
				return Outcome{
					Attempts: attempt,
					Elapsed:  elapsed,
					Err:      lastErr,
					TimedOut: true,
				}
			}
		}

		if err := e.clock.Sleep(ctx, delay); err != nil {
			return Outcome{
				Attempts: attempt,
				Elapsed:  e.clock.Now().Sub(start),
				Err:      lastErr,
				Aborted:  true,
			}
		}
	}
}
