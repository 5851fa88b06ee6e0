// Package worker implements the finalization worker: a poll-based loop
// that claims due finalize jobs from the job store and drives each one
// through the orchestrator under bounded concurrency.
//
// Crash safety comes from the job store's lease model, not from the
// worker: a worker that dies mid-job simply lets the lease expire, and
// any worker (including a restarted self) reclaims the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/backoff"
	"github.com/marmos91/pixstore/pkg/clock"
	"github.com/marmos91/pixstore/pkg/metrics"
	"github.com/marmos91/pixstore/pkg/retry"
	"github.com/marmos91/pixstore/pkg/upload"
	"github.com/marmos91/pixstore/pkg/upload/queue"
	"github.com/marmos91/pixstore/pkg/upload/service"
)

const (
	// DefaultConcurrency bounds simultaneously processing jobs.
	DefaultConcurrency = 4

	// DefaultPollLimit caps the jobs fetched per poll.
	DefaultPollLimit = 16

	// DefaultCapacityPoll is the sleep while all slots are busy.
	DefaultCapacityPoll = 50 * time.Millisecond

	// DefaultDrainPoll is how often Stop re-checks in-flight jobs.
	DefaultDrainPoll = 50 * time.Millisecond

	// DefaultMaxJobAttempts bounds retries before a job is marked
	// permanently failed.
	DefaultMaxJobAttempts = 5
)

// ErrAlreadyRunning is returned by Start on a running worker.
var ErrAlreadyRunning = errors.New("worker: already running")

// Finalizer drives one upload to a terminal state.
type Finalizer interface {
	FinalizeUpload(ctx context.Context, job upload.Job) (service.FinalizeResult, error)
}

// Config holds worker settings. The zero value gets usable defaults.
type Config struct {
	// Concurrency is the maximum number of jobs processed at once.
	Concurrency int

	// PollLimit caps how many due jobs one poll fetches.
	PollLimit int

	// CapacityPoll is the sleep between polls while at capacity.
	CapacityPoll time.Duration

	// DrainPoll is the interval at which Stop re-checks in-flight jobs.
	DrainPoll time.Duration

	// IdleBackoff supplies the sleep after a poll that found no due
	// jobs; it is consulted with the count of consecutive idle polls.
	IdleBackoff backoff.Policy

	// IORetry is the retry budget wrapped around every store and
	// finalize call.
	IORetry retry.Config

	// JobRetryDelay maps a job's attempt number to the wait before its
	// next run.
	JobRetryDelay backoff.Policy

	// MaxJobAttempts bounds how many times a job may run before it is
	// marked permanently failed.
	MaxJobAttempts int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollLimit <= 0 {
		c.PollLimit = DefaultPollLimit
	}
	if c.CapacityPoll <= 0 {
		c.CapacityPoll = DefaultCapacityPoll
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = DefaultDrainPoll
	}
	if c.IdleBackoff == nil {
		c.IdleBackoff = backoff.Clamp(
			backoff.Exponential(100*time.Millisecond, 2),
			100*time.Millisecond,
			5*time.Second,
		)
	}
	if c.IORetry.MaxAttempts <= 0 {
		c.IORetry = retry.Config{
			MaxAttempts: 3,
			Delay:       backoff.Constant(100 * time.Millisecond),
		}
	}
	if c.JobRetryDelay == nil {
		c.JobRetryDelay = backoff.Clamp(
			backoff.Exponential(time.Second, 2),
			time.Second,
			time.Minute,
		)
	}
	if c.MaxJobAttempts <= 0 {
		c.MaxJobAttempts = DefaultMaxJobAttempts
	}
}

// Worker polls the job store and finalizes claimed jobs.
type Worker struct {
	jobs      *queue.Store
	finalizer Finalizer
	clock     clock.Clock
	retrier   *retry.Executor
	metrics   *metrics.WorkerMetrics
	config    Config

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a worker. A nil clock defaults to the system clock; nil
// workerMetrics disables instrumentation.
func New(jobs *queue.Store, finalizer Finalizer, clk clock.Clock, workerMetrics *metrics.WorkerMetrics, cfg Config) *Worker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	cfg.applyDefaults()
	return &Worker{
		jobs:      jobs,
		finalizer: finalizer,
		clock:     clk,
		retrier:   retry.New(clk),
		metrics:   workerMetrics,
		config:    cfg,
	}
}

// Start launches the poll loop. It returns ErrAlreadyRunning on a
// running worker; a stopped worker may be started again.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}
	w.running = true
	w.stopCh = make(chan struct{})

	logger.Info("starting finalization worker",
		"concurrency", w.config.Concurrency,
		"maxJobAttempts", w.config.MaxJobAttempts,
	)

	w.wg.Add(1)
	go w.run(ctx, w.stopCh)
	return nil
}

// Stop signals the poll loop and waits for in-flight jobs to finish,
// re-checking every DrainPoll. It returns ctx.Err() when the context
// expires first; leases cover whatever was still running.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	logger.Info("stopping finalization worker", "inFlight", w.inFlight.Load())

	for w.inFlight.Load() > 0 {
		if err := w.clock.Sleep(ctx, w.config.DrainPoll); err != nil {
			logger.Warn("worker stop timed out", "inFlight", w.inFlight.Load())
			return err
		}
	}
	w.wg.Wait()

	logger.Info("finalization worker stopped")
	return nil
}

// InFlight returns the number of jobs currently processing.
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

func (w *Worker) stopped(stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// run is the poll loop. Each iteration fills whatever concurrency
// capacity is free; an empty poll backs off exponentially so an idle
// worker does not hammer the store.
func (w *Worker) run(ctx context.Context, stopCh chan struct{}) {
	defer w.wg.Done()

	// Every sleep below races against the stop signal, so Stop
	// interrupts an idle backoff instead of waiting it out. Jobs in
	// flight are unaffected; processJob runs on its own context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	consecutiveIdle := 0
	for {
		if w.stopped(stopCh) || ctx.Err() != nil {
			return
		}

		capacity := w.config.Concurrency - int(w.inFlight.Load())
		if capacity <= 0 {
			if err := w.clock.Sleep(ctx, w.config.CapacityPoll); err != nil {
				return
			}
			continue
		}

		limit := capacity
		if limit > w.config.PollLimit {
			limit = w.config.PollLimit
		}

		due, err := w.listDue(ctx, limit)
		if err != nil {
			logger.Warn("failed to list due jobs", logger.Err(err))
			consecutiveIdle++
		} else if len(due) == 0 {
			w.metrics.RecordIdlePoll()
			consecutiveIdle++
		} else {
			consecutiveIdle = 0
			w.claimAndProcess(ctx, stopCh, due)
			continue
		}

		if err := w.clock.Sleep(ctx, w.config.IdleBackoff.Delay(consecutiveIdle)); err != nil {
			return
		}
	}
}

func (w *Worker) listDue(ctx context.Context, limit int) ([]upload.Job, error) {
	var due []upload.Job
	err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
		var err error
		due, err = w.jobs.ListDue(ctx, w.clock.Now(), limit)
		return err
	})
	return due, err
}

// claimAndProcess claims each candidate and dispatches the winners.
// Losing a claim is normal under multiple workers and is skipped
// silently.
func (w *Worker) claimAndProcess(ctx context.Context, stopCh chan struct{}, due []upload.Job) {
	for _, candidate := range due {
		if w.stopped(stopCh) || ctx.Err() != nil {
			return
		}
		if int(w.inFlight.Load()) >= w.config.Concurrency {
			return
		}

		var claimed *upload.Job
		err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
			var err error
			claimed, err = w.jobs.TryClaim(ctx, candidate.ID, w.clock.Now())
			return err
		})
		if err != nil {
			logger.Warn("failed to claim job",
				logger.JobID(string(candidate.ID)),
				logger.Err(err),
			)
			continue
		}
		if claimed == nil {
			w.metrics.RecordClaim("lost")
			continue
		}
		w.metrics.RecordClaim("won")

		w.inFlight.Add(1)
		w.metrics.RecordInFlight(1)
		w.wg.Add(1)
		go w.processJob(*claimed)
	}
}

// processJob runs one claimed job to a decision. It deliberately uses a
// fresh context so shutdown does not abandon a half-finalized upload;
// the drain loop in Stop waits for it instead.
func (w *Worker) processJob(job upload.Job) {
	ctx := context.Background()
	start := w.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job",
				logger.JobID(string(job.ID)),
				"panic", fmt.Sprint(r),
			)
			w.scheduleRetry(ctx, job, fmt.Sprintf("panic: %v", r))
			w.metrics.ObserveJob("panic", w.clock.Now().Sub(start))
		}
		w.inFlight.Add(-1)
		w.metrics.RecordInFlight(-1)
		w.wg.Done()
	}()

	var result service.FinalizeResult
	err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
		var err error
		result, err = w.finalizer.FinalizeUpload(ctx, job)
		return err
	})
	if err != nil {
		// Infrastructure error that outlived the inner retry budget;
		// hand the job back through the durable retry path.
		logger.Warn("finalize attempt failed",
			logger.JobID(string(job.ID)),
			logger.UploadID(string(job.UploadID)),
			logger.Err(err),
		)
		w.scheduleRetry(ctx, job, err.Error())
		w.metrics.ObserveJob("error", w.clock.Now().Sub(start))
		return
	}

	w.metrics.ObserveJob(result.Outcome.String(), w.clock.Now().Sub(start))

	switch result.Outcome {
	case service.FinalizeFinalized, service.FinalizeAlreadyFinalized:
		w.markCompleted(ctx, job)

	case service.FinalizeRetry:
		w.scheduleRetry(ctx, job, result.Reason)

	case service.FinalizeFailed:
		w.markPermanentlyFailed(ctx, job, result.Reason)

	case service.FinalizeNotFound:
		// A job pointing at a nonexistent upload can never succeed.
		w.markPermanentlyFailed(ctx, job, service.ReasonUploadNotFound)
	}
}

// scheduleRetry returns the job to the pending pool, or marks it
// permanently failed when the attempt budget is exhausted. Bookkeeping
// errors are logged and swallowed: the lease expiry path redelivers the
// job either way.
func (w *Worker) scheduleRetry(ctx context.Context, job upload.Job, reason string) {
	nextAttempt := job.Attempt + 1
	if nextAttempt > w.config.MaxJobAttempts {
		logger.Warn("job exhausted retry budget",
			logger.JobID(string(job.ID)),
			logger.UploadID(string(job.UploadID)),
			logger.Attempt(job.Attempt),
			logger.Reason(reason),
		)
		w.markPermanentlyFailed(ctx, job, reason)
		return
	}

	nextRunAt := w.clock.Now().Add(w.config.JobRetryDelay.Delay(nextAttempt))
	err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
		return w.jobs.Reschedule(ctx, job.ID, nextRunAt, w.clock.Now(), reason)
	})
	if err != nil {
		logger.Warn("failed to reschedule job",
			logger.JobID(string(job.ID)),
			logger.Err(err),
		)
	}
}

func (w *Worker) markCompleted(ctx context.Context, job upload.Job) {
	err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
		return w.jobs.MarkCompleted(ctx, job.ID, w.clock.Now())
	})
	if err != nil {
		logger.Warn("failed to mark job completed",
			logger.JobID(string(job.ID)),
			logger.Err(err),
		)
	}
}

func (w *Worker) markPermanentlyFailed(ctx context.Context, job upload.Job, reason string) {
	logger.Info("job permanently failed",
		logger.JobID(string(job.ID)),
		logger.UploadID(string(job.UploadID)),
		logger.Reason(reason),
	)
	err := w.retrier.Execute(ctx, w.config.IORetry, func(ctx context.Context) error {
		return w.jobs.MarkFailed(ctx, job.ID, w.clock.Now(), reason)
	})
	if err != nil {
		logger.Warn("failed to mark job failed",
			logger.JobID(string(job.ID)),
			logger.Err(err),
		)
	}
}
