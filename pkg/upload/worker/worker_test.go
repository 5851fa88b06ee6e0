package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixstore/pkg/backoff"
	"github.com/marmos91/pixstore/pkg/kv/memory"
	"github.com/marmos91/pixstore/pkg/retry"
	"github.com/marmos91/pixstore/pkg/upload"
	"github.com/marmos91/pixstore/pkg/upload/queue"
	"github.com/marmos91/pixstore/pkg/upload/service"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// stubFinalizer runs a configurable function per call and counts calls.
type stubFinalizer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, job upload.Job) (service.FinalizeResult, error)
}

func (s *stubFinalizer) FinalizeUpload(ctx context.Context, job upload.Job) (service.FinalizeResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fn := s.fn
	s.mu.Unlock()
	return fn(call, job)
}

func (s *stubFinalizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fastConfig keeps every test interval tiny so polls and retries
// resolve well inside the Eventually window.
func fastConfig() Config {
	return Config{
		Concurrency:  2,
		PollLimit:    10,
		CapacityPoll: time.Millisecond,
		DrainPoll:    time.Millisecond,
		IdleBackoff:  backoff.Constant(time.Millisecond),
		IORetry: retry.Config{
			MaxAttempts: 2,
			Delay:       backoff.Constant(0),
		},
		JobRetryDelay:  backoff.Constant(time.Millisecond),
		MaxJobAttempts: 5,
	}
}

func newTestWorker(t *testing.T, fn func(call int, job upload.Job) (service.FinalizeResult, error), cfg Config) (*Worker, *queue.Store, *stubFinalizer) {
	t.Helper()
	jobs := queue.New(memory.New[upload.Job](), memory.New[queue.Index](), queue.Config{LeaseDuration: time.Minute})
	finalizer := &stubFinalizer{fn: fn}
	w := New(jobs, finalizer, nil, nil, cfg)
	return w, jobs, finalizer
}

func enqueueJob(t *testing.T, jobs *queue.Store) upload.Job {
	t.Helper()
	now := time.Now().Add(-time.Second)
	job := upload.Job{
		ID:        upload.NewJobID(),
		UploadID:  upload.NewID(),
		Status:    upload.JobPending,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, jobs.Enqueue(context.Background(), job))
	return job
}

func jobStatus(jobs *queue.Store, id upload.JobID) func() upload.JobStatus {
	return func() upload.JobStatus {
		got, err := jobs.Get(context.Background(), id)
		if err != nil || got == nil {
			return ""
		}
		return got.Status
	}
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = w.Stop(stopCtx)
	})
}

func TestWorker_ProcessesJobToCompletion(t *testing.T) {
	w, jobs, finalizer := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
	assert.GreaterOrEqual(t, finalizer.callCount(), 1)
}

func TestWorker_AlreadyFinalizedCompletes(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeAlreadyFinalized}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
}

func TestWorker_RetriesThenCompletes(t *testing.T) {
	w, jobs, finalizer := newTestWorker(t, func(call int, _ upload.Job) (service.FinalizeResult, error) {
		if call == 1 {
			return service.FinalizeResult{
				Outcome: service.FinalizeRetry,
				Reason:  service.ReasonStagingObjectMissing,
			}, nil
		}
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
	assert.GreaterOrEqual(t, finalizer.callCount(), 2)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ReasonStagingObjectMissing, got.LastError)
	assert.GreaterOrEqual(t, got.Attempt, 1)
}

func TestWorker_PermanentFailure(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{
			Outcome: service.FinalizeFailed,
			Reason:  service.ReasonMissingOriginalVariant,
		}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobFailed }, waitFor, tick)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ReasonMissingOriginalVariant, got.LastError)
}

func TestWorker_MissingUploadFailsJob(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeNotFound}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobFailed }, waitFor, tick)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ReasonUploadNotFound, got.LastError)
}

func TestWorker_ExhaustedAttemptsFailJob(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxJobAttempts = 2

	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{
			Outcome: service.FinalizeRetry,
			Reason:  service.ReasonStagingObjectMissing,
		}, nil
	}, cfg)

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobFailed }, waitFor, tick)
}

func TestWorker_InfrastructureErrorRetriesJob(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(call int, _ upload.Job) (service.FinalizeResult, error) {
		if call <= 2 {
			// Both inner retry attempts fail, pushing the job through
			// the durable reschedule path.
			return service.FinalizeResult{}, errors.New("blob store unreachable")
		}
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
}

func TestWorker_PanicSchedulesRetry(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(call int, _ upload.Job) (service.FinalizeResult, error) {
		if call == 1 {
			panic("processor blew up")
		}
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
}

func TestWorker_ConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	var peak atomic.Int64
	var active atomic.Int64

	cfg := fastConfig()
	cfg.Concurrency = 2

	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, cfg)

	for i := 0; i < 5; i++ {
		enqueueJob(t, jobs)
	}
	startWorker(t, w)

	assert.Eventually(t, func() bool { return active.Load() == 2 }, waitFor, tick)
	close(release)

	assert.Eventually(t, func() bool {
		due, err := jobs.ListDue(context.Background(), time.Now().Add(time.Hour), 10)
		return err == nil && len(due) == 0 && w.InFlight() == 0
	}, waitFor, tick)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorker_StartTwice(t *testing.T) {
	w, _, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	startWorker(t, w)
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyRunning)
}

func TestWorker_StopInterruptsIdleSleep(t *testing.T) {
	cfg := fastConfig()
	cfg.IdleBackoff = backoff.Constant(time.Minute)

	w, _, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, cfg)

	require.NoError(t, w.Start(context.Background()))

	// Let the loop find the queue empty and settle into its idle sleep.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	stopCtx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))
	assert.Less(t, time.Since(start), time.Second,
		"Stop should interrupt the idle sleep, not wait it out")
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w, _, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	assert.NoError(t, w.Stop(context.Background()))
}

func TestWorker_Restart(t *testing.T) {
	w, jobs, _ := newTestWorker(t, func(int, upload.Job) (service.FinalizeResult, error) {
		return service.FinalizeResult{Outcome: service.FinalizeFinalized}, nil
	}, fastConfig())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))

	job := enqueueJob(t, jobs)
	startWorker(t, w)

	status := jobStatus(jobs, job.ID)
	assert.Eventually(t, func() bool { return status() == upload.JobCompleted }, waitFor, tick)
}
