package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixstore/pkg/kv/memory"
	"github.com/marmos91/pixstore/pkg/upload"
)

var (
	t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func newTestStore(lease time.Duration) *Store {
	return New(
		memory.New[upload.Job](),
		memory.New[Index](),
		Config{LeaseDuration: lease},
	)
}

func newTestJob(runAt time.Time) upload.Job {
	return upload.Job{
		ID:        upload.NewJobID(),
		UploadID:  upload.NewID(),
		Status:    upload.JobPending,
		Attempt:   0,
		RunAt:     runAt,
		CreatedAt: runAt,
		UpdatedAt: runAt,
	}
}

func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()
	job := newTestJob(t0)

	require.NoError(t, s.Enqueue(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job, *got)

	missing, err := s.Get(ctx, upload.NewJobID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListDue(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	due := newTestJob(t0)
	future := newTestJob(t0.Add(time.Hour))
	require.NoError(t, s.Enqueue(ctx, due))
	require.NoError(t, s.Enqueue(ctx, future))

	jobs, err := s.ListDue(ctx, t1, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
}

func TestListDue_EmptyIndex(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	jobs, err := s.ListDue(context.Background(), t1, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListDue_Limit(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestJob(t0)))
	}

	jobs, err := s.ListDue(ctx, t1, 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestListDue_SortedByRunAt(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	late := newTestJob(t0.Add(30 * time.Second))
	early := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, late))
	require.NoError(t, s.Enqueue(ctx, early))

	jobs, err := s.ListDue(ctx, t1, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, early.ID, jobs[0].ID)
	assert.Equal(t, late.ID, jobs[1].ID)
}

func TestListDue_IncludesExpiredLease(t *testing.T) {
	t.Parallel()

	lease := 30 * time.Second
	s := newTestStore(lease)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.TryClaim(ctx, job.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Within the lease window the running job is not due.
	jobs, err := s.ListDue(ctx, t0.Add(lease/2), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// After lease expiry the job is eligible for reclaim.
	jobs, err = s.ListDue(ctx, t0.Add(lease+time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, upload.JobRunning, jobs[0].Status)
}

func TestListDue_ToleratesIndexOrphans(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	// Simulate an orphan: index entry pointing at a deleted record.
	require.NoError(t, s.jobs.Delete(ctx, jobKey(job.ID)))

	jobs, err := s.ListDue(ctx, t1, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestTryClaim(t *testing.T) {
	t.Parallel()

	lease := 30 * time.Second
	s := newTestStore(lease)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.TryClaim(ctx, job.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, upload.JobRunning, claimed.Status)
	assert.Equal(t, t0.Add(lease), claimed.RunAt)
	assert.Equal(t, t0, claimed.UpdatedAt)
}

func TestTryClaim_SecondClaimerLoses(t *testing.T) {
	t.Parallel()

	s := newTestStore(30 * time.Second)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	first, err := s.TryClaim(ctx, job.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The lease is live, so a second claim is ineligible.
	second, err := s.TryClaim(ctx, job.ID, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestTryClaim_ReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	lease := 30 * time.Second
	s := newTestStore(lease)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	first, err := s.TryClaim(ctx, job.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, first)

	// After the lease deadline another worker may reclaim.
	reclaimAt := t0.Add(lease + time.Second)
	second, err := s.TryClaim(ctx, job.ID, reclaimAt)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, reclaimAt.Add(lease), second.RunAt)
}

func TestTryClaim_MissingAndTerminal(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	claimed, err := s.TryClaim(ctx, upload.NewJobID(), t0)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.MarkCompleted(ctx, job.ID, t0))

	claimed, err = s.TryClaim(ctx, job.ID, t1)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMarkCompleted(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.MarkCompleted(ctx, job.ID, t1))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "terminal jobs remain persisted for audit")
	assert.Equal(t, upload.JobCompleted, got.Status)
	assert.Equal(t, t1, got.UpdatedAt)

	// Terminal jobs leave the index.
	jobs, err := s.ListDue(ctx, t1.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMarkCompleted_MissingIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	assert.NoError(t, s.MarkCompleted(context.Background(), upload.NewJobID(), t1))
}

func TestMarkFailed(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))
	require.NoError(t, s.MarkFailed(ctx, job.ID, t1, "missing_original_variant"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, upload.JobFailed, got.Status)
	assert.Equal(t, "missing_original_variant", got.LastError)

	assert.NoError(t, s.MarkFailed(ctx, upload.NewJobID(), t1, "x"))
}

func TestReschedule(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	ctx := context.Background()

	job := newTestJob(t0)
	require.NoError(t, s.Enqueue(ctx, job))

	claimed, err := s.TryClaim(ctx, job.ID, t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	nextRunAt := t1.Add(10 * time.Second)
	require.NoError(t, s.Reschedule(ctx, job.ID, nextRunAt, t1, "staging_object_missing"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, nextRunAt, got.RunAt)
	assert.Equal(t, "staging_object_missing", got.LastError)

	// Rescheduled jobs stay in the index and come due again.
	jobs, err := s.ListDue(ctx, nextRunAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestReschedule_MissingIsError(t *testing.T) {
	t.Parallel()

	s := newTestStore(0)
	err := s.Reschedule(context.Background(), upload.NewJobID(), t1, t1, "")
	assert.Error(t, err)
}
