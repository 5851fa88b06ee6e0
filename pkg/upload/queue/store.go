// Package queue implements the durable finalize job store: a
// lease-based queue with compare-and-swap claims over a versioned
// key-value store, plus a best-effort index that accelerates due-job
// listing.
//
// The per-job records are authoritative. The index is rebuildable and
// both orphan directions (record without index entry, index entry
// without record) are tolerated by every reader.
package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/kv"
	"github.com/marmos91/pixstore/pkg/upload"
)

const (
	jobKeyPrefix = "uploads/jobs/"
	indexKey     = "uploads/job-index/index"

	// DefaultLeaseDuration bounds how long a claim stays exclusive.
	// It must exceed the expected worst-case finalize latency; expiry
	// is the sole recovery mechanism for crashed workers.
	DefaultLeaseDuration = 30 * time.Second
)

// Index is the persisted list of non-terminal job ids. Exported so
// wiring code can instantiate the typed store that holds it.
type Index struct {
	JobIDs []upload.JobID `json:"jobIds"`
}

// Config holds job store settings.
type Config struct {
	// LeaseDuration is how long a successful claim remains exclusive.
	LeaseDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
}

// Store persists finalize jobs.
type Store struct {
	jobs  kv.Full[upload.Job]
	index kv.Full[Index]
	lease time.Duration
}

// New creates a job store. Both typed stores may share one backend.
func New(jobs kv.Full[upload.Job], index kv.Full[Index], cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		jobs:  jobs,
		index: index,
		lease: cfg.LeaseDuration,
	}
}

func jobKey(id upload.JobID) string {
	return jobKeyPrefix + string(id)
}

// Get returns the job, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id upload.JobID) (*upload.Job, error) {
	job, found, err := s.jobs.Get(ctx, jobKey(id))
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &job, nil
}

// Enqueue persists the job record and then appends its id to the
// index. The two writes are not atomic: a crash in between leaves an
// orphan record, which listDue tolerates and which matters only for
// listing latency, never correctness.
func (s *Store) Enqueue(ctx context.Context, job upload.Job) error {
	if err := s.jobs.Set(ctx, jobKey(job.ID), job, nil); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	if err := s.indexAdd(ctx, job.ID); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	logger.Debug("enqueued finalize job",
		logger.JobID(string(job.ID)),
		logger.UploadID(string(job.UploadID)),
	)
	return nil
}

// ListDue returns up to limit jobs that are eligible to run at now:
// pending jobs whose runAt has passed, and running jobs whose lease
// has expired. Candidates are sorted by runAt ascending; ordering is a
// fairness hint, not a contract.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]upload.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	idx, found, err := s.index.Get(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: read index: %w", err)
	}
	if !found || len(idx.JobIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(idx.JobIDs))
	for i, id := range idx.JobIDs {
		keys[i] = jobKey(id)
	}

	records, err := s.jobs.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: read records: %w", err)
	}

	// Index entries without a record are orphans; skip silently.
	due := make([]upload.Job, 0, limit)
	for _, key := range keys {
		job, ok := records[key]
		if !ok {
			continue
		}
		if job.Status != upload.JobPending && job.Status != upload.JobRunning {
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		due = append(due, job)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].RunAt.Before(due[j].RunAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// TryClaim attempts to take an exclusive lease on the job. It returns
// the claimed job with status running and runAt set to the lease
// deadline, or nil when the job is absent, ineligible, or another
// claimer won the CAS race.
func (s *Store) TryClaim(ctx context.Context, id upload.JobID, at time.Time) (*upload.Job, error) {
	versioned, err := s.jobs.GetVersioned(ctx, jobKey(id))
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	if versioned == nil {
		return nil, nil
	}

	job := versioned.Value
	eligible := job.Status == upload.JobPending ||
		(job.Status == upload.JobRunning && !job.RunAt.After(at))
	if !eligible {
		return nil, nil
	}

	job.Status = upload.JobRunning
	job.RunAt = at.Add(s.lease)
	job.UpdatedAt = at

	result, err := s.jobs.SetIfVersion(ctx, jobKey(id), job, versioned.Version, nil)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	if result.Outcome != kv.CASWritten {
		return nil, nil
	}

	logger.Debug("claimed finalize job",
		logger.JobID(string(id)),
		logger.Attempt(job.Attempt),
	)
	return &job, nil
}

// MarkCompleted records terminal success and removes the job from the
// index. A missing job is a silent no-op for at-least-once delivery.
func (s *Store) MarkCompleted(ctx context.Context, id upload.JobID, at time.Time) error {
	return s.markTerminal(ctx, id, at, upload.JobCompleted, "")
}

// MarkFailed records terminal failure with the given reason and
// removes the job from the index. A missing job is a silent no-op.
func (s *Store) MarkFailed(ctx context.Context, id upload.JobID, at time.Time, reason string) error {
	return s.markTerminal(ctx, id, at, upload.JobFailed, reason)
}

func (s *Store) markTerminal(ctx context.Context, id upload.JobID, at time.Time, status upload.JobStatus, lastError string) error {
	versioned, err := s.jobs.GetVersioned(ctx, jobKey(id))
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", id, status, err)
	}
	if versioned == nil {
		return nil
	}

	job := versioned.Value
	job.Status = status
	job.UpdatedAt = at
	if lastError != "" {
		job.LastError = lastError
	}

	result, err := s.jobs.SetIfVersion(ctx, jobKey(id), job, versioned.Version, nil)
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", id, status, err)
	}
	if result.Outcome != kv.CASWritten {
		// Lost the race; the winner owns the terminal write.
		return nil
	}

	if err := s.indexRemove(ctx, id); err != nil {
		return fmt.Errorf("mark job %s %s: %w", id, status, err)
	}

	logger.Debug("retired finalize job",
		logger.JobID(string(id)),
		logger.Status(string(status)),
	)
	return nil
}

// Reschedule returns the job to the pending pool with an incremented
// attempt counter and a new earliest-dispatch time. The job stays in
// the index. A missing job is an error: rescheduling only makes sense
// for live jobs.
func (s *Store) Reschedule(ctx context.Context, id upload.JobID, nextRunAt, at time.Time, lastError string) error {
	versioned, err := s.jobs.GetVersioned(ctx, jobKey(id))
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	if versioned == nil {
		return fmt.Errorf("reschedule job %s: job not found", id)
	}

	job := versioned.Value
	job.Status = upload.JobPending
	job.Attempt++
	job.RunAt = nextRunAt
	job.UpdatedAt = at
	if lastError != "" {
		job.LastError = lastError
	}

	result, err := s.jobs.SetIfVersion(ctx, jobKey(id), job, versioned.Version, nil)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	if result.Outcome != kv.CASWritten {
		return fmt.Errorf("reschedule job %s: concurrent modification", id)
	}

	logger.Debug("rescheduled finalize job",
		logger.JobID(string(id)),
		logger.Attempt(job.Attempt),
		logger.Reason(lastError),
	)
	return nil
}

// indexAdd appends id to the index. Read-modify-write without CAS: the
// index is best-effort, and a lost concurrent append is equivalent to
// the orphan the non-atomic enqueue already admits.
func (s *Store) indexAdd(ctx context.Context, id upload.JobID) error {
	idx, _, err := s.index.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("read job index: %w", err)
	}

	for _, existing := range idx.JobIDs {
		if existing == id {
			return nil
		}
	}
	idx.JobIDs = append(idx.JobIDs, id)

	if err := s.index.Set(ctx, indexKey, idx, nil); err != nil {
		return fmt.Errorf("write job index: %w", err)
	}
	return nil
}

func (s *Store) indexRemove(ctx context.Context, id upload.JobID) error {
	idx, found, err := s.index.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("read job index: %w", err)
	}
	if !found {
		return nil
	}

	kept := idx.JobIDs[:0]
	for _, existing := range idx.JobIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(idx.JobIDs) {
		return nil
	}
	idx.JobIDs = kept

	if err := s.index.Set(ctx, indexKey, idx, nil); err != nil {
		return fmt.Errorf("write job index: %w", err)
	}
	return nil
}
