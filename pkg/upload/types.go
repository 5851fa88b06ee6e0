// Package upload defines the domain model of the two-phase upload
// pipeline: upload records with their state machine, finalize jobs,
// and the tagged write results the stores report.
package upload

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Identifiers
// ============================================================================

const (
	idPrefix    = "upload_"
	jobIDPrefix = "job_"
)

// ID is an upload identifier of the form "upload_" + uuid.
type ID string

// NewID generates a fresh upload identifier.
func NewID() ID {
	return ID(idPrefix + uuid.NewString())
}

// ParseID validates s as an upload identifier.
func ParseID(s string) (ID, error) {
	raw, ok := strings.CutPrefix(s, idPrefix)
	if !ok {
		return "", fmt.Errorf("upload: invalid upload id %q: missing %q prefix", s, idPrefix)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("upload: invalid upload id %q: %w", s, err)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// JobID is a finalize job identifier of the form "job_" + uuid.
type JobID string

// NewJobID generates a fresh job identifier.
func NewJobID() JobID {
	return JobID(jobIDPrefix + uuid.NewString())
}

// ParseJobID validates s as a job identifier.
func ParseJobID(s string) (JobID, error) {
	raw, ok := strings.CutPrefix(s, jobIDPrefix)
	if !ok {
		return "", fmt.Errorf("upload: invalid job id %q: missing %q prefix", s, jobIDPrefix)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("upload: invalid job id %q: %w", s, err)
	}
	return JobID(s), nil
}

func (id JobID) String() string { return string(id) }

// ============================================================================
// Upload record
// ============================================================================

// Status is the upload state. Legal transitions:
//
//	awaiting_upload -> queued -> processing -> { finalized | failed }
//
// finalized and failed are terminal.
type Status string

const (
	StatusAwaitingUpload Status = "awaiting_upload"
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusFinalized      Status = "finalized"
	StatusFailed         Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusFailed
}

// StorageLocation addresses a stored object.
type StorageLocation struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Record is the persisted state of one upload.
//
// Fields beyond the always-present core are populated as the upload
// advances: QueuedAt from queued, Filename is required from processing
// onward, Final and ActualSizeBytes only when finalized, FailureReason
// only when failed.
type Record struct {
	ID      ID              `json:"id"`
	Status  Status          `json:"status"`
	Staging StorageLocation `json:"staging"`

	Filename          string `json:"filename,omitempty"`
	ContentType       string `json:"contentType,omitempty"`
	ExpectedSizeBytes int64  `json:"expectedSizeBytes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	QueuedAt    *time.Time `json:"queuedAt,omitempty"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`

	Final           *StorageLocation `json:"final,omitempty"`
	ActualSizeBytes int64            `json:"actualSizeBytes,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`
}

// ============================================================================
// Finalize job
// ============================================================================

// JobStatus is the finalize job state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a durable finalize job. RunAt plays two roles: the earliest
// dispatch time while pending, and the lease expiration deadline while
// running.
type Job struct {
	ID       JobID     `json:"id"`
	UploadID ID        `json:"uploadId"`
	Status   JobStatus `json:"status"`
	Attempt  int       `json:"attempt"`
	RunAt    time.Time `json:"runAt"`

	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ============================================================================
// Write results
// ============================================================================

// WriteKind classifies a metadata store write.
type WriteKind int

const (
	// WriteWritten means the transition was applied.
	WriteWritten WriteKind = iota

	// WriteAlready means the record was already in the requested state
	// with matching parameters; nothing was written.
	WriteAlready

	// WriteConflict means a concurrent writer won the CAS race. The
	// caller may reload and retry.
	WriteConflict

	// WriteNotFound means the record does not exist.
	WriteNotFound

	// WriteInvalidTransition means the record is in a state from which
	// the requested transition is illegal.
	WriteInvalidTransition
)

// String returns the lowercase name of the kind.
func (k WriteKind) String() string {
	switch k {
	case WriteWritten:
		return "written"
	case WriteAlready:
		return "already"
	case WriteConflict:
		return "conflict"
	case WriteNotFound:
		return "not_found"
	case WriteInvalidTransition:
		return "invalid_transition"
	default:
		return "unknown"
	}
}

// WriteResult reports a metadata store write. Expected and Actual are
// set only for WriteInvalidTransition.
type WriteResult struct {
	Kind     WriteKind
	Expected []Status
	Actual   Status
}

// Applied reports whether the requested state holds after the call,
// either because this write applied it or because it already held.
func (r WriteResult) Applied() bool {
	return r.Kind == WriteWritten || r.Kind == WriteAlready
}

// InvalidTransition builds the refusal result for an illegal edge.
func InvalidTransition(actual Status, expected ...Status) WriteResult {
	return WriteResult{
		Kind:     WriteInvalidTransition,
		Expected: expected,
		Actual:   actual,
	}
}
