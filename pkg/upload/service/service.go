// Package service implements the upload orchestrator: the single
// façade consumed by the HTTP surface and the finalization worker.
//
// Every operation returns a tagged result instead of throwing for
// anticipated business outcomes; errors are reserved for
// infrastructure failures.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/internal/telemetry"
	"github.com/marmos91/pixstore/pkg/clock"
	"github.com/marmos91/pixstore/pkg/image"
	"github.com/marmos91/pixstore/pkg/upload"
	"github.com/marmos91/pixstore/pkg/upload/meta"
	"github.com/marmos91/pixstore/pkg/upload/object"
	"github.com/marmos91/pixstore/pkg/upload/queue"
)

// Orchestrator composes the metadata store, job store, object store,
// and image processor. It is stateless and safe for concurrent use.
type Orchestrator struct {
	meta      *meta.Store
	jobs      *queue.Store
	objects   *object.Store
	processor image.Processor
	clock     clock.Clock
}

// New creates an orchestrator. A nil clk defaults to the system clock.
func New(metaStore *meta.Store, jobStore *queue.Store, objectStore *object.Store, processor image.Processor, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Orchestrator{
		meta:      metaStore,
		jobs:      jobStore,
		objects:   objectStore,
		processor: processor,
		clock:     clk,
	}
}

// ============================================================================
// Create
// ============================================================================

// CreateInput carries the client-supplied upload parameters.
type CreateInput struct {
	Filename          string
	ContentType       string
	ExpectedSizeBytes int64
}

// CreateResult reports a successful createUpload.
type CreateResult struct {
	UploadID  upload.ID
	Presigned *object.PresignedUpload
	Record    *upload.Record
}

// CreateUpload issues a presigned staging URL and records the upload
// in awaiting_upload.
//
// The presign is requested before the record is created so the client
// never sees an id without a usable URL; a leaked presign on a failed
// create is harmless because no record claims it.
func (o *Orchestrator) CreateUpload(ctx context.Context, in CreateInput) (*CreateResult, error) {
	id := upload.NewID()

	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadCreate, string(id),
		telemetry.Filename(in.Filename))
	defer span.End()

	presigned, err := o.objects.GetPresignedUploadURL(ctx, object.PresignInput{
		UploadID:    id,
		Filename:    in.Filename,
		ContentType: in.ContentType,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("create upload: %w", err)
	}

	record, _, err := o.meta.Create(ctx, meta.CreateInput{
		ID:                id,
		Staging:           presigned.Ref,
		Filename:          in.Filename,
		ContentType:       in.ContentType,
		ExpectedSizeBytes: in.ExpectedSizeBytes,
	}, o.clock.Now())
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("create upload: %w", err)
	}

	logger.Info("upload created",
		logger.UploadID(string(id)),
		logger.Filename(in.Filename),
	)
	return &CreateResult{
		UploadID:  id,
		Presigned: presigned,
		Record:    record,
	}, nil
}

// GetUpload returns the upload record, or nil when unknown.
func (o *Orchestrator) GetUpload(ctx context.Context, id upload.ID) (*upload.Record, error) {
	return o.meta.Get(ctx, id)
}

// ============================================================================
// Complete
// ============================================================================

// CompleteOutcome classifies a completeUpload call.
type CompleteOutcome int

const (
	// CompleteQueued means this call queued the upload and enqueued a
	// finalize job.
	CompleteQueued CompleteOutcome = iota

	// CompleteAlreadyQueued means the upload was already queued or
	// processing; the call is an idempotent no-op.
	CompleteAlreadyQueued

	// CompleteFinalized means the upload already reached terminal
	// success.
	CompleteFinalized

	// CompleteFailed means the upload is terminally failed, or the
	// queue transition was refused.
	CompleteFailed

	// CompleteNotFound means no such upload exists.
	CompleteNotFound
)

// String returns the lowercase name of the outcome.
func (o CompleteOutcome) String() string {
	switch o {
	case CompleteQueued:
		return "queued"
	case CompleteAlreadyQueued:
		return "already_queued"
	case CompleteFinalized:
		return "finalized"
	case CompleteFailed:
		return "failed"
	case CompleteNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CompleteResult reports a completeUpload call. Reason is set only for
// CompleteFailed.
type CompleteResult struct {
	Outcome CompleteOutcome
	Reason  string
}

// CompleteUpload handles the client's completion signal: it moves the
// upload to queued and enqueues a finalize job. Repeat calls are
// idempotent and never enqueue a duplicate job.
func (o *Orchestrator) CompleteUpload(ctx context.Context, id upload.ID) (CompleteResult, error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadComplete, string(id))
	defer span.End()

	record, err := o.meta.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return CompleteResult{}, fmt.Errorf("complete upload: %w", err)
	}
	if record == nil {
		return CompleteResult{Outcome: CompleteNotFound}, nil
	}

	switch record.Status {
	case upload.StatusFinalized:
		return CompleteResult{Outcome: CompleteFinalized}, nil
	case upload.StatusFailed:
		return CompleteResult{Outcome: CompleteFailed, Reason: record.FailureReason}, nil
	case upload.StatusQueued, upload.StatusProcessing:
		return CompleteResult{Outcome: CompleteAlreadyQueued}, nil
	}

	now := o.clock.Now()
	result, err := o.meta.MarkQueued(ctx, id, now)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete upload: %w", err)
	}
	if !result.Applied() {
		// A concurrent completion may have won the race; the losing
		// path reports the refusal and does not enqueue.
		return CompleteResult{Outcome: CompleteFailed, Reason: result.Kind.String()}, nil
	}

	job := upload.Job{
		ID:        upload.NewJobID(),
		UploadID:  id,
		Status:    upload.JobPending,
		Attempt:   0,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.Enqueue(ctx, job); err != nil {
		telemetry.RecordError(ctx, err)
		return CompleteResult{}, fmt.Errorf("complete upload: %w", err)
	}

	telemetry.SetAttributes(ctx, telemetry.JobID(string(job.ID)), telemetry.Outcome(CompleteQueued.String()))
	logger.Info("upload queued for finalization",
		logger.UploadID(string(id)),
		logger.JobID(string(job.ID)),
	)
	return CompleteResult{Outcome: CompleteQueued}, nil
}

// ============================================================================
// Finalize
// ============================================================================

// FinalizeOutcome classifies a finalizeUpload attempt.
type FinalizeOutcome int

const (
	// FinalizeFinalized means this attempt finalized the upload.
	FinalizeFinalized FinalizeOutcome = iota

	// FinalizeAlreadyFinalized means a previous attempt already
	// finalized it; the call was a no-op.
	FinalizeAlreadyFinalized

	// FinalizeRetry means a retriable condition was hit; the caller
	// should reschedule.
	FinalizeRetry

	// FinalizeFailed means a permanent condition was hit.
	FinalizeFailed

	// FinalizeNotFound means the referenced upload does not exist.
	FinalizeNotFound
)

// String returns the lowercase name of the outcome.
func (o FinalizeOutcome) String() string {
	switch o {
	case FinalizeFinalized:
		return "finalized"
	case FinalizeAlreadyFinalized:
		return "already_finalized"
	case FinalizeRetry:
		return "retry"
	case FinalizeFailed:
		return "failed"
	case FinalizeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// FinalizeResult reports a finalizeUpload attempt. Reason is set for
// FinalizeRetry and FinalizeFailed.
type FinalizeResult struct {
	Outcome FinalizeOutcome
	Reason  string
}

// Failure reasons surfaced by FinalizeUpload.
const (
	ReasonStagingObjectMissing   = "staging_object_missing"
	ReasonMissingFilename        = "missing_filename"
	ReasonMissingOriginalVariant = "missing_original_variant"
	ReasonUploadNotFound         = "upload_not_found"
)

// FinalizeUpload drives one upload to a terminal state: ensure the
// record is processing, fetch the staged bytes, run the processor,
// write every variant to its final key, and mark the record finalized
// with the original variant's location.
func (o *Orchestrator) FinalizeUpload(ctx context.Context, job upload.Job) (FinalizeResult, error) {
	ctx, span := telemetry.StartJobSpan(ctx, telemetry.SpanUploadFinalize, string(job.ID), job.Attempt,
		telemetry.UploadID(string(job.UploadID)))
	defer span.End()

	record, err := o.meta.Get(ctx, job.UploadID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return FinalizeResult{}, fmt.Errorf("finalize upload: %w", err)
	}
	if record == nil {
		return FinalizeResult{Outcome: FinalizeNotFound}, nil
	}

	switch record.Status {
	case upload.StatusFinalized:
		return FinalizeResult{Outcome: FinalizeAlreadyFinalized}, nil
	case upload.StatusFailed:
		return FinalizeResult{Outcome: FinalizeFailed, Reason: record.FailureReason}, nil
	}

	if record.Filename == "" {
		// Upstream logic failure, not retriable.
		return o.failUpload(ctx, job.UploadID, ReasonMissingFilename)
	}
	filename := record.Filename

	if record.Status == upload.StatusQueued {
		result, err := o.meta.MarkProcessing(ctx, job.UploadID, filename, o.clock.Now())
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("finalize upload: %w", err)
		}
		if !result.Applied() {
			return o.failUpload(ctx, job.UploadID, result.Kind.String())
		}
	}

	staging, err := o.objects.GetStagingObject(ctx, job.UploadID, filename)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize upload: %w", err)
	}
	if staging == nil {
		// The canonical retriable outcome: clients may signal
		// completion before the object becomes visible.
		return FinalizeResult{Outcome: FinalizeRetry, Reason: ReasonStagingObjectMissing}, nil
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	output, err := o.processor.Process(ctx, image.Input{
		Data:        staging.Data,
		ContentType: contentType,
	})
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize upload: process: %w", err)
	}

	locations, err := o.promoteVariants(ctx, job.UploadID, filename, output.Variants)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize upload: %w", err)
	}

	original, ok := locations[image.VariantOriginal]
	if !ok {
		return o.failUpload(ctx, job.UploadID, ReasonMissingOriginalVariant)
	}

	result, err := o.meta.MarkFinalized(ctx, job.UploadID, meta.FinalizeInput{
		Final:           original,
		ActualSizeBytes: staging.SizeBytes,
	}, o.clock.Now())
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize upload: %w", err)
	}
	if !result.Applied() {
		return o.failUpload(ctx, job.UploadID, result.Kind.String())
	}

	telemetry.SetAttributes(ctx,
		telemetry.Outcome(FinalizeFinalized.String()),
		telemetry.VariantCount(len(locations)),
		telemetry.Size(staging.SizeBytes),
	)
	logger.Info("upload finalized",
		logger.UploadID(string(job.UploadID)),
		logger.JobID(string(job.ID)),
		logger.Size(staging.SizeBytes),
	)
	return FinalizeResult{Outcome: FinalizeFinalized}, nil
}

// failUpload drives the record to failed alongside a permanent
// finalize outcome, so a later completeUpload reports the failure
// instead of an upload stuck in processing. A refused write means a
// concurrent transition already decided the record's fate; the
// refusal is logged and the permanent outcome stands.
func (o *Orchestrator) failUpload(ctx context.Context, id upload.ID, reason string) (FinalizeResult, error) {
	now := o.clock.Now()

	// markFailed only leaves processing, so a record still queued is
	// stepped forward first. A refused step means a concurrent
	// transition is in flight; markFailed below settles it either way.
	record, err := o.meta.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return FinalizeResult{}, fmt.Errorf("finalize upload: mark failed: %w", err)
	}
	if record != nil && record.Status == upload.StatusQueued {
		if _, err := o.meta.MarkProcessing(ctx, id, record.Filename, now); err != nil {
			telemetry.RecordError(ctx, err)
			return FinalizeResult{}, fmt.Errorf("finalize upload: mark failed: %w", err)
		}
	}

	result, err := o.meta.MarkFailed(ctx, id, reason, now)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return FinalizeResult{}, fmt.Errorf("finalize upload: mark failed: %w", err)
	}
	if !result.Applied() {
		logger.Warn("failed-state write refused",
			logger.UploadID(string(id)),
			logger.Reason(reason),
			"kind", result.Kind.String(),
		)
	}

	telemetry.SetAttributes(ctx,
		telemetry.Outcome(FinalizeFailed.String()),
		telemetry.Reason(reason),
	)
	logger.Info("upload permanently failed",
		logger.UploadID(string(id)),
		logger.Reason(reason),
	)
	return FinalizeResult{Outcome: FinalizeFailed, Reason: reason}, nil
}

// promoteVariants writes every variant to its final key. Distinct
// variants upload concurrently; ordering is irrelevant.
func (o *Orchestrator) promoteVariants(ctx context.Context, id upload.ID, filename string, variants []image.Variant) (map[string]upload.StorageLocation, error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanVariantPromote, string(id),
		telemetry.VariantCount(len(variants)))
	defer span.End()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		firstErr  error
		locations = make(map[string]upload.StorageLocation, len(variants))
	)

	for _, variant := range variants {
		wg.Add(1)
		go func(v image.Variant) {
			defer wg.Done()

			name := VariantFilename(filename, v.Name)
			loc, err := o.objects.PutFinalObject(ctx, id, name, v.Data, v.ContentType)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			locations[v.Name] = loc
		}(variant)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return locations, nil
}

// VariantFilename derives the final filename for a variant. The
// "original" variant keeps the filename unchanged; any other variant
// gets "-{variant}" inserted immediately before the last dot, or
// appended when the filename has no dot.
//
//	photo.jpg      / thumbnail -> photo-thumbnail.jpg
//	photo          / thumbnail -> photo-thumbnail
//	photo.2024.jpg / thumbnail -> photo.2024-thumbnail.jpg
//	.env           / thumbnail -> -thumbnail.env
func VariantFilename(filename, variant string) string {
	if variant == image.VariantOriginal {
		return filename
	}

	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return filename + "-" + variant
	}
	return filename[:i] + "-" + variant + filename[i:]
}
