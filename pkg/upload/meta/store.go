// Package meta implements the upload metadata store: the upload state
// machine persisted in a versioned key-value store, with every
// transition applied via compare-and-swap on the record's version
// token.
package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/kv"
	"github.com/marmos91/pixstore/pkg/upload"
)

const keyPrefix = "uploads/metadata/"

// Store persists upload records and enforces the state machine.
//
// Every mutating operation reads the current record with its version
// token, composes the next record, and writes via compare-and-swap. A
// lost race surfaces as WriteConflict; the caller decides whether to
// retry.
type Store struct {
	records kv.Full[upload.Record]
}

// New creates a metadata store over the given record store.
func New(records kv.Full[upload.Record]) *Store {
	return &Store{records: records}
}

func recordKey(id upload.ID) string {
	return keyPrefix + string(id)
}

// Get returns the upload record, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id upload.ID) (*upload.Record, error) {
	record, found, err := s.records.Get(ctx, recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("get upload %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

// CreateInput carries the fields of a new upload record.
type CreateInput struct {
	ID                upload.ID
	Staging           upload.StorageLocation
	Filename          string
	ContentType       string
	ExpectedSizeBytes int64
}

// Create writes a new record in awaiting_upload. Duplicate ids yield
// WriteAlready, not WriteConflict.
func (s *Store) Create(ctx context.Context, in CreateInput, at time.Time) (*upload.Record, upload.WriteResult, error) {
	record := upload.Record{
		ID:                in.ID,
		Status:            upload.StatusAwaitingUpload,
		Staging:           in.Staging,
		Filename:          in.Filename,
		ContentType:       in.ContentType,
		ExpectedSizeBytes: in.ExpectedSizeBytes,
		CreatedAt:         at,
		UpdatedAt:         at,
	}

	written, err := s.records.SetIfNotExists(ctx, recordKey(in.ID), record, nil)
	if err != nil {
		return nil, upload.WriteResult{}, fmt.Errorf("create upload %s: %w", in.ID, err)
	}
	if !written {
		return &record, upload.WriteResult{Kind: upload.WriteAlready}, nil
	}

	logger.Debug("created upload record",
		logger.UploadID(string(in.ID)),
		logger.Filename(in.Filename),
	)
	return &record, upload.WriteResult{Kind: upload.WriteWritten}, nil
}

// transition loads the record for id, lets decide inspect it, and
// CAS-writes the composed next record when decide asks for a write.
//
// decide returns (next, result): when result.Kind is WriteWritten the
// next record is written via CAS; any other kind short-circuits.
func (s *Store) transition(
	ctx context.Context,
	id upload.ID,
	op string,
	decide func(current upload.Record) (upload.Record, upload.WriteResult),
) (upload.WriteResult, error) {
	versioned, err := s.records.GetVersioned(ctx, recordKey(id))
	if err != nil {
		return upload.WriteResult{}, fmt.Errorf("%s upload %s: %w", op, id, err)
	}
	if versioned == nil {
		return upload.WriteResult{Kind: upload.WriteNotFound}, nil
	}

	next, result := decide(versioned.Value)
	if result.Kind != upload.WriteWritten {
		return result, nil
	}

	cas, err := s.records.SetIfVersion(ctx, recordKey(id), next, versioned.Version, nil)
	if err != nil {
		return upload.WriteResult{}, fmt.Errorf("%s upload %s: %w", op, id, err)
	}

	switch cas.Outcome {
	case kv.CASWritten:
		logger.Debug("upload transition applied",
			logger.UploadID(string(id)),
			logger.Operation(op),
			logger.Status(string(next.Status)),
		)
		return upload.WriteResult{Kind: upload.WriteWritten}, nil
	case kv.CASConflict:
		return upload.WriteResult{Kind: upload.WriteConflict}, nil
	case kv.CASNotFound:
		return upload.WriteResult{Kind: upload.WriteNotFound}, nil
	default:
		return upload.WriteResult{}, fmt.Errorf("%s upload %s: unexpected CAS outcome %v", op, id, cas.Outcome)
	}
}

// MarkQueued transitions awaiting_upload -> queued. Idempotent when
// the record is already queued.
func (s *Store) MarkQueued(ctx context.Context, id upload.ID, at time.Time) (upload.WriteResult, error) {
	return s.transition(ctx, id, "mark queued", func(current upload.Record) (upload.Record, upload.WriteResult) {
		switch current.Status {
		case upload.StatusQueued:
			return current, upload.WriteResult{Kind: upload.WriteAlready}

		case upload.StatusAwaitingUpload:
			next := current
			next.Status = upload.StatusQueued
			queuedAt := at
			next.QueuedAt = &queuedAt
			next.UpdatedAt = at
			return next, upload.WriteResult{Kind: upload.WriteWritten}

		default:
			return current, upload.InvalidTransition(current.Status, upload.StatusAwaitingUpload)
		}
	})
}

// MarkProcessing transitions queued -> processing and records the
// resolved filename. Idempotent on processing only when the filename
// matches; a mismatch refuses the silent overwrite.
func (s *Store) MarkProcessing(ctx context.Context, id upload.ID, filename string, at time.Time) (upload.WriteResult, error) {
	return s.transition(ctx, id, "mark processing", func(current upload.Record) (upload.Record, upload.WriteResult) {
		switch current.Status {
		case upload.StatusProcessing:
			if current.Filename == filename {
				return current, upload.WriteResult{Kind: upload.WriteAlready}
			}
			return current, upload.InvalidTransition(current.Status, upload.StatusQueued)

		case upload.StatusQueued:
			next := current
			next.Status = upload.StatusProcessing
			next.Filename = filename
			next.UpdatedAt = at
			return next, upload.WriteResult{Kind: upload.WriteWritten}

		default:
			return current, upload.InvalidTransition(current.Status, upload.StatusQueued)
		}
	})
}

// FinalizeInput carries the terminal success parameters.
type FinalizeInput struct {
	Final           upload.StorageLocation
	ActualSizeBytes int64
}

// MarkFinalized transitions processing -> finalized. Idempotent on
// finalized only when the final location and size match exactly.
func (s *Store) MarkFinalized(ctx context.Context, id upload.ID, in FinalizeInput, at time.Time) (upload.WriteResult, error) {
	return s.transition(ctx, id, "mark finalized", func(current upload.Record) (upload.Record, upload.WriteResult) {
		switch current.Status {
		case upload.StatusFinalized:
			if current.Final != nil && *current.Final == in.Final && current.ActualSizeBytes == in.ActualSizeBytes {
				return current, upload.WriteResult{Kind: upload.WriteAlready}
			}
			return current, upload.InvalidTransition(current.Status, upload.StatusProcessing)

		case upload.StatusProcessing:
			next := current
			next.Status = upload.StatusFinalized
			finalizedAt := at
			next.FinalizedAt = &finalizedAt
			final := in.Final
			next.Final = &final
			next.ActualSizeBytes = in.ActualSizeBytes
			next.UpdatedAt = at
			return next, upload.WriteResult{Kind: upload.WriteWritten}

		default:
			return current, upload.InvalidTransition(current.Status, upload.StatusProcessing)
		}
	})
}

// MarkFailed transitions processing -> failed. Idempotent on failed
// only when the reason matches.
func (s *Store) MarkFailed(ctx context.Context, id upload.ID, reason string, at time.Time) (upload.WriteResult, error) {
	return s.transition(ctx, id, "mark failed", func(current upload.Record) (upload.Record, upload.WriteResult) {
		switch current.Status {
		case upload.StatusFailed:
			if current.FailureReason == reason {
				return current, upload.WriteResult{Kind: upload.WriteAlready}
			}
			return current, upload.InvalidTransition(current.Status, upload.StatusProcessing)

		case upload.StatusProcessing:
			next := current
			next.Status = upload.StatusFailed
			next.FailureReason = reason
			next.UpdatedAt = at
			return next, upload.WriteResult{Kind: upload.WriteWritten}

		default:
			return current, upload.InvalidTransition(current.Status, upload.StatusProcessing)
		}
	})
}
