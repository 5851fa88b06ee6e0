package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for upload pipeline operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Upload attributes
	// ========================================================================
	AttrUploadID     = "upload.id"
	AttrUploadStatus = "upload.status"
	AttrFilename     = "upload.filename"
	AttrContentType  = "upload.content_type"
	AttrSize         = "upload.size_bytes"
	AttrOutcome      = "upload.outcome"
	AttrReason       = "upload.failure_reason"

	// ========================================================================
	// Finalize job attributes
	// ========================================================================
	AttrJobID      = "job.id"
	AttrJobAttempt = "job.attempt"
	AttrJobStatus  = "job.status"

	// ========================================================================
	// Image processing attributes
	// ========================================================================
	AttrVariant      = "image.variant"
	AttrVariantCount = "image.variant_count"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanUploadCreate   = "upload.create"
	SpanUploadGet      = "upload.get"
	SpanUploadComplete = "upload.complete"
	SpanUploadFinalize = "upload.finalize"

	SpanVariantPromote = "variant.promote"

	SpanJobClaim    = "job.claim"
	SpanJobComplete = "job.complete"
	SpanJobRetry    = "job.retry"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// UploadID returns an attribute for the upload identifier
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// UploadStatus returns an attribute for the upload lifecycle status
func UploadStatus(status string) attribute.KeyValue {
	return attribute.String(AttrUploadStatus, status)
}

// Filename returns an attribute for the client-supplied filename
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// ContentType returns an attribute for the declared content type
func ContentType(ct string) attribute.KeyValue {
	return attribute.String(AttrContentType, ct)
}

// Size returns an attribute for an object size in bytes
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Outcome returns an attribute for an operation outcome
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// Reason returns an attribute for a failure or retry reason
func Reason(reason string) attribute.KeyValue {
	return attribute.String(AttrReason, reason)
}

// JobID returns an attribute for the finalize job identifier
func JobID(id string) attribute.KeyValue {
	return attribute.String(AttrJobID, id)
}

// JobAttempt returns an attribute for the job attempt counter
func JobAttempt(attempt int) attribute.KeyValue {
	return attribute.Int(AttrJobAttempt, attempt)
}

// JobStatus returns an attribute for the job status
func JobStatus(status string) attribute.KeyValue {
	return attribute.String(AttrJobStatus, status)
}

// Variant returns an attribute for an image variant name
func Variant(name string) attribute.KeyValue {
	return attribute.String(AttrVariant, name)
}

// VariantCount returns an attribute for the number of derived variants
func VariantCount(n int) attribute.KeyValue {
	return attribute.Int(AttrVariantCount, n)
}

// Bucket returns an attribute for the blob bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for the blob object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for the cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartUploadSpan starts a span for an upload lifecycle operation.
// This is a convenience function that sets the upload id attribute.
func StartUploadSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartJobSpan starts a span for a finalize job operation.
func StartJobSpan(ctx context.Context, name, jobID string, attempt int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		JobID(jobID),
		JobAttempt(attempt),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
