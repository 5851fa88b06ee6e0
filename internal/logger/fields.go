package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying can rely on stable names.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyRequestID = "request_id" // HTTP request ID (chi middleware)
	KeyClientIP  = "client_ip"  // Client IP address

	// ========================================================================
	// Upload pipeline
	// ========================================================================
	KeyUploadID = "upload_id" // Upload identifier ("upload_" + uuid)
	KeyJobID    = "job_id"    // Finalize job identifier ("job_" + uuid)
	KeyStatus   = "status"    // Upload or job status
	KeyOutcome  = "outcome"   // Finalize outcome (finalized, retry, failed, ...)
	KeyReason   = "reason"    // Failure or retry reason
	KeyFilename = "filename"  // Original client filename
	KeyVariant  = "variant"   // Variant name (original, thumbnail, ...)
	KeyAttempt  = "attempt"   // Job attempt number

	// ========================================================================
	// Storage backend
	// ========================================================================
	KeyBucket    = "bucket"     // Blob bucket name
	KeyKey       = "key"        // Object key or KV key
	KeyStoreType = "store_type" // Store type: memory, badger, s3
	KeySize      = "size"       // Payload size in bytes

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyOperation  = "operation"   // Sub-operation name
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// RequestID returns a slog.Attr for an HTTP request ID.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for a client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// UploadID returns a slog.Attr for an upload identifier.
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// JobID returns a slog.Attr for a finalize job identifier.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Status returns a slog.Attr for an upload or job status.
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// Outcome returns a slog.Attr for a finalize outcome.
func Outcome(o string) slog.Attr {
	return slog.String(KeyOutcome, o)
}

// Reason returns a slog.Attr for a failure or retry reason.
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// Filename returns a slog.Attr for a client filename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Variant returns a slog.Attr for a variant name.
func Variant(name string) slog.Attr {
	return slog.String(KeyVariant, name)
}

// Attempt returns a slog.Attr for a job attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Bucket returns a slog.Attr for a blob bucket name.
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Key returns a slog.Attr for an object or KV key.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// StoreType returns a slog.Attr for a store type.
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// Size returns a slog.Attr for a payload size in bytes.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a sub-operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
