package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	RequestID string    // HTTP request ID
	UploadID  string    // Upload identifier, when known
	JobID     string    // Finalize job identifier, when known
	ClientIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given request ID
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithUpload returns a copy with the upload ID set
func (lc *LogContext) WithUpload(uploadID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UploadID = uploadID
	}
	return clone
}

// WithJob returns a copy with the job ID set
func (lc *LogContext) WithJob(jobID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.JobID = jobID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
