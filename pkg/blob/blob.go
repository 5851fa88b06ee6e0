// Package blob defines the object storage capability consumed by the
// upload pipeline.
//
// A Store addresses objects by (bucket, key) and supports direct
// reads/writes, server-side copies, and presigned PUT URLs that let
// clients upload bytes without routing them through this process.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("blob: store is closed")

// Ref addresses an object.
type Ref struct {
	Bucket string
	Key    string
}

// String returns the ref in bucket/key form for logs.
func (r Ref) String() string {
	return r.Bucket + "/" + r.Key
}

// Info describes a stored object without its payload.
type Info struct {
	Size        int64
	ContentType string
}

// Object is a stored object with its payload.
type Object struct {
	Data        []byte
	ContentType string
}

// PresignOptions carries parameters for a presigned PUT URL.
type PresignOptions struct {
	// ContentType constrains the upload's Content-Type header.
	ContentType string

	// Expiry is how long the URL stays valid. Implementations apply
	// their default when zero.
	Expiry time.Duration
}

// PresignedPut is a URL a client can PUT object bytes to directly.
type PresignedPut struct {
	URL       string
	ExpiresAt time.Time
}

// Store is the object storage capability.
//
// Head and Get return (nil, nil) for missing objects; errors are
// reserved for infrastructure failures.
type Store interface {
	// PresignPut returns a URL for uploading directly to ref.
	PresignPut(ctx context.Context, ref Ref, opts PresignOptions) (*PresignedPut, error)

	// Head returns object metadata, or nil when the object is absent.
	Head(ctx context.Context, ref Ref) (*Info, error)

	// Get returns the object with its payload, or nil when absent.
	Get(ctx context.Context, ref Ref) (*Object, error)

	// Put writes an object unconditionally.
	Put(ctx context.Context, ref Ref, data []byte, contentType string) error

	// Copy performs a server-side copy from src to dst. A non-nil
	// metadata map replaces the destination object's user metadata.
	Copy(ctx context.Context, src, dst Ref, metadata map[string]string) error

	// Delete removes an object. Deleting a missing object is a no-op.
	Delete(ctx context.Context, ref Ref) error
}
