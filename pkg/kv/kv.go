// Package kv defines the key-value storage capabilities consumed by the
// upload pipeline, plus shared result types.
//
// Three access levels exist: plain stores, versioned stores (opaque
// version tokens with compare-and-swap writes), and conditional stores
// (write-if-absent / write-if-present). Backends typically implement all
// three; see the memory and badgerkv packages.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("kv: store is closed")

// SetOptions carries optional write parameters.
type SetOptions struct {
	// TTL expires the entry after the given duration. Zero means no
	// expiry. Backends without native TTL support may ignore it.
	TTL time.Duration
}

// Store is the plain key-value capability.
//
// Get returns (zero, false, nil) for missing keys; errors are reserved
// for infrastructure failures.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, opts *SetOptions) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)

	// GetMany returns the subset of keys that exist. Missing keys are
	// simply absent from the result map.
	GetMany(ctx context.Context, keys []string) (map[string]T, error)
	SetMany(ctx context.Context, values map[string]T, opts *SetOptions) error
	DeleteMany(ctx context.Context, keys []string) error
}

// Version is an opaque token identifying a particular write of a key.
// Tokens strictly change on every write, including same-value writes.
type Version string

// Versioned pairs a value with the version token it was read at.
type Versioned[T any] struct {
	Value   T
	Version Version
}

// CASOutcome classifies the result of a compare-and-swap write.
type CASOutcome int

const (
	// CASWritten means the swap succeeded.
	CASWritten CASOutcome = iota

	// CASConflict means the key's version no longer matched.
	CASConflict

	// CASNotFound means the key does not exist.
	CASNotFound
)

// String returns the lowercase name of the outcome.
func (o CASOutcome) String() string {
	switch o {
	case CASWritten:
		return "written"
	case CASConflict:
		return "conflict"
	case CASNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CASResult reports a compare-and-swap write. Version is set only when
// Outcome is CASWritten.
type CASResult struct {
	Outcome CASOutcome
	Version Version
}

// VersionedStore adds version tokens and compare-and-swap writes.
type VersionedStore[T any] interface {
	Store[T]

	// GetVersioned returns the value with its current version token,
	// or nil when the key does not exist.
	GetVersioned(ctx context.Context, key string) (*Versioned[T], error)

	// SetIfVersion writes value only if the key's current version
	// equals expected.
	SetIfVersion(ctx context.Context, key string, value T, expected Version, opts *SetOptions) (CASResult, error)
}

// ConditionalStore adds existence-conditional writes.
type ConditionalStore[T any] interface {
	Store[T]

	// SetIfNotExists writes value only when the key is absent.
	// Returns true when written, false when skipped.
	SetIfNotExists(ctx context.Context, key string, value T, opts *SetOptions) (bool, error)

	// SetIfExists writes value only when the key is present.
	// Returns true when written, false when skipped.
	SetIfExists(ctx context.Context, key string, value T, opts *SetOptions) (bool, error)
}

// Full combines all three capabilities. The upload metadata and job
// stores require this level.
type Full[T any] interface {
	VersionedStore[T]
	ConditionalStore[T]
}
