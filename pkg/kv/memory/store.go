// Package memory provides an in-memory implementation of the kv
// capabilities. It backs tests and single-process development setups;
// durable deployments use the badgerkv package.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/pixstore/pkg/kv"
)

// entry is a stored value with its version and optional expiry.
type entry[T any] struct {
	value     T
	version   uint64
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory kv.Full implementation.
//
// Version tokens are a per-store monotonic counter, so every write
// (including same-value writes) observes a fresh token.
type Store[T any] struct {
	mu      sync.RWMutex
	data    map[string]entry[T]
	counter uint64
	closed  bool
}

// New creates an empty in-memory store.
func New[T any]() *Store[T] {
	return &Store[T]{
		data: make(map[string]entry[T]),
	}
}

// Close marks the store as closed. Subsequent operations fail with
// kv.ErrStoreClosed.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// expired reports whether e is past its TTL at time now.
func expired[T any](e entry[T], now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// nextVersion must be called with the write lock held.
func (s *Store[T]) nextVersion() kv.Version {
	s.counter++
	return kv.Version(strconv.FormatUint(s.counter, 10))
}

// newEntry must be called with the write lock held.
func (s *Store[T]) newEntry(value T, opts *kv.SetOptions) entry[T] {
	e := entry[T]{value: value, version: s.counter}
	if opts != nil && opts.TTL > 0 {
		e.expiresAt = time.Now().Add(opts.TTL)
	}
	return e
}

// ============================================================================
// Plain Store
// ============================================================================

// Get returns the value for key, or found=false when absent or expired.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return zero, false, kv.ErrStoreClosed
	}

	e, ok := s.data[key]
	if !ok || expired(e, time.Now()) {
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set writes value under key unconditionally.
func (s *Store[T]) Set(ctx context.Context, key string, value T, opts *kv.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrStoreClosed
	}

	s.nextVersion()
	s.data[key] = s.newEntry(value, opts)
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrStoreClosed
	}

	delete(s.data, key)
	return nil
}

// Has reports whether key exists.
func (s *Store[T]) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := s.Get(ctx, key)
	return found, err
}

// GetMany returns the subset of keys that exist.
func (s *Store[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.ErrStoreClosed
	}

	now := time.Now()
	out := make(map[string]T, len(keys))
	for _, key := range keys {
		if e, ok := s.data[key]; ok && !expired(e, now) {
			out[key] = e.value
		}
	}
	return out, nil
}

// SetMany writes all values unconditionally.
func (s *Store[T]) SetMany(ctx context.Context, values map[string]T, opts *kv.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrStoreClosed
	}

	for key, value := range values {
		s.nextVersion()
		s.data[key] = s.newEntry(value, opts)
	}
	return nil
}

// DeleteMany removes all given keys.
func (s *Store[T]) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrStoreClosed
	}

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// ============================================================================
// Versioned Store
// ============================================================================

// GetVersioned returns the value with its version token, or nil when
// the key is absent or expired.
func (s *Store[T]) GetVersioned(ctx context.Context, key string) (*kv.Versioned[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.ErrStoreClosed
	}

	e, ok := s.data[key]
	if !ok || expired(e, time.Now()) {
		return nil, nil
	}
	return &kv.Versioned[T]{
		Value:   e.value,
		Version: kv.Version(strconv.FormatUint(e.version, 10)),
	}, nil
}

// SetIfVersion writes value only if the key's current version equals
// expected.
func (s *Store[T]) SetIfVersion(ctx context.Context, key string, value T, expected kv.Version, opts *kv.SetOptions) (kv.CASResult, error) {
	if err := ctx.Err(); err != nil {
		return kv.CASResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.CASResult{}, kv.ErrStoreClosed
	}

	e, ok := s.data[key]
	if !ok || expired(e, time.Now()) {
		return kv.CASResult{Outcome: kv.CASNotFound}, nil
	}

	if kv.Version(strconv.FormatUint(e.version, 10)) != expected {
		return kv.CASResult{Outcome: kv.CASConflict}, nil
	}

	version := s.nextVersion()
	s.data[key] = s.newEntry(value, opts)
	return kv.CASResult{Outcome: kv.CASWritten, Version: version}, nil
}

// ============================================================================
// Conditional Store
// ============================================================================

// SetIfNotExists writes value only when the key is absent.
func (s *Store[T]) SetIfNotExists(ctx context.Context, key string, value T, opts *kv.SetOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, kv.ErrStoreClosed
	}

	if e, ok := s.data[key]; ok && !expired(e, time.Now()) {
		return false, nil
	}

	s.nextVersion()
	s.data[key] = s.newEntry(value, opts)
	return true, nil
}

// SetIfExists writes value only when the key is present.
func (s *Store[T]) SetIfExists(ctx context.Context, key string, value T, opts *kv.SetOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, kv.ErrStoreClosed
	}

	if e, ok := s.data[key]; !ok || expired(e, time.Now()) {
		return false, nil
	}

	s.nextVersion()
	s.data[key] = s.newEntry(value, opts)
	return true, nil
}

// Ensure Store implements the full capability set.
var _ kv.Full[string] = (*Store[string])(nil)
