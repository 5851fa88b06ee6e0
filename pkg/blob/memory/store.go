// Package memory provides an in-memory blob store for tests and
// single-process development setups.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/pixstore/pkg/blob"
)

// DefaultPresignExpiry is used when PresignOptions.Expiry is zero.
const DefaultPresignExpiry = 15 * time.Minute

type object struct {
	data        []byte
	contentType string
}

// Store is an in-memory blob.Store implementation.
//
// Tests can inject per-operation failures with FailOp to exercise
// error paths deterministically.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	fail    map[string]error
	closed  bool
}

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		fail:    make(map[string]error),
	}
}

// FailOp makes every subsequent call of the named operation ("put",
// "get", "head", "copy", "delete", "presign") return err. A nil err
// clears the injection.
func (s *Store) FailOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func refKey(ref blob.Ref) string {
	return ref.Bucket + "\x00" + ref.Key
}

// check must be called without the lock held.
func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return blob.ErrStoreClosed
	}
	if err, ok := s.fail[op]; ok {
		return err
	}
	return nil
}

// PresignPut returns a fake URL identifying the target ref.
func (s *Store) PresignPut(ctx context.Context, ref blob.Ref, opts blob.PresignOptions) (*blob.PresignedPut, error) {
	if err := s.check(ctx, "presign"); err != nil {
		return nil, err
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	return &blob.PresignedPut{
		URL:       fmt.Sprintf("memory://%s/%s", ref.Bucket, ref.Key),
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// Head returns object metadata, or nil when the object is absent.
func (s *Store) Head(ctx context.Context, ref blob.Ref) (*blob.Info, error) {
	if err := s.check(ctx, "head"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[refKey(ref)]
	if !ok {
		return nil, nil
	}
	return &blob.Info{
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

// Get returns the object with its payload, or nil when absent.
func (s *Store) Get(ctx context.Context, ref blob.Ref) (*blob.Object, error) {
	if err := s.check(ctx, "get"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[refKey(ref)]
	if !ok {
		return nil, nil
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &blob.Object{
		Data:        data,
		ContentType: obj.contentType,
	}, nil
}

// Put writes an object unconditionally.
func (s *Store) Put(ctx context.Context, ref blob.Ref, data []byte, contentType string) error {
	if err := s.check(ctx, "put"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[refKey(ref)] = object{data: stored, contentType: contentType}
	return nil
}

// Copy duplicates src to dst. Missing source is an error, matching the
// behavior of a server-side copy.
func (s *Store) Copy(ctx context.Context, src, dst blob.Ref, metadata map[string]string) error {
	if err := s.check(ctx, "copy"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[refKey(src)]
	if !ok {
		return fmt.Errorf("blob memory: copy source %s not found", src)
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	s.objects[refKey(dst)] = object{data: data, contentType: obj.contentType}
	return nil
}

// Delete removes an object. Deleting a missing object is a no-op.
func (s *Store) Delete(ctx context.Context, ref blob.Ref) error {
	if err := s.check(ctx, "delete"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, refKey(ref))
	return nil
}

// Ensure Store implements blob.Store.
var _ blob.Store = (*Store)(nil)
