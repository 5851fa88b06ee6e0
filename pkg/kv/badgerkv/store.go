package badgerkv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/pixstore/pkg/kv"
)

// envelope wraps a stored value with its per-key write counter.
type envelope struct {
	Version uint64          `json:"v"`
	Data    json.RawMessage `json:"d"`
}

// Store is a BadgerDB-backed kv.Full implementation. All keys are
// namespaced under the store's prefix, so multiple typed stores can
// share one database.
type Store[T any] struct {
	db     *badger.DB
	prefix []byte
}

// NewStore creates a typed store over db under the given key prefix.
func NewStore[T any](db *DB, prefix string) *Store[T] {
	return &Store[T]{
		db:     db.db,
		prefix: []byte(prefix + "/"),
	}
}

func (s *Store[T]) fullKey(key string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(key))
	out = append(out, s.prefix...)
	return append(out, key...)
}

func encodeEnvelope[T any](value T, version uint64) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: failed to encode value: %w", err)
	}
	raw, err := json.Marshal(envelope{Version: version, Data: data})
	if err != nil {
		return nil, fmt.Errorf("badgerkv: failed to encode envelope: %w", err)
	}
	return raw, nil
}

func decodeEnvelope(val []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return envelope{}, fmt.Errorf("badgerkv: failed to decode envelope: %w", err)
	}
	return env, nil
}

func decodeValue[T any](env envelope) (T, error) {
	var value T
	if err := json.Unmarshal(env.Data, &value); err != nil {
		return value, fmt.Errorf("badgerkv: failed to decode value: %w", err)
	}
	return value, nil
}

// readEnvelope loads the envelope for key within txn.
// Returns found=false when the key is absent.
func readEnvelope(txn *badger.Txn, key []byte) (envelope, bool, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, err
	}

	var env envelope
	err = item.Value(func(val []byte) error {
		var decErr error
		env, decErr = decodeEnvelope(val)
		return decErr
	})
	if err != nil {
		return envelope{}, false, err
	}
	return env, true, nil
}

// writeEnvelope stores value at version within txn, honoring TTL.
func writeEnvelope[T any](txn *badger.Txn, key []byte, value T, version uint64, opts *kv.SetOptions) error {
	raw, err := encodeEnvelope(value, version)
	if err != nil {
		return err
	}

	entry := badger.NewEntry(key, raw)
	if opts != nil && opts.TTL > 0 {
		entry = entry.WithTTL(opts.TTL)
	}
	return txn.SetEntry(entry)
}

func versionToken(counter uint64) kv.Version {
	return kv.Version(strconv.FormatUint(counter, 10))
}

// mapErr translates badger lifecycle errors to the kv sentinel.
func (s *Store[T]) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if s.db.IsClosed() {
		return kv.ErrStoreClosed
	}
	return err
}

// ============================================================================
// Plain Store
// ============================================================================

// Get returns the value for key, or found=false when absent.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if s.db.IsClosed() {
		return zero, false, kv.ErrStoreClosed
	}

	var value T
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		env, ok, err := readEnvelope(txn, s.fullKey(key))
		if err != nil || !ok {
			return err
		}
		value, err = decodeValue[T](env)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return zero, false, s.mapErr(err)
	}
	return value, found, nil
}

// Set writes value under key unconditionally.
func (s *Store[T]) Set(ctx context.Context, key string, value T, opts *kv.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return kv.ErrStoreClosed
	}

	fullKey := s.fullKey(key)
	err := s.db.Update(func(txn *badger.Txn) error {
		env, _, err := readEnvelope(txn, fullKey)
		if err != nil {
			return err
		}
		return writeEnvelope(txn, fullKey, value, env.Version+1, opts)
	})
	return s.mapErr(err)
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return kv.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.fullKey(key))
	})
	return s.mapErr(err)
}

// Has reports whether key exists.
func (s *Store[T]) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.db.IsClosed() {
		return false, kv.ErrStoreClosed
	}

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.fullKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, s.mapErr(err)
	}
	return found, nil
}

// GetMany returns the subset of keys that exist.
func (s *Store[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, kv.ErrStoreClosed
	}

	out := make(map[string]T, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			env, ok, err := readEnvelope(txn, s.fullKey(key))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			value, err := decodeValue[T](env)
			if err != nil {
				return err
			}
			out[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

// SetMany writes all values in a single transaction.
func (s *Store[T]) SetMany(ctx context.Context, values map[string]T, opts *kv.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return kv.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for key, value := range values {
			fullKey := s.fullKey(key)
			env, _, err := readEnvelope(txn, fullKey)
			if err != nil {
				return err
			}
			if err := writeEnvelope(txn, fullKey, value, env.Version+1, opts); err != nil {
				return err
			}
		}
		return nil
	})
	return s.mapErr(err)
}

// DeleteMany removes all given keys in a single transaction.
func (s *Store[T]) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return kv.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(s.fullKey(key)); err != nil {
				return err
			}
		}
		return nil
	})
	return s.mapErr(err)
}

// ============================================================================
// Versioned Store
// ============================================================================

// GetVersioned returns the value with its version token, or nil when
// the key is absent.
func (s *Store[T]) GetVersioned(ctx context.Context, key string) (*kv.Versioned[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, kv.ErrStoreClosed
	}

	var result *kv.Versioned[T]
	err := s.db.View(func(txn *badger.Txn) error {
		env, ok, err := readEnvelope(txn, s.fullKey(key))
		if err != nil || !ok {
			return err
		}
		value, err := decodeValue[T](env)
		if err != nil {
			return err
		}
		result = &kv.Versioned[T]{
			Value:   value,
			Version: versionToken(env.Version),
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return result, nil
}

// SetIfVersion writes value only if the key's current version equals
// expected. The read and conditional write run in one transaction.
func (s *Store[T]) SetIfVersion(ctx context.Context, key string, value T, expected kv.Version, opts *kv.SetOptions) (kv.CASResult, error) {
	if err := ctx.Err(); err != nil {
		return kv.CASResult{}, err
	}
	if s.db.IsClosed() {
		return kv.CASResult{}, kv.ErrStoreClosed
	}

	fullKey := s.fullKey(key)
	var result kv.CASResult
	err := s.db.Update(func(txn *badger.Txn) error {
		env, ok, err := readEnvelope(txn, fullKey)
		if err != nil {
			return err
		}
		if !ok {
			result = kv.CASResult{Outcome: kv.CASNotFound}
			return nil
		}
		if versionToken(env.Version) != expected {
			result = kv.CASResult{Outcome: kv.CASConflict}
			return nil
		}

		next := env.Version + 1
		if err := writeEnvelope(txn, fullKey, value, next, opts); err != nil {
			return err
		}
		result = kv.CASResult{Outcome: kv.CASWritten, Version: versionToken(next)}
		return nil
	})
	if err != nil {
		return kv.CASResult{}, s.mapErr(err)
	}
	return result, nil
}

// ============================================================================
// Conditional Store
// ============================================================================

// SetIfNotExists writes value only when the key is absent.
func (s *Store[T]) SetIfNotExists(ctx context.Context, key string, value T, opts *kv.SetOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.db.IsClosed() {
		return false, kv.ErrStoreClosed
	}

	fullKey := s.fullKey(key)
	var written bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(fullKey)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := writeEnvelope(txn, fullKey, value, 1, opts); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, s.mapErr(err)
	}
	return written, nil
}

// SetIfExists writes value only when the key is present.
func (s *Store[T]) SetIfExists(ctx context.Context, key string, value T, opts *kv.SetOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.db.IsClosed() {
		return false, kv.ErrStoreClosed
	}

	fullKey := s.fullKey(key)
	var written bool
	err := s.db.Update(func(txn *badger.Txn) error {
		env, ok, err := readEnvelope(txn, fullKey)
		if err != nil || !ok {
			return err
		}
		if err := writeEnvelope(txn, fullKey, value, env.Version+1, opts); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, s.mapErr(err)
	}
	return written, nil
}

// Ensure Store implements the full capability set.
var _ kv.Full[string] = (*Store[string])(nil)
