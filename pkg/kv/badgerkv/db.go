// Package badgerkv implements the kv capabilities on BadgerDB.
//
// A single DB hosts any number of typed stores, each under its own key
// prefix. Values are stored as JSON envelopes carrying a per-key write
// counter, which backs the opaque version tokens used for
// compare-and-swap.
package badgerkv

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/pixstore/internal/logger"
)

// Config holds BadgerDB open options.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory runs the database without persistence. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync on every write. Slower but survives
	// power loss without losing acknowledged writes.
	SyncWrites bool
}

// DB is an open BadgerDB handle shared by the typed stores.
type DB struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badgerkv: path is required for a persistent database")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: failed to open database at %q: %w", cfg.Path, err)
	}

	logger.Debug("opened badger database",
		logger.StoreType("badger"),
		"path", cfg.Path,
		"in_memory", cfg.InMemory,
	)

	return &DB{db: db}, nil
}

// Close flushes and closes the database. All stores created from this
// DB become unusable.
func (d *DB) Close() error {
	if d.db.IsClosed() {
		return nil
	}
	return d.db.Close()
}

// Healthcheck verifies the database can serve a read transaction.
func (d *DB) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.db.IsClosed() {
		return fmt.Errorf("badgerkv: healthcheck failed: database is closed")
	}

	err := d.db.View(func(txn *badger.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("badgerkv: healthcheck failed: %w", err)
	}
	return nil
}
