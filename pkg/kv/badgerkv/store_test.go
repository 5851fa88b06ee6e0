package badgerkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixstore/pkg/kv"
	"github.com/marmos91/pixstore/pkg/kv/badgerkv"
)

func openTestDB(t *testing.T) *badgerkv.DB {
	t.Helper()

	db, err := badgerkv.Open(context.Background(), badgerkv.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := badgerkv.Open(context.Background(), badgerkv.Config{})
	assert.Error(t, err)
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	assert.NoError(t, db.Healthcheck(context.Background()))
}

func TestPrefixIsolation(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	uploads := badgerkv.NewStore[string](db, "uploads")
	jobs := badgerkv.NewStore[string](db, "jobs")

	require.NoError(t, uploads.Set(ctx, "id1", "upload-value", nil))
	require.NoError(t, jobs.Set(ctx, "id1", "job-value", nil))

	uploadValue, found, err := uploads.Get(ctx, "id1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "upload-value", uploadValue)

	jobValue, found, err := jobs.Get(ctx, "id1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-value", jobValue)

	require.NoError(t, uploads.Delete(ctx, "id1"))

	_, found, err = jobs.Get(ctx, "id1")
	require.NoError(t, err)
	assert.True(t, found, "delete in one prefix must not touch another")
}

func TestStructValues(t *testing.T) {
	t.Parallel()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	db := openTestDB(t)
	ctx := context.Background()

	store := badgerkv.NewStore[record](db, "records")

	require.NoError(t, store.Set(ctx, "r1", record{Name: "photo.jpg", Count: 3}, nil))

	got, err := store.GetVersioned(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record{Name: "photo.jpg", Count: 3}, got.Value)

	result, err := store.SetIfVersion(ctx, "r1", record{Name: "photo.jpg", Count: 4}, got.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, kv.CASWritten, result.Outcome)
}

func TestClosedDBRejectsOperations(t *testing.T) {
	t.Parallel()

	db, err := badgerkv.Open(context.Background(), badgerkv.Config{InMemory: true})
	require.NoError(t, err)

	store := badgerkv.NewStore[string](db, "test")
	require.NoError(t, db.Close())

	_, _, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, kv.ErrStoreClosed)

	err = store.Set(context.Background(), "k", "v", nil)
	assert.ErrorIs(t, err, kv.ErrStoreClosed)
}
