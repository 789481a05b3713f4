package calculations

import (
	"context"
	"testing"
	"time"

	testingpkg "github.com/aristath/factorfit/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, "cache")

	cache := NewCache(db.Conn(), zerolog.Nop())
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)

	_, ok, err := cache.Get(ctx, "betas", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "betas", "k1", []byte{1, 2, 3}, time.Hour))
	value, ok, err := cache.Get(ctx, "betas", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, value)

	// namespaces are separate
	_, ok, err = cache.Get(ctx, "other", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// replace
	require.NoError(t, cache.Set(ctx, "betas", "k1", []byte{9}, time.Hour))
	value, _, err = cache.Get(ctx, "betas", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, value)

	assert.Error(t, cache.Set(ctx, "betas", "k2", []byte{1}, 0))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, now := setupTestCache(t)

	require.NoError(t, cache.Set(ctx, "betas", "short", []byte("a"), time.Minute))
	require.NoError(t, cache.Set(ctx, "betas", "long", []byte("b"), time.Hour))

	*now = now.Add(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "betas", "short")
	require.NoError(t, err)
	assert.False(t, ok)

	counts, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["betas"])

	deleted, err := cache.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, err = cache.Get(ctx, "betas", "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)

	require.NoError(t, cache.Set(ctx, "betas", "a", []byte("1"), time.Hour))
	require.NoError(t, cache.Set(ctx, "betas", "b", []byte("2"), time.Hour))
	require.NoError(t, cache.Set(ctx, "other", "a", []byte("3"), time.Hour))

	require.NoError(t, cache.Delete(ctx, "betas", "a"))
	_, ok, err := cache.Get(ctx, "betas", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Clear(ctx, "betas"))
	counts, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"other": 1}, counts)
}

func TestCleanupJob(t *testing.T) {
	ctx := context.Background()
	cache, now := setupTestCache(t)
	job := NewCleanupJob(cache, zerolog.Nop())
	assert.Equal(t, "calculation_cache_cleanup", job.Name())

	require.NoError(t, cache.Set(ctx, "betas", "old", []byte("x"), time.Minute))
	require.NoError(t, cache.Set(ctx, "betas", "new", []byte("y"), 24*time.Hour))
	*now = now.Add(time.Hour)

	var notified int64
	job.OnClean(func(deleted int64) { notified = deleted })
	require.NoError(t, job.Run())
	assert.Equal(t, int64(1), notified)

	var remaining int
	require.NoError(t, cache.db.QueryRow("SELECT COUNT(*) FROM calculation_cache").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
