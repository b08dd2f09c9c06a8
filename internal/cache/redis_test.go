package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/cloudtype/internal/cache"
	"github.com/sakif/cloudtype/internal/model"
)

// Runs only against a real server, e.g.
// CLOUDTYPE_TEST_REDIS_URL=redis://localhost:6379/15 go test ./internal/cache
func newTestRedis(t *testing.T) *cache.Redis {
	t.Helper()
	url := os.Getenv("CLOUDTYPE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CLOUDTYPE_TEST_REDIS_URL not set")
	}
	r, err := cache.NewRedisFromURL(context.Background(), url, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	id := "redis-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { r.Invalidate(ctx, id) })

	_, ok, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := r.Generation(ctx, id)
	require.NoError(t, err)

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, r.Set(ctx, model.AccountStatus{UserID: id, Handle: "bob", BannedUntil: &until}, gen))

	got, ok, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", got.Handle)
	require.NotNil(t, got.BannedUntil)
	assert.True(t, until.Equal(*got.BannedUntil))

	require.NoError(t, r.Invalidate(ctx, id))
	_, ok, err = r.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_SetAfterInvalidateIsDropped(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	id := "redis-gen-" + time.Now().Format("150405.000000000")

	gen, err := r.Generation(ctx, id)
	require.NoError(t, err)
	require.NoError(t, r.Invalidate(ctx, id))

	require.NoError(t, r.Set(ctx, model.AccountStatus{UserID: id, Handle: "stale"}, gen))
	_, ok, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := r.Generation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, gen+1, fresh)

	require.NoError(t, r.Set(ctx, model.AccountStatus{UserID: id, Handle: "fresh"}, fresh))
	got, ok, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Handle)
}

func TestNewRedisFromURL_BadURL(t *testing.T) {
	_, err := cache.NewRedisFromURL(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}
