package store_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rollups/api/store"
	apitesting "github.com/malbeclabs/rollups/api/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := store.NewMemoryCache(clock, time.Minute)
	ctx := t.Context()

	_, ok, err := cache.Get(ctx, "city=Detroit")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "city=Detroit", []string{"s1", "s2"}))

	clock.Advance(59 * time.Second)
	ids, ok, err := cache.Get(ctx, "city=Detroit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	clock.Advance(time.Second)
	_, ok, err = cache.Get(ctx, "city=Detroit")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_EmptySetIsAHit(t *testing.T) {
	cache := store.NewMemoryCache(clockwork.NewFakeClock(), time.Minute)
	require.NoError(t, cache.Set(t.Context(), "k", nil))

	ids, ok, err := cache.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := store.NewMemoryCache(clockwork.NewFakeClock(), time.Minute)
	ids := []string{"a"}
	require.NoError(t, cache.Set(t.Context(), "k", ids))
	ids[0] = "changed"

	got, _, err := cache.Get(t.Context(), "k")
	require.NoError(t, err)
	got[0] = "changed again"

	got, _, err = cache.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestRedisCache(t *testing.T) {
	client := apitesting.NewTestRedis(t, testRedisDB)
	cache := store.NewRedisCache(client, time.Minute)
	ctx := t.Context()

	_, ok, err := cache.Get(ctx, "city=Detroit")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "city=Detroit", []string{"s1", "s2"}))
	ids, ok, err := cache.Get(ctx, "city=Detroit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	require.NoError(t, cache.Set(ctx, "city=Nowhere", nil))
	ids, ok, err = cache.Get(ctx, "city=Nowhere")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)

	ttl, err := client.TTL(ctx, "rollups:sources:city=Detroit").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

// failingCache errors on every call.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]string, bool, error) {
	return nil, false, errors.New("cache unavailable")
}

func (failingCache) Set(context.Context, string, []string) error {
	return errors.New("cache unavailable")
}

func TestCachedResolver(t *testing.T) {
	resolver := &staticResolver{ids: []string{"s1"}}
	clock := clockwork.NewFakeClock()
	cached := store.NewCachedResolver(slog.Default(), resolver, store.NewMemoryCache(clock, time.Minute))
	ctx := t.Context()

	for range 3 {
		ids, err := cached.SourceIDsByAttribute(ctx, "city", "Detroit")
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, ids)
	}
	assert.Equal(t, 1, resolver.calls)

	_, err := cached.SourceIDsByAttribute(ctx, "city", "Boston")
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.calls)

	clock.Advance(time.Minute)
	_, err = cached.SourceIDsByAttribute(ctx, "city", "Detroit")
	require.NoError(t, err)
	assert.Equal(t, 3, resolver.calls)
}

func TestCachedResolver_FallsThroughOnCacheFailure(t *testing.T) {
	resolver := &staticResolver{ids: []string{"s1"}}
	cached := store.NewCachedResolver(slog.Default(), resolver, failingCache{})

	ids, err := cached.SourceIDsByAttribute(t.Context(), "city", "Detroit")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestCachedResolver_DoesNotCacheErrors(t *testing.T) {
	resolver := &staticResolver{err: errors.New("registry down")}
	cached := store.NewCachedResolver(slog.Default(), resolver, store.NewMemoryCache(clockwork.NewFakeClock(), time.Minute))

	_, err := cached.SourceIDsByAttribute(t.Context(), "city", "Detroit")
	require.Error(t, err)
	_, err = cached.SourceIDsByAttribute(t.Context(), "city", "Detroit")
	require.Error(t, err)
	assert.Equal(t, 2, resolver.calls)
}
