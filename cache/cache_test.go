package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheUnderTest interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Fence(ctx context.Context, scope string) (string, error)
	SetFenced(ctx context.Context, scope, fence, key string, value []byte, ttl time.Duration) (bool, error)
	Bump(ctx context.Context, scope string) error
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "pg:"), mr
}

func implementations(t *testing.T) map[string]cacheUnderTest {
	r, _ := newTestRedis(t)
	return map[string]cacheUnderTest{
		"redis": r,
		"lru":   NewLRU(128, time.Hour),
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(ctx, "identity:1")
			assert.ErrorIs(t, err, ErrCacheMiss)

			require.NoError(t, c.Set(ctx, "identity:1", []byte(`{"id":"1"}`), time.Minute))
			got, err := c.Get(ctx, "identity:1")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"1"}`, string(got))

			require.NoError(t, c.Delete(ctx, "identity:1", "identity:missing"))
			_, err = c.Get(ctx, "identity:1")
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}
}

func TestDeleteByPatternScopesToDocument(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"doc:1:owner", "doc:1:share:alice", "doc:1:share:bob", "doc:12:owner", "identity:1"} {
				require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
			}

			require.NoError(t, c.DeleteByPattern(ctx, "doc:1:*"))

			for _, k := range []string{"doc:1:owner", "doc:1:share:alice", "doc:1:share:bob"} {
				_, err := c.Get(ctx, k)
				assert.ErrorIs(t, err, ErrCacheMiss, k)
			}
			for _, k := range []string{"doc:12:owner", "identity:1"} {
				_, err := c.Get(ctx, k)
				assert.NoError(t, err, k)
			}
		})
	}
}

func TestSetFencedRejectsAfterBump(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fence, err := c.Fence(ctx, "doc:1")
			require.NoError(t, err)

			stored, err := c.SetFenced(ctx, "doc:1", fence, "doc:1:owner", []byte("v1"), time.Minute)
			require.NoError(t, err)
			assert.True(t, stored)

			require.NoError(t, c.Bump(ctx, "doc:1"))
			require.NoError(t, c.DeleteByPattern(ctx, "doc:1:*"))

			stored, err = c.SetFenced(ctx, "doc:1", fence, "doc:1:owner", []byte("stale"), time.Minute)
			require.NoError(t, err)
			assert.False(t, stored)
			_, err = c.Get(ctx, "doc:1:owner")
			assert.ErrorIs(t, err, ErrCacheMiss)

			fresh, err := c.Fence(ctx, "doc:1")
			require.NoError(t, err)
			assert.NotEqual(t, fence, fresh)
			stored, err = c.SetFenced(ctx, "doc:1", fresh, "doc:1:owner", []byte("v2"), time.Minute)
			require.NoError(t, err)
			assert.True(t, stored)
			got, err := c.Get(ctx, "doc:1:owner")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(got))
		})
	}
}

func TestBumpIsScoped(t *testing.T) {
	ctx := context.Background()
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fence, err := c.Fence(ctx, "identity:a")
			require.NoError(t, err)
			require.NoError(t, c.Bump(ctx, "identity:b"))

			stored, err := c.SetFenced(ctx, "identity:a", fence, "identity:a", []byte("v"), time.Minute)
			require.NoError(t, err)
			assert.True(t, stored)
		})
	}
}

func TestRedisFenceSurvivesPatternDelete(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Bump(ctx, "doc:1"))
	require.NoError(t, r.DeleteByPattern(ctx, "doc:1:*"))
	assert.True(t, mr.Exists("pg:fence:doc:1"))
	assert.True(t, mr.TTL("pg:fence:doc:1") > 0)

	stored, err := r.SetFenced(ctx, "doc:1", "1", "doc:1:owner", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.TTL("pg:doc:1:owner") > 0)
}

func TestLRUFenceEvictionInvalidatesTokens(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(16, time.Hour)

	require.NoError(t, c.Bump(ctx, "doc:a"))
	fence, err := c.Fence(ctx, "doc:a")
	require.NoError(t, err)

	// push doc:a's counter out of the fence table
	for i := 0; i < 16; i++ {
		require.NoError(t, c.Bump(ctx, "doc:"+strconv.Itoa(i)))
	}

	stored, err := c.SetFenced(ctx, "doc:a", fence, "doc:a:owner", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.False(t, stored, "a token issued before eviction must not be honoured")
}

func TestRedisPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "identity:1", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("pg:identity:1"))
	assert.False(t, mr.Exists("identity:1"))

	mr.FastForward(2 * time.Minute)
	_, err := r.Get(ctx, "identity:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisDeleteByPatternManyKeys(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	for i := 0; i < scanBatch*2+5; i++ {
		require.NoError(t, r.Set(ctx, "doc:9:share:user-"+strconv.Itoa(i), []byte("x"), time.Minute))
	}
	require.NoError(t, r.Set(ctx, "doc:10:owner", []byte("x"), time.Minute))

	require.NoError(t, r.DeleteByPattern(ctx, "doc:9:*"))
	assert.Equal(t, []string{"pg:doc:10:owner"}, mr.Keys())
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.Get(ctx, "identity:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.Error(t, r.Set(ctx, "identity:1", []byte("v"), time.Minute))
	assert.Error(t, r.Ping(ctx))
}

func TestLRUExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(16, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "identity:1", []byte("v"), time.Minute))
	now = now.Add(59 * time.Second)
	_, err := c.Get(ctx, "identity:1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = c.Get(ctx, "identity:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Zero(t, c.Len())
}

func TestLRUCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(16, time.Hour)
	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestLRUBadPattern(t *testing.T) {
	assert.Error(t, NewLRU(16, time.Minute).DeleteByPattern(context.Background(), "doc:["))
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c cacheUnderTest = Nop{}
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.DeleteByPattern(ctx, "*"))
	assert.NoError(t, c.Bump(ctx, "doc:1"))
	stored, err := c.SetFenced(ctx, "doc:1", "", "k", []byte("v"), time.Minute)
	assert.NoError(t, err)
	assert.True(t, stored)
}
