package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewFromClient(rc, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetEmbedding(ctx, "abc", []float32{0.1, 0.2}))
	assert.True(t, mr.Exists(embeddingPrefix+"abc"))
	assert.Equal(t, time.Hour, mr.TTL(embeddingPrefix+"abc"))

	v, ok, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, v)
}

func TestEmbeddingExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetEmbedding(ctx, "abc", []float32{1}))
	mr.FastForward(2 * time.Hour)

	_, ok, err := c.GetEmbedding(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(embeddingPrefix+"bad", "not json"))

	_, ok, err := c.GetEmbedding(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestInvalidateEmbeddings(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetEmbedding(ctx, "a", []float32{1}))
	require.NoError(t, c.SetEmbedding(ctx, "b", []float32{2}))
	require.NoError(t, mr.Set("other", "keep"))

	removed, err := c.InvalidateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, mr.Exists(embeddingPrefix+"a"))
	assert.False(t, mr.Exists(embeddingPrefix+"b"))
	assert.True(t, mr.Exists("other"))
}

func TestPing(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
