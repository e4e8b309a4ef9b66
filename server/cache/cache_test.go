package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/san-kum/detection-lights/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(4, 0, zap.NewNop())
	ctx := context.Background()

	want := models.Snapshot{Current: models.LightGreen, TotalFrames: 12, LightsEnabled: true}
	require.NoError(t, c.Set(ctx, "state", want))

	var got models.Snapshot
	require.NoError(t, c.Get(ctx, "state", &got))
	assert.Equal(t, want.Current, got.Current)
	assert.Equal(t, want.TotalFrames, got.TotalFrames)
	assert.True(t, got.LightsEnabled)

	require.NoError(t, c.Delete(ctx, "state"))
	assert.ErrorIs(t, c.Get(ctx, "state", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(4, 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "short", 1, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var v int
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2, 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2))
	time.Sleep(time.Millisecond)

	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "c", 3))

	assert.NoError(t, c.Get(ctx, "a", &v))
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "c", &v))

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", stats.Backend)
	assert.True(t, stats.Connected)
}

func TestStatePublisherKeepsLatest(t *testing.T) {
	c := NewMemoryCache(4, 0, zap.NewNop())
	p := NewStatePublisher(c, zap.NewNop())

	for i := 1; i <= 50; i++ {
		p.Publish(models.Snapshot{TotalFrames: uint64(i)})
	}
	p.Close()

	got, err := p.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.TotalFrames)

	p.Close()
}

func TestStatePublisherBeforeFirstPublish(t *testing.T) {
	p := NewStatePublisher(NewMemoryCache(4, 0, zap.NewNop()), zap.NewNop())
	defer p.Close()

	_, err := p.Latest(context.Background())
	assert.ErrorIs(t, err, ErrCacheMiss)
}

// TestRedisCache runs against a live server when REDIS_HOST is set.
func TestRedisCache(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := 6379
	if p, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil {
		port = p
	}

	c, err := NewRedisCache(host, port, os.Getenv("REDIS_PASSWORD"), 0, time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	require.NoError(t, c.Set(ctx, key, models.Snapshot{Current: models.LightRed}))

	var got models.Snapshot
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, models.LightRed, got.Current)

	require.NoError(t, c.Delete(ctx, key))
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", stats.Backend)
}
