package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewMemoryProvider()
	p.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Second))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Second)
	_, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderSetNX(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Del(ctx, "lock"))
	ok, err = p.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryProviderCompareAndDelete(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "lock", []byte("owner"), 0))

	ok, err := p.CompareAndDelete(ctx, "lock", []byte("intruder"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.CompareAndDelete(ctx, "lock", []byte("owner"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = p.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, p.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	_, err := NewRedisProvider(RedisConfig{})
	require.Error(t, err)
}

func TestNormaliseDurations(t *testing.T) {
	cfg := RedisConfig{MaxRetries: -1}
	normaliseDurations(&cfg)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
}
