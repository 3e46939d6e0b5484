package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesrates/internal/config"
)

type view struct {
	Exchange string `json:"exchange"`
	Avg      string `json:"avg"`
}

func TestKeys(t *testing.T) {
	k := Keys{Prefix: "crystodolar"}
	assert.Equal(t, "crystodolar:current_rates:BCV:all:inactive=false", k.CurrentRates("bcv", "", false))
	assert.Equal(t, "crystodolar:latest_rates:100", k.LatestRates(100))
	assert.Equal(t, "crystodolar:*", k.Pattern())
	assert.Equal(t, "vesrates:latest_rates:5", Keys{}.LatestRates(5))
}

func TestMemoryRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	key := m.keys.CurrentRates("BCV", "USD/VES", false)
	require.NoError(t, m.Set(ctx, key, []view{{Exchange: "BCV", Avg: "36.5"}}, time.Minute))

	var got []view
	ok, err := m.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "36.5", got[0].Avg)

	now = now.Add(time.Minute)
	ok, err = m.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryInvalidateAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")
	require.NoError(t, m.Set(ctx, m.keys.LatestRates(10), []int{1}, 0))
	require.NoError(t, m.Set(ctx, m.keys.CurrentRates("", "", true), []int{2}, time.Hour))
	require.NoError(t, m.Set(ctx, "other:key", 3, 0))

	n, err := m.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var v int
	ok, _ := m.Get(ctx, "other:key", &v)
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestMemoryDecodeError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	require.NoError(t, m.Set(ctx, "vesrates:x", "text", 0))

	var n int
	_, err := m.Get(ctx, "vesrates:x", &n)
	assert.Error(t, err)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	c := Open(context.Background(), config.CacheConfig{Enabled: false, Prefix: "p"}, zerolog.Nop())
	assert.IsType(t, &Memory{}, c)

	c = Open(context.Background(), config.CacheConfig{Enabled: true, Addr: "127.0.0.1:1", Prefix: "p"}, zerolog.Nop())
	assert.IsType(t, &Memory{}, c)
	assert.NoError(t, c.Close())
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ok, err := c.Get(context.Background(), "k", new(int))
	assert.False(t, ok)
	assert.NoError(t, err)
}
