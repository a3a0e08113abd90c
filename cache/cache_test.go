package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadow-Devil/hogwarts-productivity-hub-bot-sub002/cache"
)

func TestCache_GetSet(t *testing.T) {
	c := cache.New(10, time.Minute)

	_, ok := c.Get("member:m1:stats")
	assert.False(t, ok)

	c.Set("member:m1:stats", 42)
	got, ok := c.Get("member:m1:stats")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := cache.New(10, 20*time.Millisecond)
	c.Set("k", "v")

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire after the TTL")
	assert.Equal(t, 0, c.Len())
}

func TestCache_InvalidatePattern(t *testing.T) {
	// GIVEN: cached entries for two members and a leaderboard
	// WHEN: invalidating one member's prefix
	// THEN: only that member's entries disappear

	c := cache.New(10, time.Minute)
	c.Set("member:m1:stats", 1)
	c.Set("member:m1:limit", 2)
	c.Set("member:m2:stats", 3)
	c.Set("leaderboard:monthly", 4)

	c.InvalidatePattern("member:m1")

	_, ok := c.Get("member:m1:stats")
	assert.False(t, ok)
	_, ok = c.Get("member:m1:limit")
	assert.False(t, ok)
	_, ok = c.Get("member:m2:stats")
	assert.True(t, ok)
	_, ok = c.Get("leaderboard:monthly")
	assert.True(t, ok)
}

func TestCache_BoundedEviction(t *testing.T) {
	// The cache never grows past its bound; the oldest entry makes room.
	c := cache.New(3, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		time.Sleep(time.Millisecond) // distinct stored-at ordering
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestCache_SetOverwritesInPlace(t *testing.T) {
	c := cache.New(2, time.Minute)
	c.Set("k", 1)
	c.Set("k", 2)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, c.Len())
}
