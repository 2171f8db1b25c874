package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 3})
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("k1"), "request %d should be allowed within burst", i)
	}
	assert.False(t, l.Allow("k1"), "fourth request should exceed burst")
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	require.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "a separate key must have its own bucket")
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 1})
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow("k"), "tokens should refill after elapsed time")
}

func TestBucketRefillIsMonotonic(t *testing.T) {
	b := newBucket(Config{RequestsPerSecond: 1, BurstSize: 1})
	b.lastRefill = time.Now().Add(time.Hour) // simulate a backward wall-clock jump
	require.True(t, b.allow(1))
	assert.False(t, b.allow(1), "a clock that appears to move backwards must not grant free tokens")
}
