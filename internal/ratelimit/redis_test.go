package ratelimit

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, rps float64, burst int) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	limiter, err := NewRedis("redis://"+mr.Addr(), rps, burst)
	require.NoError(t, err)
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestRedisLimiterAllowsUpToBurst(t *testing.T) {
	limiter := newTestRedisLimiter(t, 10, 3)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("1.2.3.4"))
	}
	require.False(t, limiter.Allow("1.2.3.4"))
}

func TestRedisLimiterTracksClientsIndependently(t *testing.T) {
	limiter := newTestRedisLimiter(t, 10, 1)

	require.True(t, limiter.Allow("1.1.1.1"))
	require.False(t, limiter.Allow("1.1.1.1"))
	require.True(t, limiter.Allow("2.2.2.2"))
}

func TestRedisLimiterFailsOpenWhenConnectionClosed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	limiter, err := NewRedis("redis://"+mr.Addr(), 10, 1)
	require.NoError(t, err)

	mr.Close()
	require.True(t, limiter.Allow("3.3.3.3"))
}
