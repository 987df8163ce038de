package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalAllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewLocal(1, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be allowed within burst", i)
	}
	assert.False(t, l.Allow("1.2.3.4"), "request beyond burst should be limited")
}

func TestLocalTracksClientsIndependently(t *testing.T) {
	l := NewLocal(1, 1)
	defer l.Stop()

	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"), "a different client IP must have its own bucket")
}

func TestLocalSweepRemovesIdleEntries(t *testing.T) {
	l := NewLocal(1, 1)
	defer l.Stop()

	l.Allow("stale-client")
	l.mu.Lock()
	l.entries["stale-client"].lastAccessUnix = 0
	l.mu.Unlock()

	l.sweep()

	l.mu.RLock()
	_, exists := l.entries["stale-client"]
	l.mu.RUnlock()
	assert.False(t, exists)
}
