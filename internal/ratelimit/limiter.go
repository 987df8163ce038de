// Package ratelimit implements the per-client-IP token bucket guarding
// mutating and API endpoints. The local limiter is grounded on
// golang.org/x/time/rate; an optional Redis-backed variant lets identical
// replicas behind one front share a logical bucket per IP.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cleanupInterval and idleTTL bound the local limiter's memory use: an IP
// that hasn't been seen in idleTTL is forgotten on the next sweep.
const (
	cleanupInterval = 2 * time.Minute
	idleTTL         = 10 * time.Minute
)

// Limiter is the interface both the local and Redis-backed implementations
// satisfy.
type Limiter interface {
	// Allow reports whether a request from clientIP may proceed right now.
	Allow(clientIP string) bool
	Stop()
}

type entry struct {
	limiter        *rate.Limiter
	lastAccessUnix int64
}

// Local is an in-process per-IP token bucket.
type Local struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	rps      rate.Limit
	burst    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLocal returns a limiter allowing rps requests per second per client
// IP, with burst capacity for short spikes.
func NewLocal(rps float64, burst int) *Local {
	l := &Local{
		entries: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether clientIP may proceed, creating its bucket on first
// sight.
func (l *Local) Allow(clientIP string) bool {
	l.mu.RLock()
	e, ok := l.entries[clientIP]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		if e, ok = l.entries[clientIP]; !ok {
			e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
			l.entries[clientIP] = e
		}
		l.mu.Unlock()
	}

	e.lastAccessUnix = time.Now().Unix()
	return e.limiter.Allow()
}

// SetLimit updates the rate applied to every bucket created from this
// point on (existing buckets keep their prior limiter instance — this is
// the hot-reload path; a full reset is not worth the added lock
// contention for a limit change).
func (l *Local) SetLimit(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rate.Limit(rps)
	l.burst = burst
}

// Stop halts the cleanup goroutine.
func (l *Local) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Local) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Local) sweep() {
	cutoff := time.Now().Add(-idleTTL).Unix()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if e.lastAccessUnix < cutoff {
			delete(l.entries, ip)
		}
	}
}
