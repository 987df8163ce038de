package store

import (
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kenneth/deaddrop/internal/apperr"
)

// reapInterval is how often the background reaper sweeps for expired
// drops and stale tombstones.
const reapInterval = 5 * time.Second

// tombstoneRetention is how long a burned id is remembered before it is
// forgotten, bounding memory use for long-running receive servers.
const tombstoneRetention = time.Hour

// BlobStore is the concurrent, in-process map of live drops plus the
// burned-id tombstone set. There is no durable backing: everything here is
// lost on process exit, by design.
type BlobStore struct {
	mu      sync.RWMutex
	drops   map[string]*Drop
	burned  map[string]time.Time

	onExpire func(id string)

	stopCh chan struct{}
	stopOnce sync.Once
}

// New returns an empty store and starts its background reaper. onExpire,
// if non-nil, is called (off the reaper goroutine's critical section) once
// per drop the reaper evicts for TTL expiry.
func New(onExpire func(id string)) *BlobStore {
	s := &BlobStore{
		drops:    make(map[string]*Drop),
		burned:   make(map[string]time.Time),
		onExpire: onExpire,
		stopCh:   make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// NewID returns a fresh, unused drop identifier: 16 hex characters carrying
// 64 random bits, taken from a random UUID's bytes while skipping its fixed
// version and variant bits. Collisions are vanishingly unlikely but
// Insert still rejects them rather than silently overwriting.
func NewID() string {
	u := uuid.New()
	b := make([]byte, 0, 8)
	b = append(b, u[0:6]...)
	b = append(b, u[7], u[9])
	return hex.EncodeToString(b)
}

// Insert adds a new drop, returning an error if its id collides with an
// existing live drop.
func (s *BlobStore) Insert(d *Drop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drops[d.ID]; exists {
		return apperr.New(apperr.KindIO, "drop id collision")
	}
	s.drops[d.ID] = d
	return nil
}

// Get returns the live drop for id, or nil if it is unknown or burned.
func (s *BlobStore) Get(id string) *Drop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drops[id]
}

// IsBurned reports whether id is a tombstoned (recently destroyed) drop.
func (s *BlobStore) IsBurned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.burned[id]
	return ok
}

// IsEmpty reports whether the store currently holds no live drops.
func (s *BlobStore) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drops) == 0
}

// RecordDownload atomically increments id's download counter and reports
// the new count plus whether this call is the one that crossed
// MaxDownloads (and is therefore responsible for calling Remove). Returns
// ok=false if id is not live.
func (s *BlobStore) RecordDownload(id string) (count int32, shouldDelete bool, ok bool) {
	s.mu.RLock()
	d, exists := s.drops[id]
	s.mu.RUnlock()
	if !exists {
		return 0, false, false
	}
	count = atomic.AddInt32(&d.downloadCount, 1)
	shouldDelete = d.MaxDownloads > 0 && count >= d.MaxDownloads
	return count, shouldDelete, true
}

// Remove evicts id from the live set, tombstones it, and destroys its
// backing storage. Returns false if id was already gone.
func (s *BlobStore) Remove(id string) bool {
	s.mu.Lock()
	d, exists := s.drops[id]
	if exists {
		delete(s.drops, id)
		s.burned[id] = time.Now()
	}
	s.mu.Unlock()
	if exists {
		d.destroy()
	}
	return exists
}

// Len returns the number of live drops, for tests and metrics.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drops)
}

// Stop halts the reaper goroutine. Safe to call more than once.
func (s *BlobStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *BlobStore) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapOnce(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// reapOnce is the single sweep the ticker drives; exported indirectly via
// reapLoop but also callable directly from tests for determinism.
func (s *BlobStore) reapOnce(now time.Time) {
	var expired []*Drop

	s.mu.Lock()
	for id, d := range s.drops {
		if d.IsExpired(now) {
			expired = append(expired, d)
			delete(s.drops, id)
			s.burned[id] = now
		}
	}
	for id, at := range s.burned {
		if now.Sub(at) > tombstoneRetention {
			delete(s.burned, id)
		}
	}
	s.mu.Unlock()

	for _, d := range expired {
		d.destroy()
		if s.onExpire != nil {
			s.onExpire(d.ID)
		}
	}
}

// ReapNow runs a reaper sweep synchronously, for deterministic tests.
func (s *BlobStore) ReapNow() {
	s.reapOnce(time.Now())
}
