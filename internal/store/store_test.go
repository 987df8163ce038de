package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDrop(id string, ttl time.Duration, maxDownloads int32) *Drop {
	return &Drop{
		ID:           id,
		Backing:      BackingMemory,
		Ciphertext:   []byte("ciphertext"),
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(ttl),
		MaxDownloads: maxDownloads,
	}
}

func TestInsertGetRemove(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	d := newTestDrop("abc123", time.Hour, 0)
	require.NoError(t, s.Insert(d))

	assert.Same(t, d, s.Get("abc123"))
	assert.False(t, s.IsBurned("abc123"))

	assert.True(t, s.Remove("abc123"))
	assert.Nil(t, s.Get("abc123"))
	assert.True(t, s.IsBurned("abc123"))
}

func TestInsertRejectsCollision(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	require.NoError(t, s.Insert(newTestDrop("dup", time.Hour, 0)))
	err := s.Insert(newTestDrop("dup", time.Hour, 0))
	assert.Error(t, err)
}

func TestRecordDownloadCrossesMaxDownloads(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	d := newTestDrop("one-shot", time.Hour, 1)
	require.NoError(t, s.Insert(d))

	count, shouldDelete, ok := s.RecordDownload("one-shot")
	require.True(t, ok)
	assert.Equal(t, int32(1), count)
	assert.True(t, shouldDelete)

	if shouldDelete {
		s.Remove("one-shot")
	}
	assert.Nil(t, s.Get("one-shot"))
	assert.True(t, s.IsBurned("one-shot"))
}

func TestRecordDownloadUnknownID(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	_, _, ok := s.RecordDownload("nope")
	assert.False(t, ok)
}

func TestPinningFirstAccessWins(t *testing.T) {
	d := newTestDrop("pin-test", time.Hour, 0)
	assert.True(t, d.CheckAndPin("1.2.3.4", false))
	assert.Equal(t, "1.2.3.4", d.PinnedIP())
	assert.True(t, d.CheckAndPin("1.2.3.4", false))
	assert.False(t, d.CheckAndPin("9.9.9.9", false))
}

func TestPinningTrustedFrontBypasses(t *testing.T) {
	d := newTestDrop("pin-bypass", time.Hour, 0)
	assert.True(t, d.CheckAndPin("1.2.3.4", false))
	assert.True(t, d.CheckAndPin("9.9.9.9", true))
	assert.Equal(t, "1.2.3.4", d.PinnedIP())
}

func TestReapRemovesExpiredAndCallsOnExpire(t *testing.T) {
	var expiredIDs []string
	s := New(func(id string) { expiredIDs = append(expiredIDs, id) })
	defer s.Stop()

	require.NoError(t, s.Insert(newTestDrop("expired", -time.Second, 0)))
	require.NoError(t, s.Insert(newTestDrop("fresh", time.Hour, 0)))

	s.ReapNow()

	assert.Nil(t, s.Get("expired"))
	assert.True(t, s.IsBurned("expired"))
	assert.NotNil(t, s.Get("fresh"))
	assert.Contains(t, expiredIDs, "expired")
}

func TestReapPrunesOldTombstones(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	s.mu.Lock()
	s.burned["ancient"] = time.Now().Add(-2 * time.Hour)
	s.burned["recent"] = time.Now()
	s.mu.Unlock()

	s.ReapNow()

	assert.False(t, s.IsBurned("ancient"))
	assert.True(t, s.IsBurned("recent"))
}

func TestDestroyOverwritesAndUnlinksDiskBacking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte("super secret ciphertext"), 0o600))

	d := &Drop{ID: "disk-drop", Backing: BackingDisk, DiskPath: path, ExpiresAt: time.Now().Add(time.Hour)}
	d.destroy()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewIDsAreDistinct(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 16)
}
