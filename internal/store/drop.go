// Package store implements the blob lifecycle: the concurrent map of live
// drops, the burned-id tombstone set, the TTL reaper, and the IP-pinning
// and secure-destruction policies that govern a drop's lifetime.
package store

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Backing distinguishes where a drop's ciphertext lives.
type Backing int

const (
	// BackingMemory means Ciphertext holds the full blob in RAM.
	BackingMemory Backing = iota
	// BackingDisk means the blob lives in a temp file at DiskPath.
	BackingDisk
)

// Drop is one live (or about-to-be-destroyed) ephemeral blob. Exactly one
// of Ciphertext/DiskPath is meaningful, selected by Backing — mirroring a
// sum type in a language that doesn't have one natively.
type Drop struct {
	ID string

	Backing    Backing
	Ciphertext []byte // valid iff Backing == BackingMemory
	DiskPath   string // valid iff Backing == BackingDisk

	EncryptedSize int64
	PlaintextSize int64
	Filename      string
	MimeType      string

	CreatedAt time.Time
	ExpiresAt time.Time

	MaxDownloads  int32 // 0 = unlimited
	downloadCount int32 // atomic; use RecordDownload/DownloadCount

	HasPassword bool

	pinMu     sync.Mutex
	pinnedIP  string

	destroyOnce sync.Once
}

// DownloadCount returns the current download count.
func (d *Drop) DownloadCount() int32 {
	return atomic.LoadInt32(&d.downloadCount)
}

// PinnedIP returns the IP address pinned to this drop, or "" if unpinned.
func (d *Drop) PinnedIP() string {
	d.pinMu.Lock()
	defer d.pinMu.Unlock()
	return d.pinnedIP
}

// CheckAndPin enforces the pinning policy: the first caller to reach this
// method pins clientIP and is admitted; later callers are admitted only if
// their clientIP matches the pin, unless trustedFront is true (a request
// arriving through a loopback-plus-forwarded-for front, which never
// updates the pin). Returns false when the request must be rejected with
// Forbidden.
func (d *Drop) CheckAndPin(clientIP string, trustedFront bool) bool {
	if trustedFront {
		return true
	}
	d.pinMu.Lock()
	defer d.pinMu.Unlock()
	if d.pinnedIP == "" {
		d.pinnedIP = clientIP
		return true
	}
	return d.pinnedIP == clientIP
}

// IsExpired reports whether the drop's TTL has elapsed as of now.
func (d *Drop) IsExpired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}

// destroy overwrites and removes any backing temp file and releases the
// in-memory buffer. Safe to call more than once; only the first call does
// work.
func (d *Drop) destroy() {
	d.destroyOnce.Do(func() {
		switch d.Backing {
		case BackingDisk:
			if err := zeroOverwriteAndUnlink(d.DiskPath); err != nil {
				logrus.WithError(err).WithField("drop_id", d.ID).Warn("store: failed to destroy backing temp file")
			}
		case BackingMemory:
			for i := range d.Ciphertext {
				d.Ciphertext[i] = 0
			}
			d.Ciphertext = nil
		}
	})
}

// zeroOverwriteAndUnlink best-effort overwrites a temp file with zeros
// before unlinking it. A failure here is logged by the caller and does not
// block the drop from being considered logically destroyed.
func zeroOverwriteAndUnlink(path string) error {
	if path == "" {
		return nil
	}
	if info, statErr := os.Stat(path); statErr == nil {
		if f, err := os.OpenFile(path, os.O_WRONLY, 0o600); err == nil {
			zeros := make([]byte, 64*1024)
			remaining := info.Size()
			for remaining > 0 {
				n := int64(len(zeros))
				if remaining < n {
					n = remaining
				}
				if _, werr := f.Write(zeros[:n]); werr != nil {
					break
				}
				remaining -= n
			}
			f.Close()
		}
	}
	return os.Remove(path)
}
