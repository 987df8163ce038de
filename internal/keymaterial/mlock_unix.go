//go:build unix

package keymaterial

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// lockMemory best-effort pins the key's backing page against swap. Failure
// is logged, not fatal: a dropped page still gets zeroized on Destroy, it
// just isn't guaranteed to have avoided the swap file in the interim.
func (k *KeyMaterial) lockMemory() {
	if err := unix.Mlock(k.key[:]); err != nil {
		logrus.WithError(err).Debug("keymaterial: mlock failed, continuing without memory pinning")
		return
	}
	k.locked = true
}

func (k *KeyMaterial) unlockMemory() {
	if !k.locked {
		return
	}
	_ = unix.Munlock(k.key[:])
	k.locked = false
}
