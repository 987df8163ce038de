//go:build !unix

package keymaterial

// lockMemory is a no-op on platforms without mlock; the key is still
// zeroized on Destroy.
func (k *KeyMaterial) lockMemory() {}

func (k *KeyMaterial) unlockMemory() {}
