// Package keymaterial implements the 256-bit data-encryption key: its
// generation, its derivation from a passphrase, its wire encoding, and the
// memory hygiene applied to it on both the send and receive sides.
package keymaterial

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/kenneth/deaddrop/internal/apperr"
	"golang.org/x/crypto/argon2"
)

// Size is the key length in bytes.
const Size = 32

// SaltSize is the length of the random salt used for passphrase derivation.
const SaltSize = 16

// Argon2id parameters. Both peers (this server and the browser-side WASM
// codec) must use identical values or decryption silently fails with an
// AEAD auth error. Parallelism is pinned to 1, not the usual 4, because the
// browser side runs single-threaded.
const (
	kdfMemoryKiB  = 64 * 1024
	kdfIterations = 3
	kdfThreads    = 1
)

var enc = base64.URLEncoding.WithPadding(base64.NoPadding)

// KeyMaterial holds a 256-bit secret and its best-effort memory-hygiene
// state. The zero value is not valid; use Generate or DeriveFromPassword.
type KeyMaterial struct {
	key    [Size]byte
	locked bool
}

// Generate draws a fresh key from a CSPRNG and attempts to pin its backing
// page against swap.
func Generate() (*KeyMaterial, error) {
	km := &KeyMaterial{}
	if _, err := rand.Read(km.key[:]); err != nil {
		return nil, apperr.Wrap(apperr.KindKey, "generate key", err)
	}
	km.lockMemory()
	return km, nil
}

// DeriveFromPassword derives a key from a passphrase and salt via Argon2id
// with the fixed parameters above. salt must be SaltSize bytes.
func DeriveFromPassword(password string, salt []byte) (*KeyMaterial, error) {
	if len(salt) != SaltSize {
		return nil, apperr.New(apperr.KindKey, fmt.Sprintf("salt must be %d bytes, got %d", SaltSize, len(salt)))
	}
	km := &KeyMaterial{}
	derived := argon2.IDKey([]byte(password), salt, kdfIterations, kdfMemoryKiB, kdfThreads, Size)
	copy(km.key[:], derived)
	for i := range derived {
		derived[i] = 0
	}
	km.lockMemory()
	return km, nil
}

// NewSalt returns a fresh random salt suitable for DeriveFromPassword.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, apperr.Wrap(apperr.KindKey, "generate salt", err)
	}
	return salt, nil
}

// Bytes returns the raw key. The returned slice aliases internal storage;
// callers must not retain it past the KeyMaterial's lifetime.
func (k *KeyMaterial) Bytes() []byte {
	return k.key[:]
}

// Encode renders the key as URL-safe base64 without padding (43 characters
// for a 32-byte key), suitable for a URL fragment.
func (k *KeyMaterial) Encode() string {
	return enc.EncodeToString(k.key[:])
}

// EncodeSalt renders a salt the same way, for the "pw:<salt>" fragment form.
func EncodeSalt(salt []byte) string {
	return enc.EncodeToString(salt)
}

// DecodeSalt parses a salt previously produced by EncodeSalt.
func DecodeSalt(s string) ([]byte, error) {
	salt, err := enc.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindKey, "decode salt", err)
	}
	if len(salt) != SaltSize {
		return nil, apperr.New(apperr.KindKey, fmt.Sprintf("salt must decode to %d bytes, got %d", SaltSize, len(salt)))
	}
	return salt, nil
}

// Decode parses a key previously produced by Encode. It rejects any string
// that does not decode to exactly Size bytes.
func Decode(s string) (*KeyMaterial, error) {
	raw, err := enc.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindKey, "decode key", err)
	}
	if len(raw) != Size {
		return nil, apperr.New(apperr.KindKey, fmt.Sprintf("key must decode to %d bytes, got %d", Size, len(raw)))
	}
	km := &KeyMaterial{}
	copy(km.key[:], raw)
	for i := range raw {
		raw[i] = 0
	}
	km.lockMemory()
	return km, nil
}

// Destroy zeroizes the key and releases any memory lock. Safe to call more
// than once.
func (k *KeyMaterial) Destroy() {
	for i := range k.key {
		k.key[i] = 0
	}
	k.unlockMemory()
}
