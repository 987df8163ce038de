package codec

import (
	"encoding/binary"

	"github.com/kenneth/deaddrop/internal/apperr"
)

// NonceSize is the XChaCha20-Poly1305 nonce length.
const NonceSize = 24

// HeaderSize is the fixed on-wire size of EncryptedHeader.
const HeaderSize = NonceSize + 8 + 8

// EncryptedHeader precedes every encrypted blob: the random base nonce the
// per-chunk nonces are derived from, the number of chunks that follow, and
// the original plaintext size. It is written as a placeholder (base nonce,
// zero totals) before streaming starts and rewritten once the true totals
// are known.
type EncryptedHeader struct {
	Nonce        [NonceSize]byte
	TotalChunks  uint64
	OriginalSize uint64
}

// ToBytes renders the header in its fixed little-endian wire layout.
func (h EncryptedHeader) ToBytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[:NonceSize], h.Nonce[:])
	binary.LittleEndian.PutUint64(buf[NonceSize:NonceSize+8], h.TotalChunks)
	binary.LittleEndian.PutUint64(buf[NonceSize+8:], h.OriginalSize)
	return buf
}

// HeaderFromBytes parses a header previously produced by ToBytes.
func HeaderFromBytes(buf []byte) (EncryptedHeader, error) {
	var h EncryptedHeader
	if len(buf) != HeaderSize {
		return h, apperr.New(apperr.KindCorruptFrame, "short header")
	}
	copy(h.Nonce[:], buf[:NonceSize])
	h.TotalChunks = binary.LittleEndian.Uint64(buf[NonceSize : NonceSize+8])
	h.OriginalSize = binary.LittleEndian.Uint64(buf[NonceSize+8:])
	return h, nil
}
