package codec

import "encoding/binary"

// DeriveChunkNonce derives the nonce for chunk index from the blob's random
// base nonce by XORing the little-endian encoding of index into the first
// 8 bytes; the remaining 16 bytes pass through unchanged. Encoder and
// decoder must agree on this derivation exactly — it is not renegotiated
// per chunk on the wire.
func DeriveChunkNonce(base [NonceSize]byte, index uint64) [NonceSize]byte {
	var out [NonceSize]byte
	copy(out[:], base[:])

	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	for i := 0; i < 8; i++ {
		out[i] ^= idx[i]
	}
	return out
}
