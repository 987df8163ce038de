// Package codec implements the chunked AEAD streaming encoding used for
// every drop: a fixed 40-byte header, XChaCha20-Poly1305-sealed 64KiB
// chunks, and the worker-pool pipeline that keeps memory use bounded
// regardless of blob size.
package codec

import (
	"crypto/rand"
	"runtime"

	"github.com/kenneth/deaddrop/internal/apperr"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkSize is the fixed plaintext chunk size. The final chunk may be
// shorter; an empty input still produces exactly one (zero-length) chunk.
const ChunkSize = 64 * 1024

// ParallelThreshold is the plaintext size above which the streaming
// pipeline dispatches chunk encrypt/decrypt work across a worker pool
// instead of running inline on the calling goroutine.
const ParallelThreshold = 4 * ChunkSize

func newAEAD(key []byte) (aeadCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindKey, "construct AEAD", err)
	}
	return aead, nil
}

func randomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, apperr.Wrap(apperr.KindIO, "generate base nonce", err)
	}
	return n, nil
}

func workerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}
