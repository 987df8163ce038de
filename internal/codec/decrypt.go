package codec

import (
	"encoding/binary"
	"io"
	"log"
	"sync"

	"github.com/kenneth/deaddrop/internal/apperr"
	"github.com/kenneth/deaddrop/internal/debug"
	"github.com/kenneth/deaddrop/internal/keymaterial"
)

// DecryptFromSource reads a header followed by header.TotalChunks frames
// from src, decrypting each in order into dst. Any length that would
// overrun the remaining frame, or any AEAD failure, aborts without
// emitting the partial plaintext for the failing chunk. sizeHint, if
// non-negative, is the known ciphertext length and selects the same
// worker-pool threshold as EncryptToSink.
func DecryptFromSource(src io.Reader, dst io.Writer, key *keymaterial.KeyMaterial, sizeHint int64, progress ProgressFunc) error {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, headerBuf); err != nil {
		return apperr.Wrap(apperr.KindCorruptFrame, "read header", err)
	}
	header, err := HeaderFromBytes(headerBuf)
	if err != nil {
		return err
	}
	if header.TotalChunks == 0 {
		return apperr.New(apperr.KindCorruptFrame, "header declares zero chunks")
	}
	if debug.Enabled() {
		log.Printf("codec: decrypting %d chunks, original_size=%d", header.TotalChunks, header.OriginalSize)
	}

	aead, err := newAEAD(key.Bytes())
	if err != nil {
		return err
	}

	if sizeHint >= 0 && sizeHint > ParallelThreshold {
		return decryptParallel(src, dst, aead, header, progress)
	}
	return decryptSequential(src, dst, aead, header, progress)
}

func readFrame(src io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
		return nil, apperr.Wrap(apperr.KindCorruptFrame, "read chunk length", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > ChunkSize+64 {
		return nil, apperr.New(apperr.KindCorruptFrame, "chunk length exceeds maximum")
	}
	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(src, ciphertext); err != nil {
		return nil, apperr.Wrap(apperr.KindCorruptFrame, "read chunk body", err)
	}
	return ciphertext, nil
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

func decryptSequential(src io.Reader, dst io.Writer, aead aeadCipher, header EncryptedHeader, progress ProgressFunc) error {
	var total uint64
	for i := uint64(0); i < header.TotalChunks; i++ {
		ciphertext, err := readFrame(src)
		if err != nil {
			return err
		}
		nonce := DeriveChunkNonce(header.Nonce, i)
		plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindAuthFailure, "chunk authentication failed", err)
		}
		if _, err := dst.Write(plaintext); err != nil {
			return apperr.Wrap(apperr.KindIO, "write plaintext chunk", err)
		}
		total += uint64(len(plaintext))
		if progress != nil {
			progress(total)
		}
	}
	if total != header.OriginalSize {
		return apperr.New(apperr.KindCorruptFrame, "decoded size does not match header")
	}
	return nil
}

type decryptJob struct {
	index      uint64
	ciphertext []byte
	resultCh   chan decryptResult
}

type decryptResult struct {
	plaintext []byte
	err       error
}

func decryptParallel(src io.Reader, dst io.Writer, aead aeadCipher, header EncryptedHeader, progress ProgressFunc) error {
	workers := workerCount()
	jobs := make(chan *decryptJob, workers*2)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				nonce := DeriveChunkNonce(header.Nonce, job.index)
				pt, err := aead.Open(nil, nonce[:], job.ciphertext, nil)
				if err != nil {
					job.resultCh <- decryptResult{err: apperr.Wrap(apperr.KindAuthFailure, "chunk authentication failed", err)}
					continue
				}
				job.resultCh <- decryptResult{plaintext: pt}
			}
		}()
	}

	window := make([]*decryptJob, 0, workers*2)
	var total uint64
	var failure error

	drainOne := func() error {
		oldest := window[0]
		window = window[1:]
		res := <-oldest.resultCh
		if res.err != nil {
			return res.err
		}
		if _, err := dst.Write(res.plaintext); err != nil {
			return apperr.Wrap(apperr.KindIO, "write plaintext chunk", err)
		}
		total += uint64(len(res.plaintext))
		return nil
	}

feed:
	for i := uint64(0); i < header.TotalChunks; i++ {
		ciphertext, err := readFrame(src)
		if err != nil {
			failure = err
			break feed
		}
		job := &decryptJob{index: i, ciphertext: ciphertext, resultCh: make(chan decryptResult, 1)}
		jobs <- job
		window = append(window, job)

		if len(window) >= workers*2 {
			if err := drainOne(); err != nil {
				failure = err
				break feed
			}
			if progress != nil {
				progress(total)
			}
		}
	}
	close(jobs)

	for failure == nil && len(window) > 0 {
		if err := drainOne(); err != nil {
			failure = err
			break
		}
	}
	wg.Wait()

	if failure != nil {
		return failure
	}
	if progress != nil {
		progress(total)
	}
	if total != header.OriginalSize {
		return apperr.New(apperr.KindCorruptFrame, "decoded size does not match header")
	}
	return nil
}
