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

// ProgressFunc is invoked with the cumulative number of plaintext bytes
// processed so far: after each chunk on the inline path, and on the
// worker-pool path as completed chunks are drained and once more at the
// end, so one call may cover several chunks. May be nil.
type ProgressFunc func(bytesProcessed uint64)

// EncryptToSink streams src through the chunked AEAD codec into sink,
// writing a placeholder header (base nonce, zero totals) first, then chunk frames, then seeking back
// to rewrite the header with the final totals. sizeHint, if non-negative,
// is the known plaintext length; inputs above ParallelThreshold are
// encrypted using the worker pool, everything else runs inline on the
// calling goroutine.
func EncryptToSink(src io.Reader, sink io.WriteSeeker, key *keymaterial.KeyMaterial, sizeHint int64, progress ProgressFunc) (EncryptedHeader, error) {
	if sizeHint >= 0 && sizeHint > ParallelThreshold {
		return encryptParallel(src, sink, key.Bytes(), progress)
	}
	return encryptSequential(src, sink, key.Bytes(), progress)
}

func writeHeaderPlaceholder(sink io.WriteSeeker, baseNonce [NonceSize]byte) (EncryptedHeader, error) {
	header := EncryptedHeader{Nonce: baseNonce}
	if _, err := sink.Write(header.ToBytes()); err != nil {
		return header, apperr.Wrap(apperr.KindIO, "write header placeholder", err)
	}
	return header, nil
}

func rewriteHeader(sink io.WriteSeeker, header EncryptedHeader) error {
	if _, err := sink.Seek(0, io.SeekStart); err != nil {
		return apperr.Wrap(apperr.KindIO, "seek to rewrite header", err)
	}
	if _, err := sink.Write(header.ToBytes()); err != nil {
		return apperr.Wrap(apperr.KindIO, "rewrite header", err)
	}
	if _, err := sink.Seek(0, io.SeekEnd); err != nil {
		return apperr.Wrap(apperr.KindIO, "seek to end after header rewrite", err)
	}
	return nil
}

func writeFrame(sink io.Writer, ciphertext []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	if _, err := sink.Write(lenBuf[:]); err != nil {
		return apperr.Wrap(apperr.KindIO, "write chunk length", err)
	}
	if _, err := sink.Write(ciphertext); err != nil {
		return apperr.Wrap(apperr.KindIO, "write chunk body", err)
	}
	return nil
}

func encryptSequential(src io.Reader, sink io.WriteSeeker, key []byte, progress ProgressFunc) (EncryptedHeader, error) {
	baseNonce, err := randomNonce()
	if err != nil {
		return EncryptedHeader{}, err
	}
	header, err := writeHeaderPlaceholder(sink, baseNonce)
	if err != nil {
		return header, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return header, err
	}

	pool := GetGlobalBufferPool()
	var index, total uint64
	for {
		buf := pool.GetChunk(ChunkSize)
		n, rerr := io.ReadFull(src, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			pool.PutChunk(buf)
			return header, apperr.Wrap(apperr.KindIO, "read plaintext chunk", rerr)
		}
		if n == 0 && rerr == io.EOF && index > 0 {
			pool.PutChunk(buf)
			break
		}

		chunk := buf[:n]
		nonce := DeriveChunkNonce(baseNonce, index)
		ciphertext := aead.Seal(nil, nonce[:], chunk, nil)
		pool.PutChunk(buf)

		if err := writeFrame(sink, ciphertext); err != nil {
			return header, err
		}

		index++
		total += uint64(n)
		if progress != nil {
			progress(total)
		}
		if n < ChunkSize {
			break
		}
	}

	header.TotalChunks = index
	header.OriginalSize = total
	if err := rewriteHeader(sink, header); err != nil {
		return header, err
	}
	if debug.Enabled() {
		log.Printf("codec: encrypted %d chunks, original_size=%d (sequential)", header.TotalChunks, header.OriginalSize)
	}
	return header, nil
}

type encryptJob struct {
	index      uint64
	plaintext  []byte
	resultCh   chan encryptResult
}

type encryptResult struct {
	ciphertext []byte
	err        error
}

// encryptParallel mirrors the feeder/worker-pool/ordered-writer pipeline
// shape: chunks are read sequentially (the source is an io.Reader, there
// is no other option) but sealed concurrently across a worker pool sized
// to the host's CPU count, and written out to sink strictly in index
// order via a sliding completion window.
func encryptParallel(src io.Reader, sink io.WriteSeeker, key []byte, progress ProgressFunc) (EncryptedHeader, error) {
	baseNonce, err := randomNonce()
	if err != nil {
		return EncryptedHeader{}, err
	}
	header, err := writeHeaderPlaceholder(sink, baseNonce)
	if err != nil {
		return header, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return header, err
	}

	workers := workerCount()
	jobs := make(chan *encryptJob, workers*2)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				nonce := DeriveChunkNonce(baseNonce, job.index)
				ct := aead.Seal(nil, nonce[:], job.plaintext, nil)
				job.resultCh <- encryptResult{ciphertext: ct}
			}
		}()
	}

	window := make([]*encryptJob, 0, workers*2)
	var index, total uint64
	var readErr error

	drainOne := func() error {
		oldest := window[0]
		window = window[1:]
		res := <-oldest.resultCh
		if res.err != nil {
			return res.err
		}
		return writeFrame(sink, res.ciphertext)
	}

feed:
	for {
		buf := make([]byte, ChunkSize)
		n, rerr := io.ReadFull(src, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			readErr = apperr.Wrap(apperr.KindIO, "read plaintext chunk", rerr)
			break feed
		}
		if n == 0 && rerr == io.EOF && index > 0 {
			break feed
		}

		job := &encryptJob{index: index, plaintext: buf[:n], resultCh: make(chan encryptResult, 1)}
		jobs <- job
		window = append(window, job)
		total += uint64(n)
		index++

		if len(window) >= workers*2 {
			if err := drainOne(); err != nil {
				readErr = err
				break feed
			}
			if progress != nil {
				progress(total)
			}
		}
		if n < ChunkSize {
			break feed
		}
	}
	close(jobs)

	for readErr == nil && len(window) > 0 {
		if err := drainOne(); err != nil {
			readErr = err
			break
		}
	}
	wg.Wait()

	if readErr != nil {
		return header, readErr
	}
	if progress != nil {
		progress(total)
	}

	header.TotalChunks = index
	header.OriginalSize = total
	if err := rewriteHeader(sink, header); err != nil {
		return header, err
	}
	if debug.Enabled() {
		log.Printf("codec: encrypted %d chunks, original_size=%d (parallel, %d workers)", header.TotalChunks, header.OriginalSize, workers)
	}
	return header, nil
}
