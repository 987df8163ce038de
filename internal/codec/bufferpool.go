package codec

import (
	"sync"
	"sync/atomic"
)

// BufferPool provides thread-safe pooling of byte buffers to reduce
// allocations on the hot chunk-encrypt/decrypt path. Buffers are zeroized
// before returning to the pool since they may hold plaintext or key
// material.
type BufferPool struct {
	pool4   *sync.Pool // length-prefix buffers
	pool24  *sync.Pool // nonce buffers
	pool32  *sync.Pool // key/salt buffers
	poolChunk *sync.Pool // chunk-sized buffers, plaintext + AEAD tag overhead

	hits4, misses4         int64
	hits24, misses24       int64
	hits32, misses32       int64
	hitsChunk, missesChunk int64
}

const chunkBufCap = ChunkSize + 16 + 64 // tag + slack for alignment

var globalBufferPool = newBufferPool()

func newBufferPool() *BufferPool {
	return &BufferPool{
		pool4:  &sync.Pool{New: func() interface{} { return make([]byte, 4) }},
		pool24: &sync.Pool{New: func() interface{} { return make([]byte, NonceSize) }},
		pool32: &sync.Pool{New: func() interface{} { return make([]byte, 32) }},
		poolChunk: &sync.Pool{New: func() interface{} { return make([]byte, chunkBufCap) }},
	}
}

// GetGlobalBufferPool returns the process-wide pool shared by the encrypt
// and decrypt pipelines.
func GetGlobalBufferPool() *BufferPool { return globalBufferPool }

// GetChunk returns a buffer at least size bytes long, sliced to exactly
// size. Falls back to a fresh allocation for sizes the pool doesn't cover.
func (p *BufferPool) GetChunk(size int) []byte {
	if size <= chunkBufCap {
		buf := p.getChunk()
		if cap(buf) >= size {
			atomic.AddInt64(&p.hitsChunk, 1)
			return buf[:size]
		}
	}
	atomic.AddInt64(&p.missesChunk, 1)
	return make([]byte, size)
}

func (p *BufferPool) getChunk() []byte {
	return p.poolChunk.Get().([]byte)
}

// PutChunk returns a chunk buffer to the pool after zeroizing it.
func (p *BufferPool) PutChunk(buf []byte) {
	if cap(buf) < ChunkSize {
		return
	}
	zero(buf[:cap(buf)])
	p.poolChunk.Put(buf[:cap(buf)])
}

// Get24 returns a nonce-sized buffer.
func (p *BufferPool) Get24() []byte {
	if buf := p.pool24.Get(); buf != nil {
		atomic.AddInt64(&p.hits24, 1)
		return buf.([]byte)
	}
	atomic.AddInt64(&p.misses24, 1)
	return make([]byte, NonceSize)
}

// Put24 returns a nonce-sized buffer to the pool.
func (p *BufferPool) Put24(buf []byte) {
	if cap(buf) != NonceSize {
		return
	}
	zero(buf)
	p.pool24.Put(buf)
}

// Get32 returns a key-sized buffer.
func (p *BufferPool) Get32() []byte {
	if buf := p.pool32.Get(); buf != nil {
		atomic.AddInt64(&p.hits32, 1)
		return buf.([]byte)
	}
	atomic.AddInt64(&p.misses32, 1)
	return make([]byte, 32)
}

// Put32 returns a key-sized buffer to the pool.
func (p *BufferPool) Put32(buf []byte) {
	if cap(buf) != 32 {
		return
	}
	zero(buf)
	p.pool32.Put(buf)
}

// Get4 returns a length-prefix buffer.
func (p *BufferPool) Get4() []byte {
	if buf := p.pool4.Get(); buf != nil {
		atomic.AddInt64(&p.hits4, 1)
		return buf.([]byte)
	}
	atomic.AddInt64(&p.misses4, 1)
	return make([]byte, 4)
}

// Put4 returns a length-prefix buffer to the pool.
func (p *BufferPool) Put4(buf []byte) {
	if cap(buf) != 4 {
		return
	}
	zero(buf)
	p.pool4.Put(buf)
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Metrics is a point-in-time snapshot of pool hit/miss counters. The
// chunk-class figures are exported through internal/metrics as counters.
type Metrics struct {
	Hits4, Misses4         int64
	Hits24, Misses24       int64
	Hits32, Misses32       int64
	HitsChunk, MissesChunk int64
}

// Snapshot returns the current pool metrics.
func (p *BufferPool) Snapshot() Metrics {
	return Metrics{
		Hits4:       atomic.LoadInt64(&p.hits4),
		Misses4:     atomic.LoadInt64(&p.misses4),
		Hits24:      atomic.LoadInt64(&p.hits24),
		Misses24:    atomic.LoadInt64(&p.misses24),
		Hits32:      atomic.LoadInt64(&p.hits32),
		Misses32:    atomic.LoadInt64(&p.misses32),
		HitsChunk:   atomic.LoadInt64(&p.hitsChunk),
		MissesChunk: atomic.LoadInt64(&p.missesChunk),
	}
}
