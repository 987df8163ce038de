package codec

import (
	"io"

	"github.com/kenneth/deaddrop/internal/apperr"
)

// MemorySink is an in-memory io.WriteSeeker, used as the encrypt
// destination for drops small enough to stay off disk entirely. It
// supports the same placeholder-then-rewrite header pattern a temp file
// would, without touching the filesystem.
type MemorySink struct {
	buf []byte
	pos int
}

// NewMemorySink returns an empty sink with capacity pre-reserved.
func NewMemorySink(sizeHint int) *MemorySink {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &MemorySink{buf: make([]byte, 0, sizeHint)}
}

func (m *MemorySink) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

// Seek implements io.Seeker. Only io.SeekStart and io.SeekEnd are used by
// the codec; io.SeekCurrent is supported for completeness.
func (m *MemorySink) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, apperr.New(apperr.KindIO, "invalid seek whence")
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, apperr.New(apperr.KindIO, "negative seek position")
	}
	m.pos = int(newPos)
	return newPos, nil
}

// Bytes returns the full written contents.
func (m *MemorySink) Bytes() []byte { return m.buf }

// Len returns the total number of bytes written.
func (m *MemorySink) Len() int { return len(m.buf) }

// Reader returns a fresh reader positioned at the start of the buffer,
// for the decrypt path to consume.
func (m *MemorySink) Reader() io.Reader {
	return &sliceReader{data: m.buf}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
