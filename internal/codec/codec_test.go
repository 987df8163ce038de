package codec

import (
	"bytes"
	"testing"

	"github.com/kenneth/deaddrop/internal/apperr"
	"github.com/kenneth/deaddrop/internal/keymaterial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, plaintext []byte, sizeHint int64) {
	t.Helper()
	key, err := keymaterial.Generate()
	require.NoError(t, err)

	sink := NewMemorySink(len(plaintext))
	header, err := EncryptToSink(bytes.NewReader(plaintext), sink, key, sizeHint, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(plaintext)), header.OriginalSize)

	var out bytes.Buffer
	err = DecryptFromSource(sink.Reader(), &out, key, int64(sink.Len()), nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out.Bytes())
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, nil, 0)
}

func TestRoundTripSmall(t *testing.T) {
	roundTrip(t, []byte("hello, deaddrop"), 15)
}

func TestRoundTripExactChunkMultiple(t *testing.T) {
	roundTrip(t, bytes.Repeat([]byte{0x42}, ChunkSize*2), ChunkSize*2)
}

func TestRoundTripLargeParallel(t *testing.T) {
	data := bytes.Repeat([]byte{0x7}, ParallelThreshold*3+777)
	roundTrip(t, data, int64(len(data)))
}

func TestHeaderReportsOneChunkForEmptyInput(t *testing.T) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	sink := NewMemorySink(0)
	header, err := EncryptToSink(bytes.NewReader(nil), sink, key, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.TotalChunks)
	assert.Equal(t, uint64(0), header.OriginalSize)
}

func TestWrongKeyFailsAuth(t *testing.T) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	other, err := keymaterial.Generate()
	require.NoError(t, err)

	sink := NewMemorySink(64)
	_, err = EncryptToSink(bytes.NewReader([]byte("top secret")), sink, key, 10, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	err = DecryptFromSource(sink.Reader(), &out, other, int64(sink.Len()), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthFailure, apperr.KindOf(err))
}

func TestBitFlipInChunkFailsAuth(t *testing.T) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	sink := NewMemorySink(64)
	_, err = EncryptToSink(bytes.NewReader(bytes.Repeat([]byte{1}, 1000)), sink, key, 1000, nil)
	require.NoError(t, err)

	buf := sink.Bytes()
	buf[HeaderSize+10] ^= 0xFF

	var out bytes.Buffer
	err = DecryptFromSource(bytes.NewReader(buf), &out, key, int64(len(buf)), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthFailure, apperr.KindOf(err))
}

func TestTruncatedHeaderIsCorrupt(t *testing.T) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	var out bytes.Buffer
	err = DecryptFromSource(bytes.NewReader(make([]byte, 10)), &out, key, 10, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindCorruptFrame, apperr.KindOf(err))
}

func TestDeriveChunkNonceVariesByIndex(t *testing.T) {
	var base [NonceSize]byte
	for i := range base {
		base[i] = byte(i)
	}
	n0 := DeriveChunkNonce(base, 0)
	n1 := DeriveChunkNonce(base, 1)
	assert.NotEqual(t, n0, n1)
	assert.Equal(t, base[8:], n0[8:])
	assert.Equal(t, n0[8:], n1[8:])
}

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	decoded, err := keymaterial.Decode(key.Encode())
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), decoded.Bytes())
}
