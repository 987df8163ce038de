package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/kenneth/deaddrop/internal/audit"
	"github.com/kenneth/deaddrop/internal/codec"
	"github.com/kenneth/deaddrop/internal/keymaterial"
	"github.com/kenneth/deaddrop/internal/metrics"
	"github.com/kenneth/deaddrop/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func makeDrop(t *testing.T, id string, plaintext []byte) (*store.Drop, *keymaterial.KeyMaterial) {
	key, err := keymaterial.Generate()
	require.NoError(t, err)
	sink := codec.NewMemorySink(len(plaintext))
	header, err := codec.EncryptToSink(strings.NewReader(string(plaintext)), sink, key, int64(len(plaintext)), nil)
	require.NoError(t, err)
	_ = header

	return &store.Drop{
		ID:            id,
		Backing:       store.BackingMemory,
		Ciphertext:    sink.Bytes(),
		EncryptedSize: int64(sink.Len()),
		PlaintextSize: int64(len(plaintext)),
		Filename:      "hello.txt",
		MimeType:      "text/plain",
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxDownloads:  1,
	}, key
}

func TestHandleMetaLiveDrop(t *testing.T) {
	s := store.New(nil)
	defer s.Stop()
	d, _ := makeDrop(t, "abc123", []byte("hello world"))
	require.NoError(t, s.Insert(d))

	svc := NewSendService(s, newTestLogger(), newTestMetrics(), audit.NewLogger(10, nil), nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/meta/abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp metaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello.txt", resp.Filename)
	assert.Equal(t, int64(11), resp.PlaintextSize)
	assert.False(t, resp.HasPassword)
}

func TestHandleMetaUnknownIDJitters404(t *testing.T) {
	s := store.New(nil)
	defer s.Stop()
	svc := NewSendService(s, newTestLogger(), newTestMetrics(), audit.NewLogger(10, nil), nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/meta/nope", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	r.ServeHTTP(w, req)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestHandleMetaBurnedReturnsGone(t *testing.T) {
	s := store.New(nil)
	defer s.Stop()
	d, _ := makeDrop(t, "burnme", []byte("x"))
	require.NoError(t, s.Insert(d))
	s.Remove("burnme")

	svc := NewSendService(s, newTestLogger(), newTestMetrics(), audit.NewLogger(10, nil), nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/meta/burnme", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandleBlobStreamsAndRecordsDownload(t *testing.T) {
	s := store.New(nil)
	defer s.Stop()
	plaintext := []byte("the secret payload")
	d, key := makeDrop(t, "blob1", plaintext)
	_ = key
	require.NoError(t, s.Insert(d))

	svc := NewSendService(s, newTestLogger(), newTestMetrics(), audit.NewLogger(10, nil), nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/blob/blob1", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, d.EncryptedSize, int64(w.Body.Len()))

	count := d.DownloadCount()
	assert.Equal(t, int32(1), count)
}

func TestHandleBlobPinMismatchForbidden(t *testing.T) {
	s := store.New(nil)
	defer s.Stop()
	d, _ := makeDrop(t, "pinned1", []byte("data"))
	d.MaxDownloads = 0
	require.NoError(t, s.Insert(d))

	svc := NewSendService(s, newTestLogger(), newTestMetrics(), audit.NewLogger(10, nil), nil)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, allowAllLimiter{})

	first := httptest.NewRequest(http.MethodGet, "/api/blob/pinned1", nil)
	first.RemoteAddr = "10.0.0.5:1234"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, first)
	require.Equal(t, http.StatusOK, w1.Code)

	second := httptest.NewRequest(http.MethodGet, "/api/blob/pinned1", nil)
	second.RemoteAddr = "10.0.0.9:4321"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, second)
	assert.Equal(t, http.StatusForbidden, w2.Code)
}
