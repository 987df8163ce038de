package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kenneth/deaddrop/internal/apperr"
	"github.com/kenneth/deaddrop/internal/audit"
	"github.com/kenneth/deaddrop/internal/codec"
	"github.com/kenneth/deaddrop/internal/keymaterial"
	"github.com/kenneth/deaddrop/internal/metrics"
	"github.com/sirupsen/logrus"
)

// receiveShutdownGrace is how long the receive side waits after a
// successful upload before triggering process shutdown, giving the HTTP
// response time to reach the browser.
const receiveShutdownGrace = 2 * time.Second

var receiveUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ReceiveService implements the upload side: a single process instance
// accepts exactly one upload (HTTP or WebSocket), decrypts it with the key
// supplied at startup, writes the plaintext to outputDir, and then
// triggers shutdown.
type ReceiveService struct {
	key       *keymaterial.KeyMaterial
	outputDir string
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	audit     audit.Logger

	received atomic.Bool
	onDone   func()
}

// NewReceiveService builds a ReceiveService. onDone, if non-nil, fires
// once the single expected upload has been written to disk.
func NewReceiveService(key *keymaterial.KeyMaterial, outputDir string, logger *logrus.Logger, m *metrics.Metrics, a audit.Logger, onDone func()) *ReceiveService {
	return &ReceiveService{key: key, outputDir: outputDir, logger: logger, metrics: m, audit: a, onDone: onDone}
}

// RegisterRoutes wires the receive endpoints onto r.
func (s *ReceiveService) RegisterRoutes(r *mux.Router, limiter Limiter) {
	r.HandleFunc("/", s.handleShell).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(rateLimited(limiter, s.metrics))
	api.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/ws/upload", s.handleWSUpload).Methods(http.MethodGet)
}

const receiveShellHTML = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>deaddrop</title></head><body><p>Drop a file here to send it. The decryption key for the recipient's download link lives only in this page's URL fragment.</p><script src="/static/send.js"></script></body></html>`

func (s *ReceiveService) handleShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, receiveShellHTML)
}

// sanitizeFilename strips path separators and traversal sequences from a
// client-supplied filename, falling back to a fixed name when nothing
// usable remains.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.TrimSpace(name)
	if name == "" {
		return "received_file"
	}
	return name
}

func (s *ReceiveService) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !s.received.CompareAndSwap(false, true) {
		http.Error(w, "Gone", http.StatusGone)
		s.logLifecycle(audit.EventRejected, r, 0, false, "already received", start)
		return
	}

	rawName := r.Header.Get("X-Filename")
	name, err := url.QueryUnescape(rawName)
	if err != nil {
		name = rawName
	}
	safeName := sanitizeFilename(name)

	sizeHint := int64(-1)
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			sizeHint = n
		}
	}

	destPath := filepath.Join(s.outputDir, safeName)
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.WithError(err).Error("open output file")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		s.received.Store(false)
		return
	}

	decryptStart := time.Now()
	err = codec.DecryptFromSource(r.Body, f, s.key, sizeHint, nil)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		s.received.Store(false)
		http.Error(w, "Decryption failed", http.StatusBadRequest)
		s.metrics.RecordCodecError(r.Context(), "decrypt", apperr.KindOf(err).String())
		s.logLifecycle(audit.EventRejected, r, 0, false, err.Error(), start)
		return
	}
	s.metrics.RecordCodecOperation(r.Context(), "decrypt", time.Since(decryptStart), max(sizeHint, 0))

	w.WriteHeader(http.StatusOK)
	s.metrics.RecordDropCreated("upload")
	s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), sizeHint)
	s.logLifecycle(audit.EventUploaded, r, sizeHint, true, "", start)
	s.finish()
}

type wsUploadStart struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (s *ReceiveService) handleWSUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !s.received.CompareAndSwap(false, true) {
		http.Error(w, "Gone", http.StatusGone)
		s.logLifecycle(audit.EventRejected, r, 0, false, "already received", start)
		return
	}

	conn, err := receiveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.received.Store(false)
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	mt, payload, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		s.received.Store(false)
		return
	}
	var begin wsUploadStart
	if err := json.Unmarshal(payload, &begin); err != nil || begin.Type != "start" {
		s.received.Store(false)
		return
	}
	safeName := sanitizeFilename(begin.Filename)

	destPath := filepath.Join(s.outputDir, safeName)
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.WithError(err).Error("open output file")
		s.received.Store(false)
		return
	}

	pr, pw := io.Pipe()
	decodeErrCh := make(chan error, 1)
	decryptStart := time.Now()
	go func() {
		decodeErrCh <- codec.DecryptFromSource(pr, f, s.key, begin.Size, nil)
	}()

	var readErr error
loop:
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			readErr = rerr
			break
		}
		switch mt {
		case websocket.BinaryMessage:
			if _, werr := pw.Write(data); werr != nil {
				readErr = werr
				break loop
			}
		case websocket.TextMessage:
			var ctrl wsControlMsg
			if json.Unmarshal(data, &ctrl) == nil && ctrl.Type == "done" {
				break loop
			}
		}
	}
	pw.Close()
	decodeErr := <-decodeErrCh
	f.Close()

	if readErr != nil || decodeErr != nil {
		os.Remove(destPath)
		s.received.Store(false)
		if decodeErr != nil {
			s.metrics.RecordCodecError(r.Context(), "decrypt", apperr.KindOf(decodeErr).String())
		}
		s.logLifecycle(audit.EventRejected, r, 0, false, "upload failed", start)
		return
	}
	s.metrics.RecordCodecOperation(r.Context(), "decrypt", time.Since(decryptStart), max(begin.Size, 0))

	s.metrics.RecordDropCreated("upload")
	s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), begin.Size)
	s.logLifecycle(audit.EventUploaded, r, begin.Size, true, "", start)
	s.finish()
}

func (s *ReceiveService) finish() {
	go func() {
		time.Sleep(receiveShutdownGrace)
		if s.onDone != nil {
			s.onDone()
		}
	}()
}

func (s *ReceiveService) logLifecycle(ev audit.EventType, r *http.Request, bytes int64, success bool, errMsg string, start time.Time) {
	if s.audit == nil {
		return
	}
	var ip, ua, reqID string
	if r != nil {
		ip = effectiveClientIP(r)
		ua = r.UserAgent()
		reqID = r.Header.Get("X-Request-Id")
	}
	var err error
	if errMsg != "" {
		err = errString(errMsg)
	}
	s.audit.LogLifecycle(ev, "", ip, ua, reqID, bytes, success, err, time.Since(start))
}
