package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kenneth/deaddrop/internal/audit"
	"github.com/kenneth/deaddrop/internal/metrics"
	"github.com/kenneth/deaddrop/internal/store"
	"github.com/sirupsen/logrus"
)

// destroyGrace is how long the blob handler waits after a download crosses
// MaxDownloads before actually removing the drop, so the response body
// finishes flushing to the client first.
const destroyGrace = 5 * time.Second

// sendUpgrader upgrades GET /ws/blob/{id} to a WebSocket. Origin checking
// is left permissive: the fragment carrying the key is never sent to the
// server regardless of origin, so there is no cross-origin secret to leak.
var sendUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SendService implements the download side: the HTML shell, the metadata
// endpoint, and the two blob-delivery transports (plain HTTP and
// WebSocket).
type SendService struct {
	store   *store.BlobStore
	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger

	onEmpty func()
}

// NewSendService builds a SendService. onEmpty, if non-nil, is invoked
// after a destruction leaves the store with zero live drops — the caller
// uses this to trigger process shutdown for a single-drop "send" session.
func NewSendService(s *store.BlobStore, logger *logrus.Logger, m *metrics.Metrics, a audit.Logger, onEmpty func()) *SendService {
	return &SendService{store: s, logger: logger, metrics: m, audit: a, onEmpty: onEmpty}
}

// RegisterRoutes wires the send endpoints onto r. limiter is applied to
// the API/WS routes only; the HTML shell is exempt.
func (s *SendService) RegisterRoutes(r *mux.Router, limiter Limiter) {
	r.HandleFunc("/d/{id}", s.handleShell).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(rateLimited(limiter, s.metrics))
	api.HandleFunc("/api/meta/{id}", s.handleMeta).Methods(http.MethodGet)
	api.HandleFunc("/api/blob/{id}", s.handleBlob).Methods(http.MethodGet)
	api.HandleFunc("/ws/blob/{id}", s.handleWSBlob).Methods(http.MethodGet)
}

const shellHTML = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>deaddrop</title></head><body data-drop-id="%s"><p>Fetching drop metadata. The decryption key lives only in this page's URL fragment and is never sent to the server.</p><script src="/static/receive.js"></script></body></html>`

func (s *SendService) handleShell(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, fmt.Sprintf(shellHTML, id))
}

type metaResponse struct {
	Filename            string `json:"filename,omitempty"`
	PlaintextSize       int64  `json:"plaintext_size,omitempty"`
	SizeHuman           string `json:"size_human,omitempty"`
	Mime                string `json:"mime,omitempty"`
	ExpiresAt           int64  `json:"expires_at,omitempty"`
	DownloadsRemaining  int32  `json:"downloads_remaining,omitempty"`
	HasPassword         bool   `json:"has_password,omitempty"`
	Burned              bool   `json:"burned,omitempty"`
}

func (s *SendService) handleMeta(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	d := s.store.Get(id)
	if d == nil {
		if s.store.IsBurned(id) {
			s.respondJSON(w, http.StatusGone, metaResponse{Burned: true})
			s.metrics.RecordDropRejected("burned")
			s.logLifecycle(audit.EventRejected, id, r, 0, false, "burned", start)
			return
		}
		notFoundJitter()
		http.NotFound(w, r)
		s.metrics.RecordDropRejected("not_found")
		s.logLifecycle(audit.EventRejected, id, r, 0, false, "not_found", start)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusNotFound, time.Since(start), 0)
		return
	}

	remaining := int32(0)
	if d.MaxDownloads > 0 {
		remaining = d.MaxDownloads - d.DownloadCount()
		if remaining < 0 {
			remaining = 0
		}
	}

	resp := metaResponse{
		Filename:           d.Filename,
		PlaintextSize:      d.PlaintextSize,
		SizeHuman:          humanSize(d.PlaintextSize),
		Mime:               d.MimeType,
		ExpiresAt:          d.ExpiresAt.Unix(),
		DownloadsRemaining: remaining,
		HasPassword:        d.HasPassword,
	}
	s.respondJSON(w, http.StatusOK, resp)
	s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
}

func (s *SendService) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resolveForDownload performs the lookup + burned/not-found classification
// + pin check shared by the HTTP and WebSocket blob handlers. Returns nil
// (having already written an error response) when the request must stop;
// reason is one of RecordDropRejected's documented labels ("not_found",
// "burned", "forbidden") for the caller to record and audit.
func (s *SendService) resolveForDownload(w http.ResponseWriter, r *http.Request, id string) (d *store.Drop, reason string) {
	d = s.store.Get(id)
	if d == nil {
		if s.store.IsBurned(id) {
			http.Error(w, "Gone", http.StatusGone)
			return nil, "burned"
		}
		notFoundJitter()
		http.NotFound(w, r)
		return nil, "not_found"
	}
	if !d.CheckAndPin(effectiveClientIP(r), trustedFront(r)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, "forbidden"
	}
	return d, ""
}

func (s *SendService) handleBlob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	d, reason := s.resolveForDownload(w, r, id)
	if d == nil {
		s.metrics.RecordDropRejected(reason)
		s.logLifecycle(audit.EventRejected, id, r, 0, false, reason, start)
		return
	}

	var body io.Reader
	switch d.Backing {
	case store.BackingDisk:
		f, err := os.Open(d.DiskPath)
		if err != nil {
			s.logger.WithError(err).WithField("drop_id", id).Error("open backing file")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		body = f
	default:
		body = bytesReader(d.Ciphertext)
	}

	w.Header().Set("Content-Length", itoa64(d.EncryptedSize))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, body)
	if err != nil {
		s.logger.WithError(err).WithField("drop_id", id).Warn("blob stream interrupted")
	}

	s.metrics.RecordDropDownloaded("http")
	s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), n)
	s.logLifecycle(audit.EventDownloaded, id, r, n, true, "", start)
	s.afterDownload(id)
}

// afterDownload records the download against the store and, if this
// download crossed MaxDownloads, schedules destruction after a grace
// period so an in-flight response body finishes flushing first.
func (s *SendService) afterDownload(id string) {
	_, shouldDelete, ok := s.store.RecordDownload(id)
	if !ok || !shouldDelete {
		return
	}
	go func() {
		time.Sleep(destroyGrace)
		s.store.Remove(id)
		s.metrics.RecordDropBurned("max_downloads")
		s.logLifecycle(audit.EventBurned, id, nil, 0, true, "", time.Time{})
		if s.store.IsEmpty() && s.onEmpty != nil {
			s.onEmpty()
		}
	}()
}

type wsControlMsg struct {
	Type          string `json:"type"`
	EncryptedSize int64  `json:"encrypted_size,omitempty"`
}

func (s *SendService) handleWSBlob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	d, reason := s.resolveForDownload(w, r, id)
	if d == nil {
		s.metrics.RecordDropRejected(reason)
		s.logLifecycle(audit.EventRejected, id, r, 0, false, reason, start)
		return
	}

	conn, err := sendUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsControlMsg{Type: "start", EncryptedSize: d.EncryptedSize}); err != nil {
		return
	}

	var body io.Reader
	switch d.Backing {
	case store.BackingDisk:
		f, ferr := os.Open(d.DiskPath)
		if ferr != nil {
			s.logger.WithError(ferr).WithField("drop_id", id).Error("open backing file")
			return
		}
		defer f.Close()
		body = f
	default:
		body = bytesReader(d.Ciphertext)
	}

	buf := make([]byte, 64*1024)
	var sent int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				s.logger.WithError(werr).WithField("drop_id", id).Warn("ws blob write failed")
				return
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.logger.WithError(rerr).WithField("drop_id", id).Warn("ws blob read failed")
			return
		}
	}

	_ = conn.WriteJSON(wsControlMsg{Type: "done"})

	s.metrics.RecordDropDownloaded("websocket")
	s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), sent)
	s.logLifecycle(audit.EventDownloaded, id, r, sent, true, "", start)
	s.afterDownload(id)
}

func (s *SendService) logLifecycle(ev audit.EventType, dropID string, r *http.Request, bytes int64, success bool, errMsg string, start time.Time) {
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
	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}
	s.audit.LogLifecycle(ev, dropID, ip, ua, reqID, bytes, success, err, dur)
}
