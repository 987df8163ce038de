// Package httpapi implements the SendService and ReceiveService HTTP and
// WebSocket surfaces: download/upload endpoints, security headers, rate
// limiting, IP pinning, and timing-safe not-found responses.
package httpapi

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/kenneth/deaddrop/internal/metrics"
	"github.com/kenneth/deaddrop/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter assembles the gorilla/mux router shared by both the send and
// receive processes: ambient middleware first (recovery outermost, then
// logging, then security headers), health endpoints, then whichever of
// send/receive is non-nil registers its own routes. ready, if non-nil,
// backs /ready — the send side reports not-ready once its store holds no
// live drop, and the receive side always reports ready.
func NewRouter(logger *logrus.Logger, m *metrics.Metrics, send *SendService, receive *ReceiveService, limiter Limiter, ready func(context.Context) error) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", metrics.HealthHandler()).Methods("GET")
	r.HandleFunc("/ready", metrics.ReadinessHandler(ready)).Methods("GET")
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	if send != nil {
		send.RegisterRoutes(r, limiter)
	}
	if receive != nil {
		receive.RegisterRoutes(r, limiter)
	}

	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(securityHeaders)
	r.Use(connectionTracking(m))

	m.StartSystemMetricsCollector()

	return r
}
