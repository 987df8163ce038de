package httpapi

import (
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kenneth/deaddrop/internal/metrics"
)

// securityHeaders sets the fixed header set required on every response:
// clickjacking/MIME-sniffing protection, no-referrer, a locked-down CSP
// that still allows the WASM codec and inline styles, and cache
// suppression so a browser never persists a page carrying key material in
// its fragment.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'wasm-unsafe-eval'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
		h.Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// connectionTracking bumps the active-connections gauge for the lifetime of
// each request. It is registered last, so it runs inside recovery, logging
// and security headers, and brackets the per-route rate limiting and the
// handler itself.
func connectionTracking(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncrementActiveConnections()
			defer m.DecrementActiveConnections()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimited rejects requests that exceed the per-client-IP token bucket.
// Static asset routes (the HTML shells) are not wrapped with this
// middleware; only mutating/API routes are.
func rateLimited(limiter Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(ip) {
				if m != nil {
					m.RecordRateLimitRejected(r.URL.Path)
				}
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limiter is the subset of internal/ratelimit's interface this package
// depends on, kept local to avoid an import cycle concern and to make the
// handler tests trivial to fake.
type Limiter interface {
	Allow(clientIP string) bool
}

// clientIP extracts the request's originating address from RemoteAddr,
// stripping any port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isLoopback reports whether addr (an IP with no port) is a loopback
// address.
func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// trustedFront reports whether the request should be treated as arriving
// through a trusted reverse proxy / tunnel front: the direct TCP peer is
// loopback, and the request carries a forwarded-for header naming the real
// client. Such requests bypass IP pinning (the pin would otherwise always
// see the front's own loopback address).
func trustedFront(r *http.Request) bool {
	if !isLoopback(clientIP(r)) {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Forwarded-For")) != ""
}

// effectiveClientIP returns the address IP pinning should key on: the
// forwarded-for value when the request comes through a trusted front,
// otherwise the direct TCP peer.
func effectiveClientIP(r *http.Request) string {
	if trustedFront(r) {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			parts := strings.Split(fwd, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	return clientIP(r)
}

// notFoundJitter sleeps a uniformly random 50-200ms, used before every
// user-facing "not found" response so that timing never reveals whether an
// id was ever issued.
func notFoundJitter() {
	time.Sleep(time.Duration(50+rand.Intn(151)) * time.Millisecond)
}
