// Package front defines the external-collaborator interface named in spec
// §6: something that wraps a local loopback port and surfaces a public
// host string, whether that is a self-signed TLS listener, a Tor hidden
// service, or an HTTP tunnel. The core transfer protocol never talks to
// the front directly; it only needs PublicHost() to build the URL it
// prints and Close() to tear the front down on shutdown. Concrete fronts
// (spawning `tor` or `cloudflared` subprocesses, issuing a self-signed
// cert) are deliberately out of scope per spec §1 — this package supplies
// the interface plus a Local front sufficient to exercise it end-to-end
// without any external binary.
package front

import "fmt"

// Front fronts a local loopback port with some form of public reachability
// and knows how to build the URL a recipient would actually use.
type Front interface {
	// PublicHost returns the host (and scheme) a recipient should use in
	// place of the loopback address, e.g. "https://abcd.trycloudflare.com"
	// or "http://abcdefgh1234.onion".
	PublicHost() string

	// URL builds a full recipient-facing URL for path, with the key
	// material fragment appended after "#". fragment must already be
	// percent/base64url-encoded; it is never percent-escaped again here.
	URL(path, fragment string) string

	// Close tears down the front (kills a subprocess, revokes a
	// certificate, etc). Safe to call more than once.
	Close() error
}

// Local is the degenerate front used when no hidden-service or tunnel
// sidecar is requested: the public host is simply the loopback bind
// address the service is already listening on.
type Local struct {
	scheme string
	host   string
}

// NewLocal builds a Front that just reflects back the loopback address the
// service bound to.
func NewLocal(scheme, host string) *Local {
	return &Local{scheme: scheme, host: host}
}

// PublicHost implements Front.
func (l *Local) PublicHost() string {
	return fmt.Sprintf("%s://%s", l.scheme, l.host)
}

// URL implements Front.
func (l *Local) URL(path, fragment string) string {
	return fmt.Sprintf("%s%s#%s", l.PublicHost(), path, fragment)
}

// Close implements Front; a no-op for the local front.
func (l *Local) Close() error { return nil }
