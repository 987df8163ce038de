package config

import (
	"time"
)

// ServerConfig covers the bind address and port a send or receive service
// listens on. Fixed at process start; never hot-reloaded, since rebinding
// a live listener would defeat the "one URL, one recipient" model.
type ServerConfig struct {
	Bind string
	Port int
}

// RateLimitConfig configures the per-client-IP token bucket. Safe to
// hot-reload: tightening or loosening the limit on a live process doesn't
// touch any drop's state.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// RedisURL, if set, backs the limiter with a shared bucket instead of
	// an in-process one, for a fleet of identical replicas behind one
	// front. Empty means in-process only.
	RedisURL string
}

// StoreConfig covers the blob lifecycle defaults. DiskThresholdBytes and
// DefaultTTL are fixed at process start: changing them live would leave
// already-encrypted drops inconsistent with the new policy.
type StoreConfig struct {
	DiskThresholdBytes int64
	DefaultTTL         time.Duration
	DefaultMaxDownloads int32
}

// SinkConfig configures one audit event sink.
type SinkConfig struct {
	Type          string // "stdout", "file", "http"
	Endpoint      string
	Headers       map[string]string
	FilePath      string
	BatchSize     int
	FlushInterval time.Duration
	RetryCount    int
	RetryBackoff  time.Duration
}

// AuditConfig configures the audit trail. None of it is hot-reloaded: the
// logger and its sink are built once at startup.
type AuditConfig struct {
	Enabled             bool
	MaxEvents           int
	Sink                SinkConfig
	RedactMetadataKeys  []string
}

// Config is the fully assembled, validated configuration for one process
// (send or receive side draw from the same struct; unused fields are
// simply left at their zero value by the side that doesn't need them).
type Config struct {
	Server    ServerConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Audit     AuditConfig

	// LogLevel is the logrus level name ("debug", "info", "warn", "error").
	// Hot-reloadable.
	LogLevel string
}

// Default returns the built-in defaults, matching the values spec §4/§10
// name: a 2 req/s, burst-5 rate limit; a 50 MiB disk threshold; and a
// one-hour expiry with a single permitted download unless the caller sets
// other values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Bind: "0.0.0.0", Port: 8080},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Store: StoreConfig{
			DiskThresholdBytes:  50 * 1024 * 1024,
			DefaultTTL:          time.Hour,
			DefaultMaxDownloads: 1,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 1000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		LogLevel: "info",
	}
}
