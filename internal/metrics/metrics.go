// Package metrics exposes the drop service's Prometheus instrumentation:
// HTTP request counters/histograms, codec throughput and error counters,
// drop lifecycle counters, rate-limiter rejections, buffer-pool hit/miss
// counters, and a hardware-acceleration gauge. Counters carry OpenTelemetry trace
// exemplars when a span is present on the recording context.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	EnableBucketLabel bool
}

// Metrics holds all application metrics.
type Metrics struct {
	config Config

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	dropsCreatedTotal    *prometheus.CounterVec
	dropsDownloadedTotal *prometheus.CounterVec
	dropsBurnedTotal     *prometheus.CounterVec
	dropsExpiredTotal    prometheus.Counter
	dropsRejectedTotal   *prometheus.CounterVec

	codecOperationsTotal *prometheus.CounterVec
	codecDuration        *prometheus.HistogramVec
	codecErrorsTotal     *prometheus.CounterVec
	codecBytesTotal      *prometheus.CounterVec

	rateLimitRejectedTotal *prometheus.CounterVec

	bufferPoolHits   *prometheus.CounterVec
	bufferPoolMisses *prometheus.CounterVec

	activeConnections prometheus.Gauge
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge

	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableBucketLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry.
// Useful in tests, to avoid duplicate registration against the default registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableBucketLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "http_request_bytes_total", Help: "Total bytes transferred in HTTP requests"},
			[]string{"method", "path"},
		),
		dropsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "drop_created_total", Help: "Total number of drops created"},
			[]string{"backing"},
		),
		dropsDownloadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "drop_downloaded_total", Help: "Total number of successful drop downloads"},
			[]string{"transport"},
		),
		dropsBurnedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "drop_burned_total", Help: "Total number of drops destroyed"},
			[]string{"reason"}, // "max_downloads", "ttl", "shutdown"
		),
		dropsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{Name: "drop_expired_total", Help: "Total number of drops evicted by the TTL reaper"},
		),
		dropsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "drop_rejected_total", Help: "Total number of rejected drop requests"},
			[]string{"reason"}, // "not_found", "burned", "forbidden", "gone"
		),
		codecOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "codec_operations_total", Help: "Total number of encrypt/decrypt operations"},
			[]string{"operation"},
		),
		codecDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codec_duration_seconds",
				Help:    "Encrypt/decrypt operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		codecErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "codec_errors_total", Help: "Total number of encrypt/decrypt errors"},
			[]string{"operation", "error_type"},
		),
		codecBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "codec_bytes_total", Help: "Total plaintext bytes encrypted/decrypted"},
			[]string{"operation"},
		),
		rateLimitRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "ratelimit_rejected_total", Help: "Total number of requests rejected by the rate limiter"},
			[]string{"path"},
		),
		bufferPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "buffer_pool_hits_total", Help: "Total number of buffer pool hits"},
			[]string{"size_class"},
		),
		bufferPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "buffer_pool_misses_total", Help: "Total number of buffer pool misses"},
			[]string{"size_class"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{Name: "active_connections", Help: "Number of active HTTP connections"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{Name: "goroutines_total", Help: "Number of goroutines"},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{Name: "memory_alloc_bytes", Help: "Number of bytes allocated and not yet freed"},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{Name: "memory_sys_bytes", Help: "Total bytes of memory obtained from OS"},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "hardware_acceleration_enabled", Help: "Vector acceleration status (1=enabled, 0=disabled)"},
			[]string{"type"},
		),
	}
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	label := sanitizePathLabel(path)
	labels := prometheus.Labels{"method": method, "path": label, "status": http.StatusText(status)}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.httpRequestsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.httpRequestsTotal.With(labels).Inc()
		}
		if observer, ok := m.httpRequestDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.httpRequestDuration.With(labels).Observe(duration.Seconds())
		}
	} else {
		m.httpRequestsTotal.With(labels).Inc()
		m.httpRequestDuration.With(labels).Observe(duration.Seconds())
	}

	m.httpRequestBytes.WithLabelValues(method, label).Add(float64(bytes))
}

// sanitizePathLabel reduces high-cardinality paths (a drop id embedded in
// the path) to stable labels, e.g. "/api/blob/<id>" => "/api/*".
func sanitizePathLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) <= 1 {
		return "/" + segs[0]
	}
	return "/" + segs[0] + "/*"
}

// RecordDropCreated records a drop creation, labeled by its storage backing.
func (m *Metrics) RecordDropCreated(backing string) {
	m.dropsCreatedTotal.WithLabelValues(backing).Inc()
}

// RecordDropDownloaded records a successful download, labeled by transport
// ("http" or "websocket").
func (m *Metrics) RecordDropDownloaded(transport string) {
	m.dropsDownloadedTotal.WithLabelValues(transport).Inc()
}

// RecordDropBurned records a drop destruction, labeled by the reason.
func (m *Metrics) RecordDropBurned(reason string) {
	m.dropsBurnedTotal.WithLabelValues(reason).Inc()
}

// RecordDropExpired records a TTL-reaper eviction.
func (m *Metrics) RecordDropExpired() {
	m.dropsExpiredTotal.Inc()
}

// RecordDropRejected records a rejected request, labeled by reason.
func (m *Metrics) RecordDropRejected(reason string) {
	m.dropsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordCodecOperation records a codec operation's duration and byte count.
func (m *Metrics) RecordCodecOperation(ctx context.Context, operation string, duration time.Duration, bytes int64) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.codecOperationsTotal.WithLabelValues(operation).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.codecOperationsTotal.WithLabelValues(operation).Inc()
		}
		if observer, ok := m.codecDuration.WithLabelValues(operation).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.codecDuration.WithLabelValues(operation).Observe(duration.Seconds())
		}
	} else {
		m.codecOperationsTotal.WithLabelValues(operation).Inc()
		m.codecDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
	m.codecBytesTotal.WithLabelValues(operation).Add(float64(bytes))
}

// RecordCodecError records a codec failure.
func (m *Metrics) RecordCodecError(ctx context.Context, operation, errorType string) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.codecErrorsTotal.WithLabelValues(operation, errorType).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
			return
		}
	}
	m.codecErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordRateLimitRejected records a request the rate limiter turned away.
func (m *Metrics) RecordRateLimitRejected(path string) {
	m.rateLimitRejectedTotal.WithLabelValues(sanitizePathLabel(path)).Inc()
}

// RecordBufferPoolHit records a buffer pool hit.
func (m *Metrics) RecordBufferPoolHit(sizeClass string) {
	m.bufferPoolHits.WithLabelValues(sizeClass).Inc()
}

// RecordBufferPoolMiss records a buffer pool miss.
func (m *Metrics) RecordBufferPoolMiss(sizeClass string) {
	m.bufferPoolMisses.WithLabelValues(sizeClass).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections increments the active connections counter.
func (m *Metrics) IncrementActiveConnections() { m.activeConnections.Inc() }

// DecrementActiveConnections decrements the active connections counter.
func (m *Metrics) DecrementActiveConnections() { m.activeConnections.Dec() }

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts a trace ID from context and returns prometheus Labels for exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
