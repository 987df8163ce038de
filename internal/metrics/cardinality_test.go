package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizePathLabel(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/", "/"},
		{"/metrics", "/metrics"},
		{"/health", "/health"},
		{"/api/blob/abc123", "/api/*"},
		{"/api/blob/abc123/with/more/segments", "/api/*"},
		{"/api", "/api"},
		{"/api/meta/abc123?foo=bar", "/api/*"},
		{"", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := sanitizePathLabel(tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRecordHTTPRequest_Cardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	// Record requests against distinct drop ids embedded in the path.
	m.RecordHTTPRequest(context.Background(), "GET", "/api/blob/drop1", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest(context.Background(), "GET", "/api/blob/drop2", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest(context.Background(), "GET", "/api/meta/drop1", http.StatusOK, time.Millisecond, 100)

	// All three /api/blob/* and /api/meta/* requests collapse onto the same "/api/*" label.
	countAPI := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/*", "OK"))
	assert.Equal(t, 3.0, countAPI)
}

func TestRecordCodecOperation_NoPerDropLabel(t *testing.T) {
	// Codec metrics are labeled only by operation, never by drop id, so
	// recording against many distinct drops never creates new series.
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableBucketLabel: false})

	m.RecordCodecOperation(context.Background(), "encrypt", time.Millisecond, 100)
	m.RecordCodecOperation(context.Background(), "encrypt", time.Millisecond, 100)

	count := testutil.ToFloat64(m.codecOperationsTotal.WithLabelValues("encrypt"))
	assert.Equal(t, 2.0, count)
}

func TestRecordCodecError_LabeledByErrorType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableBucketLabel: false})

	m.RecordCodecError(context.Background(), "decrypt", "auth_failure")
	m.RecordCodecError(context.Background(), "decrypt", "auth_failure")

	count := testutil.ToFloat64(m.codecErrorsTotal.WithLabelValues("decrypt", "auth_failure"))
	assert.Equal(t, 2.0, count)
}
