package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLifecycleRecordsEvent(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	logger.LogLifecycle(EventCreated, "abc123", "1.2.3.4", "curl/8", "req-1", 1024, true, nil, 5*time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].EventType)
	assert.Equal(t, "abc123", events[0].DropID)
	assert.True(t, events[0].Success)
	assert.Empty(t, events[0].Error)
}

func TestLogLifecycleRecordsFailure(t *testing.T) {
	logger := NewLogger(10, &mockWriter{})
	logger.LogLifecycle(EventRejected, "abc123", "1.2.3.4", "", "", 0, false, errors.New("pin mismatch"), 0)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "pin mismatch", events[0].Error)
}

func TestGetEventsRespectsMaxEvents(t *testing.T) {
	logger := NewLogger(2, &mockWriter{})
	for i := 0; i < 5; i++ {
		logger.LogLifecycle(EventDownloaded, "d", "", "", "", 0, true, nil, 0)
	}
	assert.Len(t, logger.GetEvents(), 2)
}

func TestRedactMetadataKeys(t *testing.T) {
	logger := NewLoggerWithRedaction(10, &mockWriter{}, []string{"secret"})
	al := logger.(*auditLogger)

	redacted := al.redactMetadata(map[string]interface{}{"secret": "shh", "public": "ok"})
	assert.Equal(t, "[REDACTED]", redacted["secret"])
	assert.Equal(t, "ok", redacted["public"])
}
