package front

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalPublicHost(t *testing.T) {
	f := NewLocal("http", "localhost:8080")
	assert.Equal(t, "http://localhost:8080", f.PublicHost())
}

func TestLocalURLAppendsFragmentWithoutReescaping(t *testing.T) {
	f := NewLocal("http", "localhost:8080")
	url := f.URL("/d/abc123", "already-encoded-key")
	assert.Equal(t, "http://localhost:8080/d/abc123#already-encoded-key", url)
}

func TestLocalCloseIsNoopAndIdempotent(t *testing.T) {
	f := NewLocal("https", "example.onion")
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}

func TestLocalImplementsFront(t *testing.T) {
	var _ Front = (*Local)(nil)
}
