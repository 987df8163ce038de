package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationSuffixes(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"10m": 10 * time.Minute,
		"1h":  time.Hour,
		"7d":  7 * 24 * time.Hour,
		"5":   5 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	_, err := ParseDuration("soon")
	assert.Error(t, err)
}

func TestParseDurationRejectsNegative(t *testing.T) {
	_, err := ParseDuration("-5m")
	assert.Error(t, err)
}

func TestParseDurationRejectsEmpty(t *testing.T) {
	_, err := ParseDuration("")
	assert.Error(t, err)
}
