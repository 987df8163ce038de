package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/kenneth/deaddrop/internal/apperr"
)

// ParseDuration parses a suffixed duration string: a trailing s/m/h/d for
// seconds/minutes/hours/days. A bare number with no suffix is interpreted
// as minutes, matching the CLI convention this tool's expiry and TTL flags
// have always used.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperr.New(apperr.KindConfig, "empty duration string")
	}

	unit := time.Minute
	numPart := s
	switch s[len(s)-1] {
	case 's', 'S':
		unit = time.Second
		numPart = s[:len(s)-1]
	case 'm', 'M':
		unit = time.Minute
		numPart = s[:len(s)-1]
	case 'h', 'H':
		unit = time.Hour
		numPart = s[:len(s)-1]
	case 'd', 'D':
		unit = 24 * time.Hour
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindConfig, "invalid duration \""+s+"\"", err)
	}
	if n < 0 {
		return 0, apperr.New(apperr.KindConfig, "duration must not be negative")
	}
	return time.Duration(n * float64(unit)), nil
}
