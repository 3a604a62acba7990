package hkexport

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock portion of every date attribute in an export,
// e.g. "2024-03-01 07:15:02 -0800".
const TimestampLayout = "2006-01-02 15:04:05"

// ParseFloat converts a numeric attribute. Empty or non-numeric input yields def.
// Out-of-range literals keep strconv's ±Inf.
func ParseFloat(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return def
	}
	return v
}

// ParseTimestamp parses a date attribute as a naive wall-clock time.
//
// The UTC offset suffix is dropped, not applied: "2024-03-01 07:15:02 -0800" and
// "2024-03-01 07:15:02 +0100" both yield 07:15:02. The returned time is in time.UTC
// only so that values compare consistently. ok is false on any parse failure.
func ParseTimestamp(raw string) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(TimestampLayout) {
		return time.Time{}, false
	}

	wall, rest := raw[:len(TimestampLayout)], strings.TrimSpace(raw[len(TimestampLayout):])
	if rest != "" && rest[0] != '+' && rest[0] != '-' {
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(TimestampLayout, wall, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
