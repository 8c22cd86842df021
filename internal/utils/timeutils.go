package utils

import (
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the lenient timestamp formats seen in telemetry batches:
// RFC3339 with or without zone, the space-separated variant, a bare date, or a
// unix epoch in seconds. Unparseable values return nil so callers can treat them
// as missing rather than failing the whole batch.
func ParseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		t := time.Unix(int64(secs), int64((secs-float64(int64(secs)))*1e9)).UTC()
		return &t
	}
	return nil
}

// DurationMinutes converts a pair of timestamps into minute duration. A nil
// endpoint contributes zero, matching the incident duration contract.
func DurationMinutes(start, end *time.Time) float64 {
	if start == nil || end == nil {
		return 0
	}
	s, e := *start, *end
	if e.Before(s) {
		s, e = e, s
	}
	return e.Sub(s).Minutes()
}

// TimeLess orders nullable timestamps ascending with nil sorting first.
func TimeLess(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
