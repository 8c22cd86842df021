package utils

import (
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 nano", "2026-03-01T10:00:00.250Z", time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC)},
		{"no zone", "2026-03-01T10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"space separated", "2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"bare date", "2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"epoch seconds", "1772359200", time.Unix(1772359200, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.value)
			if got == nil {
				t.Fatalf("ParseTimestamp(%q) = nil", tt.value)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseTimestampUnparseable(t *testing.T) {
	for _, value := range []string{"", "   ", "yesterday", "03/01/2026"} {
		if got := ParseTimestamp(value); got != nil {
			t.Errorf("ParseTimestamp(%q) = %v, want nil", value, got)
		}
	}
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)

	if got := DurationMinutes(&start, &end); got != 20 {
		t.Errorf("DurationMinutes = %v, want 20", got)
	}
	// Reversed bounds still report a positive span.
	if got := DurationMinutes(&end, &start); got != 20 {
		t.Errorf("DurationMinutes reversed = %v, want 20", got)
	}
	if got := DurationMinutes(nil, &end); got != 0 {
		t.Errorf("DurationMinutes with nil start = %v, want 0", got)
	}
	if got := DurationMinutes(&start, nil); got != 0 {
		t.Errorf("DurationMinutes with nil end = %v, want 0", got)
	}
}

func TestTimeLessNilSortsFirst(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	if !TimeLess(nil, &now) {
		t.Error("nil should sort before a value")
	}
	if TimeLess(&now, nil) {
		t.Error("value should not sort before nil")
	}
	if TimeLess(nil, nil) {
		t.Error("nil is not less than nil")
	}
	if !TimeLess(&now, &later) || TimeLess(&later, &now) {
		t.Error("chronological ordering broken")
	}
}
