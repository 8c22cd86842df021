package correlator

import (
	"math"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return &parsed
}

func record(timestamp *time.Time, attrs map[string]any) models.AnomalyRecord {
	return models.AnomalyRecord{
		Source:    "auth",
		Entity:    "user:alice",
		Score:     0.9,
		Timestamp: timestamp,
		Event:     models.RawEvent{Attributes: attrs},
	}
}

func TestCorrelateGroupsByIdentityKey(t *testing.T) {
	attrs := map[string]any{"username": "alice", "src_ip": "1.2.3.4"}
	records := []models.AnomalyRecord{
		record(ts(t, "2026-03-01T10:20:00Z"), attrs),
		record(ts(t, "2026-03-01T10:00:00Z"), attrs),
		record(ts(t, "2026-03-01T10:10:00Z"), attrs),
	}

	incidents := New(nil, 30).Correlate(records)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}

	incident := incidents[0]
	if incident.Key != "alice||1.2.3.4" {
		t.Errorf("key = %q, want %q", incident.Key, "alice||1.2.3.4")
	}
	if incident.EventCount() != 3 {
		t.Errorf("event count = %d, want 3", incident.EventCount())
	}
	if incident.DurationMins != 20 {
		t.Errorf("duration = %v, want 20", incident.DurationMins)
	}
	want := 0.2*3 + (20.0/60)*0.05
	if math.Abs(incident.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", incident.Score, want)
	}
	if incident.Uncorrelated {
		t.Error("incident with identity key marked uncorrelated")
	}
	if incident.IncidentID == "" {
		t.Error("incident id not assigned")
	}
	if !incident.StartTime.Equal(*ts(t, "2026-03-01T10:00:00Z")) {
		t.Errorf("start time = %v, want earliest record", incident.StartTime)
	}
	if !incident.EndTime.Equal(*ts(t, "2026-03-01T10:20:00Z")) {
		t.Errorf("end time = %v, want latest record", incident.EndTime)
	}
}

func TestCorrelateSeparatesDifferentKeys(t *testing.T) {
	records := []models.AnomalyRecord{
		record(ts(t, "2026-03-01T10:00:00Z"), map[string]any{"username": "alice"}),
		record(ts(t, "2026-03-01T10:01:00Z"), map[string]any{"username": "bob"}),
		record(ts(t, "2026-03-01T10:02:00Z"), map[string]any{"username": "alice"}),
	}

	incidents := New(nil, 30).Correlate(records)
	if len(incidents) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(incidents))
	}
	counts := map[string]int{}
	for _, inc := range incidents {
		counts[inc.Key] = inc.EventCount()
	}
	if counts["alice||"] != 2 || counts["bob||"] != 1 {
		t.Errorf("unexpected grouping: %v", counts)
	}
}

func TestCorrelateMissingTimestampsSortFirst(t *testing.T) {
	attrs := map[string]any{"username": "alice"}
	records := []models.AnomalyRecord{
		record(ts(t, "2026-03-01T10:05:00Z"), attrs),
		record(nil, attrs),
	}

	incidents := New(nil, 30).Correlate(records)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	incident := incidents[0]
	if incident.Events[0].Timestamp != nil {
		t.Error("record without timestamp should sort first")
	}
	if incident.StartTime != nil {
		t.Errorf("start time = %v, want nil", incident.StartTime)
	}
	if incident.DurationMins != 0 {
		t.Errorf("duration = %v, want 0 when bounds are missing", incident.DurationMins)
	}
}

func TestCorrelateFlagsRecordsWithoutIdentity(t *testing.T) {
	rec := models.AnomalyRecord{
		Source:    "netflow",
		Entity:    "segment-7",
		Score:     0.4,
		Timestamp: ts(t, "2026-03-01T10:00:00Z"),
	}

	incidents := New(nil, 30).Correlate([]models.AnomalyRecord{rec, rec})
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	if !incidents[0].Uncorrelated {
		t.Error("empty-key group not marked uncorrelated")
	}
	if incidents[0].Key != "||" {
		t.Errorf("key = %q, want %q", incidents[0].Key, "||")
	}
}

func TestCorrelateEmptyInput(t *testing.T) {
	if incidents := New(nil, 30).Correlate(nil); incidents != nil {
		t.Errorf("expected nil incidents, got %v", incidents)
	}
}

func TestSeverityMonotonicAndCapped(t *testing.T) {
	if severity(2, 0) <= severity(1, 0) {
		t.Error("severity should grow with event count")
	}
	if severity(1, 120) <= severity(1, 0) {
		t.Error("severity should grow with duration")
	}
	if got := severity(50, 600); got != 1.0 {
		t.Errorf("severity = %v, want capped at 1.0", got)
	}
}

func TestExtractKeyFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		rec  models.AnomalyRecord
		want models.CorrelationKey
	}{
		{
			name: "attributes preferred",
			rec: models.AnomalyRecord{
				Entity: "user:carol",
				Event: models.RawEvent{Attributes: map[string]any{
					"username": "alice", "hostname": "web-1", "src_ip": "1.2.3.4",
				}},
			},
			want: models.CorrelationKey{Username: "alice", Host: "web-1", SrcIP: "1.2.3.4"},
		},
		{
			name: "user alias",
			rec: models.AnomalyRecord{
				Event: models.RawEvent{Attributes: map[string]any{"user": "bob"}},
			},
			want: models.CorrelationKey{Username: "bob"},
		},
		{
			name: "entity hint fallback",
			rec:  models.AnomalyRecord{Entity: "user:carol"},
			want: models.CorrelationKey{Username: "user:carol"},
		},
		{
			name: "host entity hint",
			rec:  models.AnomalyRecord{Entity: "db-host-3"},
			want: models.CorrelationKey{Host: "db-host-3"},
		},
		{
			name: "entity without hint ignored",
			rec:  models.AnomalyRecord{Entity: "segment-7"},
			want: models.CorrelationKey{},
		},
		{
			name: "non-string attribute ignored",
			rec: models.AnomalyRecord{
				Event: models.RawEvent{Attributes: map[string]any{"username": 42}},
			},
			want: models.CorrelationKey{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractKey(tt.rec); got != tt.want {
				t.Errorf("ExtractKey = %+v, want %+v", got, tt.want)
			}
		})
	}
}
