package models

import "time"

// RawEvent is a canonical normalized event as produced by the ingestion layer.
type RawEvent struct {
	EventID    string         `json:"event_id,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Source     string         `json:"source,omitempty"`
	Entity     string         `json:"entity,omitempty"`
	EventType  string         `json:"event_type,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AnomalyRecord is one event flagged by upstream scoring as statistically unusual.
// Records are immutable once produced.
type AnomalyRecord struct {
	Source    string     `json:"source"`
	Entity    string     `json:"entity"`
	Score     float64    `json:"score"`
	Timestamp *time.Time `json:"timestamp"`
	Event     RawEvent   `json:"event"`
}

// StringAttr returns the named event attribute coerced to a string, or "" when
// absent or not string-valued.
func (a AnomalyRecord) StringAttr(name string) string {
	if a.Event.Attributes == nil {
		return ""
	}
	if v, ok := a.Event.Attributes[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CorrelationKey is the (username, host, src_ip) identity tuple used to cluster
// records. Empty components serialize to empty string segments, never null.
type CorrelationKey struct {
	Username string
	Host     string
	SrcIP    string
}

// KeySeparator joins the rendered key components.
const KeySeparator = "|"

// String renders the key in its persisted form, e.g. "alice||1.2.3.4".
func (k CorrelationKey) String() string {
	return k.Username + KeySeparator + k.Host + KeySeparator + k.SrcIP
}

// IsEmpty reports whether every component is empty, i.e. the record carries no
// correlating identity at all.
func (k CorrelationKey) IsEmpty() bool {
	return k.Username == "" && k.Host == "" && k.SrcIP == ""
}
