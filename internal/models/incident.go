package models

import "time"

// Incident is a correlated cluster of anomaly records believed to relate to one
// actor or session. Incidents are read-only once constructed by the correlator.
type Incident struct {
	IncidentID   string          `json:"incident_id"`
	Key          string          `json:"key"`
	Events       []AnomalyRecord `json:"events"`
	Score        float64         `json:"score"`
	StartTime    *time.Time      `json:"start_time"`
	EndTime      *time.Time      `json:"end_time"`
	DurationMins float64         `json:"duration_mins"`
	// Uncorrelated marks groups whose key carried no identity at all; they are
	// kept so downstream consumers can treat them as noise rather than losing
	// the records silently.
	Uncorrelated bool `json:"uncorrelated,omitempty"`
}

// EventCount returns the number of grouped records.
func (i Incident) EventCount() int {
	return len(i.Events)
}
