package models

import "time"

// CorrelateRequest triggers a correlation run. When Records is empty the engine
// correlates the most recently dropped anomaly batch instead.
type CorrelateRequest struct {
	WindowMinutes int             `json:"window_minutes,omitempty"`
	Records       []AnomalyRecord `json:"records,omitempty"`
}

// CorrelateResponse summarises a correlation run.
type CorrelateResponse struct {
	Incidents []Incident `json:"incidents"`
	Artifact  string     `json:"artifact,omitempty"`
}

// FeedbackRequest is an analyst verdict submission.
type FeedbackRequest struct {
	IncidentID string `json:"incident_id" binding:"required"`
	Label      string `json:"label" binding:"required"`
	Comment    string `json:"comment"`
}

// RetrainStatus enumerates retraining outcomes.
type RetrainStatus string

const (
	RetrainPublished RetrainStatus = "published"
	RetrainSkipped   RetrainStatus = "skipped"
)

// RetrainResult reports the outcome of a retraining run.
type RetrainResult struct {
	Status   RetrainStatus `json:"status"`
	Snapshot SnapshotInfo  `json:"snapshot,omitempty"`
	Rows     int           `json:"rows"`
}

// KeyHotspot aggregates incident history for one correlation key.
type KeyHotspot struct {
	Key       string    `json:"key"`
	Incidents int       `json:"incidents"`
	Events    int       `json:"events"`
	PeakScore float64   `json:"peak_score"`
	Sources   []string  `json:"sources,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}
