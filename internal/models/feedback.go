package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownLabel signals a verdict outside the TP/FP vocabulary.
var ErrUnknownLabel = errors.New("unknown feedback label")

// FeedbackLabel is an analyst verdict on an incident.
type FeedbackLabel string

const (
	// LabelTruePositive confirms the incident as a real detection.
	LabelTruePositive FeedbackLabel = "TP"
	// LabelFalsePositive rejects the incident as noise.
	LabelFalsePositive FeedbackLabel = "FP"
)

// ParseFeedbackLabel normalises a verdict string into a FeedbackLabel.
func ParseFeedbackLabel(value string) (FeedbackLabel, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TP":
		return LabelTruePositive, nil
	case "FP":
		return LabelFalsePositive, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownLabel, value)
	}
}

// FeedbackEntry records one analyst verdict. There is at most one entry per
// incident identifier; the latest verdict overwrites earlier ones.
type FeedbackEntry struct {
	IncidentID string        `json:"incident_id"`
	Label      FeedbackLabel `json:"label"`
	Comment    string        `json:"comment"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EmbeddingMeta is the metadata record kept positionally aligned with the
// similarity index.
type EmbeddingMeta struct {
	IncidentID string        `json:"incident_id"`
	Label      FeedbackLabel `json:"label"`
	Comment    string        `json:"comment"`
}

// SimilarFeedback is one ranked similarity-search hit.
type SimilarFeedback struct {
	EmbeddingMeta
	Similarity float64 `json:"similarity"`
}

// SnapshotInfo describes one published model snapshot. The highest sequence
// number is the authoritative snapshot for detection.
type SnapshotInfo struct {
	Sequence  uint64    `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}
