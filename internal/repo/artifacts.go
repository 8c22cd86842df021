package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/utils"
)

// ErrNoArtifact signals that no batch or incident artifact exists yet.
var ErrNoArtifact = errors.New("no artifact available")

const incidentPrefix = "correlation_"

// ArtifactRepo reads anomaly batches dropped by detection and owns the
// incident artifacts written by correlation. Incident files carry a monotonic
// sequence number in their name; "latest" selection uses that sequence, never
// file mtime, so clock skew cannot reorder snapshots of history.
type ArtifactRepo struct {
	anomalyDir  string
	incidentDir string
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewArtifactRepo constructs a repository over the two artifact directories.
func NewArtifactRepo(anomalyDir, incidentDir string, logger *slog.Logger) *ArtifactRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactRepo{anomalyDir: anomalyDir, incidentDir: incidentDir, logger: logger}
}

// AnomalyDir exposes the drop directory for the filesystem watcher.
func (r *ArtifactRepo) AnomalyDir() string { return r.anomalyDir }

// SaveIncidents persists a correlation run as the next incident artifact and
// returns its path.
func (r *ArtifactRepo) SaveIncidents(incidents []models.Incident) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.maxIncidentSeq() + 1
	name := fmt.Sprintf("%s%06d.json", incidentPrefix, seq)
	path := filepath.Join(r.incidentDir, name)

	data, err := json.MarshalIndent(incidents, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal incidents: %w", err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LatestIncidents returns the most recently published incident artifact.
// Returns ErrNoArtifact when none has been written; a corrupt artifact is
// logged and treated as an empty collection.
func (r *ArtifactRepo) LatestIncidents() ([]models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.maxIncidentSeq()
	if seq == 0 {
		return nil, ErrNoArtifact
	}
	path := filepath.Join(r.incidentDir, fmt.Sprintf("%s%06d.json", incidentPrefix, seq))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var incidents []models.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		r.logger.Warn("corrupt incident artifact, treating as empty",
			slog.String("path", path), slog.Any("error", err))
		return []models.Incident{}, nil
	}
	return incidents, nil
}

// AllIncidents loads every incident artifact in sequence order and returns
// the concatenation. Corrupt artifacts are logged and skipped. Returns
// ErrNoArtifact when no artifact exists at all.
func (r *ArtifactRepo) AllIncidents() ([]models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxSeq := r.maxIncidentSeq()
	if maxSeq == 0 {
		return nil, ErrNoArtifact
	}

	var incidents []models.Incident
	for seq := uint64(1); seq <= maxSeq; seq++ {
		path := filepath.Join(r.incidentDir, fmt.Sprintf("%s%06d.json", incidentPrefix, seq))
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var batch []models.Incident
		if err := json.Unmarshal(data, &batch); err != nil {
			r.logger.Warn("corrupt incident artifact, skipping",
				slog.String("path", path), slog.Any("error", err))
			continue
		}
		incidents = append(incidents, batch...)
	}
	return incidents, nil
}

func (r *ArtifactRepo) maxIncidentSeq() uint64 {
	entries, err := os.ReadDir(r.incidentDir)
	if err != nil {
		return 0
	}
	var max uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, incidentPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(name, incidentPrefix+"%d.json", &seq); err == nil && seq > max {
			max = seq
		}
	}
	return max
}

// LatestAnomalies loads the newest anomaly batch from the drop directory.
// Batch names embed the detection run timestamp, so the lexically greatest
// name is the newest batch. Returns ErrNoArtifact when the directory is empty
// or absent; a corrupt batch is logged and treated as empty.
func (r *ArtifactRepo) LatestAnomalies() ([]models.AnomalyRecord, error) {
	entries, err := os.ReadDir(r.anomalyDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("read %s: %w", r.anomalyDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, ErrNoArtifact
	}
	sort.Strings(names)

	path := filepath.Join(r.anomalyDir, names[len(names)-1])
	return r.loadAnomalyFile(path)
}

func (r *ArtifactRepo) loadAnomalyFile(path string) ([]models.AnomalyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw []anomalyRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("corrupt anomaly batch, treating as empty",
			slog.String("path", path), slog.Any("error", err))
		return []models.AnomalyRecord{}, nil
	}

	records := make([]models.AnomalyRecord, 0, len(raw))
	for _, item := range raw {
		records = append(records, item.toRecord())
	}
	return records, nil
}

// anomalyRecordJSON tolerates the loose timestamp encodings produced by the
// detection side (RFC3339, space-separated, epoch, or placeholder strings).
type anomalyRecordJSON struct {
	Source    string       `json:"source"`
	Entity    string       `json:"entity"`
	Score     float64      `json:"score"`
	Timestamp any          `json:"timestamp"`
	Event     rawEventJSON `json:"event"`
}

type rawEventJSON struct {
	EventID    string         `json:"event_id"`
	Timestamp  any            `json:"timestamp"`
	Source     string         `json:"source"`
	Entity     string         `json:"entity"`
	EventType  string         `json:"event_type"`
	Attributes map[string]any `json:"attributes"`
}

func (a anomalyRecordJSON) toRecord() models.AnomalyRecord {
	ts := flexibleTime(a.Timestamp)
	if ts == nil {
		ts = flexibleTime(a.Event.Timestamp)
	}
	return models.AnomalyRecord{
		Source:    a.Source,
		Entity:    a.Entity,
		Score:     a.Score,
		Timestamp: ts,
		Event: models.RawEvent{
			EventID:    a.Event.EventID,
			Timestamp:  flexibleTime(a.Event.Timestamp),
			Source:     a.Event.Source,
			Entity:     a.Event.Entity,
			EventType:  a.Event.EventType,
			Attributes: a.Event.Attributes,
		},
	}
}

func flexibleTime(v any) *time.Time {
	switch t := v.(type) {
	case string:
		return utils.ParseTimestamp(t)
	case float64:
		parsed := time.Unix(int64(t), 0).UTC()
		return &parsed
	default:
		return nil
	}
}
