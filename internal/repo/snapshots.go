package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

// ErrNoSnapshot signals that no model snapshot has been published yet.
var ErrNoSnapshot = errors.New("no model snapshot available")

const snapshotPrefix = "snapshot_"

// SnapshotStore publishes and resolves versioned model snapshots. Snapshots
// carry an explicit monotonic sequence number; the highest sequence is
// authoritative, so wall-clock skew between writers cannot change which model
// detection loads. Publication is write-then-rename, so a reader never sees a
// half-written snapshot.
type SnapshotStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

type snapshotRecord struct {
	Sequence  uint64    `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	Artifact  []byte    `json:"artifact"`
}

// NewSnapshotStore constructs a store over dir.
func NewSnapshotStore(dir string, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{dir: dir, logger: logger}
}

// Publish persists artifact as the next snapshot and returns its info.
func (s *SnapshotStore) Publish(artifact []byte, createdAt time.Time) (models.SnapshotInfo, error) {
	if len(artifact) == 0 {
		return models.SnapshotInfo{}, errors.New("empty model artifact")
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.maxSequence() + 1
	record := snapshotRecord{Sequence: seq, CreatedAt: createdAt.UTC(), Artifact: artifact}
	data, err := json.Marshal(record)
	if err != nil {
		return models.SnapshotInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s%06d.json", snapshotPrefix, seq))
	if err := WriteFileAtomic(path, data); err != nil {
		return models.SnapshotInfo{}, err
	}
	return models.SnapshotInfo{Sequence: seq, CreatedAt: record.CreatedAt}, nil
}

// Latest returns the authoritative snapshot and its artifact. A corrupt
// snapshot file is skipped with a warning in favour of the next newest.
func (s *SnapshotStore) Latest() (models.SnapshotInfo, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs := s.sequences()
	for i := len(seqs) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%06d.json", snapshotPrefix, seqs[i]))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record snapshotRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("corrupt snapshot skipped",
				slog.String("path", path), slog.Any("error", err))
			continue
		}
		return models.SnapshotInfo{Sequence: record.Sequence, CreatedAt: record.CreatedAt}, record.Artifact, nil
	}
	return models.SnapshotInfo{}, nil, ErrNoSnapshot
}

func (s *SnapshotStore) maxSequence() uint64 {
	seqs := s.sequences()
	if len(seqs) == 0 {
		return 0
	}
	return seqs[len(seqs)-1]
}

func (s *SnapshotStore) sequences() []uint64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	seqs := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(name, snapshotPrefix+"%d.json", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
