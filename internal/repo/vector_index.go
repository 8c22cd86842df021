package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

// VectorIndex is a flat inner-product index over embedded feedback comments,
// with a metadata list kept positionally aligned entry-for-entry. Vectors are
// L2-normalized, so inner product equals cosine similarity.
//
// Appends are atomic per entry: vector and metadata are staged together under
// one lock and both files are replaced via rename; a failure on either side
// rolls the in-memory state back so index and metadata can never skew.
type VectorIndex struct {
	indexPath string
	metaPath  string
	logger    *slog.Logger

	mu      sync.Mutex
	loaded  bool
	dim     int
	vectors [][]float64
	meta    []models.EmbeddingMeta
}

type indexFile struct {
	Dim     int         `json:"dim"`
	Vectors [][]float64 `json:"vectors"`
}

type metaFile struct {
	Data []models.EmbeddingMeta `json:"data"`
}

// NewVectorIndex binds an index to its two artifact paths.
func NewVectorIndex(indexPath, metaPath string, logger *slog.Logger) *VectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorIndex{indexPath: indexPath, metaPath: metaPath, logger: logger}
}

// Append adds one vector and its metadata record to the index.
func (x *VectorIndex) Append(vector []float64, meta models.EmbeddingMeta) error {
	if len(vector) == 0 {
		return errors.New("empty embedding vector")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.ensureLoaded(); err != nil {
		return err
	}
	if x.dim == 0 {
		x.dim = len(vector)
	}
	if len(vector) != x.dim {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(vector), x.dim)
	}

	x.vectors = append(x.vectors, vector)
	x.meta = append(x.meta, meta)

	if err := x.persistLocked(); err != nil {
		// Roll back the staged appends so memory matches disk.
		x.vectors = x.vectors[:len(x.vectors)-1]
		x.meta = x.meta[:len(x.meta)-1]
		return err
	}
	return nil
}

// Search returns up to k entries ranked by descending inner product against
// the query vector. An index with no entries yields an empty result.
func (x *VectorIndex) Search(vector []float64, k int) ([]models.SimilarFeedback, error) {
	if k <= 0 {
		k = 5
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.ensureLoaded(); err != nil {
		return nil, err
	}
	if len(x.vectors) == 0 {
		return []models.SimilarFeedback{}, nil
	}
	if len(vector) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), x.dim)
	}

	hits := make([]models.SimilarFeedback, 0, len(x.vectors))
	for i, stored := range x.vectors {
		hits = append(hits, models.SimilarFeedback{
			EmbeddingMeta: x.meta[i],
			Similarity:    dot(vector, stored),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of indexed entries.
func (x *VectorIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.ensureLoaded(); err != nil {
		return 0
	}
	return len(x.vectors)
}

func (x *VectorIndex) ensureLoaded() error {
	if x.loaded {
		return nil
	}

	var idx indexFile
	if err := readJSON(x.indexPath, &idx, x.logger); err != nil {
		return err
	}
	var meta metaFile
	if err := readJSON(x.metaPath, &meta, x.logger); err != nil {
		return err
	}

	// Skew between the two artifacts should be impossible given atomic
	// dual-append, but a crash between renames could leave one entry extra.
	// Truncate to the aligned prefix rather than serving misattributed hits.
	n := len(idx.Vectors)
	if len(meta.Data) < n {
		n = len(meta.Data)
	}
	if n != len(idx.Vectors) || n != len(meta.Data) {
		x.logger.Warn("index/metadata skew detected, truncating to aligned prefix",
			slog.Int("vectors", len(idx.Vectors)), slog.Int("meta", len(meta.Data)))
	}

	x.vectors = idx.Vectors[:n]
	x.meta = meta.Data[:n]
	x.dim = idx.Dim
	if x.dim == 0 && n > 0 {
		x.dim = len(x.vectors[0])
	}
	x.loaded = true
	return nil
}

func (x *VectorIndex) persistLocked() error {
	indexData, err := json.Marshal(indexFile{Dim: x.dim, Vectors: x.vectors})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	metaData, err := json.MarshalIndent(metaFile{Data: x.meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index metadata: %w", err)
	}
	if err := WriteFileAtomic(x.indexPath, indexData); err != nil {
		return err
	}
	return WriteFileAtomic(x.metaPath, metaData)
}

func readJSON(path string, v any, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := unmarshalStrict(data, v); err != nil {
		logger.Warn("corrupt artifact, treating as empty",
			slog.String("path", path), slog.Any("error", err))
	}
	return nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize rescales a vector to unit L2 norm in place and returns it. A zero
// vector is returned unchanged.
func Normalize(vector []float64) []float64 {
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	if sum == 0 {
		return vector
	}
	norm := math.Sqrt(sum)
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}
