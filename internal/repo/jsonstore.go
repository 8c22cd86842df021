package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
)

// JSONStore serializes read-modify-write access to one JSON artifact on disk.
// Every mutation rewrites the whole file, so a per-store mutex guards against
// concurrent writers losing updates, and writes go through a temp file plus
// rename so readers never observe a half-written artifact.
type JSONStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewJSONStore creates a store bound to path.
func NewJSONStore(path string, logger *slog.Logger) *JSONStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *JSONStore) Path() string { return s.path }

// Load decodes the artifact into v. A missing file leaves v untouched and a
// corrupt file logs a warning and leaves v untouched; neither is an error, so
// one bad artifact never aborts the pipeline.
func (s *JSONStore) Load(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(v)
}

func (s *JSONStore) loadLocked(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := unmarshalStrict(data, v); err != nil {
		s.logger.Warn("corrupt artifact, treating as empty",
			slog.String("path", s.path), slog.Any("error", err))
		return nil
	}
	return nil
}

// unmarshalStrict decodes into a fresh value and copies into v only on full
// success, so a mid-document type mismatch cannot leave v half-populated.
func unmarshalStrict(data []byte, v any) error {
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return json.Unmarshal(data, v)
	}
	fresh := reflect.New(target.Type().Elem())
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return err
	}
	target.Elem().Set(fresh.Elem())
	return nil
}

// Save atomically replaces the artifact with v.
func (s *JSONStore) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(v)
}

func (s *JSONStore) saveLocked(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}
	return WriteFileAtomic(s.path, data)
}

// Update runs a read-modify-write cycle under the store lock: v is loaded,
// mutate edits it in place, and the result is saved. Returning an error from
// mutate abandons the write.
func (s *JSONStore) Update(v any, mutate func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(v); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.saveLocked(v)
}

// WriteFileAtomic writes data to path via a temp file and rename, creating
// parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
