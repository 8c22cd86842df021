package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJSONStoreRoundTrip(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "nested", "store.json"), nil)

	in := map[string]float64{"a": 1.5, "b": -0.25}
	if err := store.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out := map[string]float64{}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out["a"] != 1.5 || out["b"] != -0.25 {
		t.Errorf("round trip mismatch: %v", out)
	}
}

func TestJSONStoreMissingFileLeavesValueUntouched(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "absent.json"), nil)

	out := map[string]float64{"seed": 1}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out["seed"] != 1 {
		t.Errorf("missing file should leave value untouched, got %v", out)
	}
}

func TestJSONStoreCorruptFileIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path, nil)
	out := map[string]float64{}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("corrupt file should decode to nothing, got %v", out)
	}
}

func TestJSONStoreTypeMismatchDecodesToNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	// Valid JSON whose second value fails the target type, after the first
	// value has already decoded.
	if err := os.WriteFile(path, []byte(`{"a": 0.5, "b": "oops"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path, nil)
	out := map[string]float64{}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("partial decode leaked into value: %v", out)
	}
}

func TestJSONStoreUpdateIsReadModifyWrite(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "store.json"), nil)
	if err := store.Save(map[string]int{"count": 1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	value := map[string]int{}
	err := store.Update(&value, func() error {
		value["count"]++
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	out := map[string]int{}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out["count"] != 2 {
		t.Errorf("count = %d, want 2", out["count"])
	}
}

func TestJSONStoreUpdateAbandonsWriteOnError(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "store.json"), nil)
	if err := store.Save(map[string]int{"count": 1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	value := map[string]int{}
	err := store.Update(&value, func() error {
		value["count"] = 99
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("expected mutate error to propagate")
	}

	out := map[string]int{}
	if err := store.Load(&out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out["count"] != 1 {
		t.Errorf("count = %d, want unchanged 1", out["count"])
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.json")
	if err := WriteFileAtomic(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "artifact.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}
