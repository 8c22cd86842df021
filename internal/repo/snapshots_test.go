package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotPublishAssignsMonotonicSequences(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), nil)

	first, err := store.Publish([]byte("model-a"), time.Now())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	second, err := store.Publish([]byte("model-b"), time.Now())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}

	info, artifact, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if info.Sequence != 2 {
		t.Errorf("latest sequence = %d, want 2", info.Sequence)
	}
	if string(artifact) != "model-b" {
		t.Errorf("latest artifact = %q, want model-b", artifact)
	}
}

func TestSnapshotLatestSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir, nil)

	if _, err := store.Publish([]byte("model-a"), time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Newer but unreadable: resolution must fall back to sequence 1.
	if err := os.WriteFile(filepath.Join(dir, "snapshot_000002.json"), []byte("{bad"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, artifact, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if info.Sequence != 1 || string(artifact) != "model-a" {
		t.Errorf("got sequence %d artifact %q, want fallback to 1/model-a", info.Sequence, artifact)
	}
}

func TestSnapshotLatestWithoutSnapshots(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), nil)
	if _, _, err := store.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestSnapshotPublishRejectsEmptyArtifact(t *testing.T) {
	store := NewSnapshotStore(t.TempDir(), nil)
	if _, err := store.Publish(nil, time.Now()); err == nil {
		t.Error("expected error for empty artifact")
	}
}
