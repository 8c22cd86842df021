package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

func TestWatcherTriggersOnNewBatch(t *testing.T) {
	dir := t.TempDir()
	var runs atomic.Int32
	correlate := func(context.Context, models.CorrelateRequest) (models.CorrelateResponse, error) {
		runs.Add(1)
		return models.CorrelateResponse{}, nil
	}

	w, err := New(dir, 50*time.Millisecond, correlate, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(filepath.Join(dir, "batch.json"), []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("correlation never triggered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWatcherCoalescesBurstWrites(t *testing.T) {
	dir := t.TempDir()
	var runs atomic.Int32
	correlate := func(context.Context, models.CorrelateRequest) (models.CorrelateResponse, error) {
		runs.Add(1)
		return models.CorrelateResponse{}, nil
	}

	w, err := New(dir, 100*time.Millisecond, correlate, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Several writes inside one debounce window must yield a single run.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "batch.json"), []byte("[]"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 coalesced run", got)
	}
}

func TestWatcherIgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	var runs atomic.Int32
	correlate := func(context.Context, models.CorrelateRequest) (models.CorrelateResponse, error) {
		runs.Add(1)
		return models.CorrelateResponse{}, nil
	}

	w, err := New(dir, 50*time.Millisecond, correlate, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 for non-JSON writes", got)
	}
}

func TestWatcherCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "anomalies")
	if _, err := New(dir, 0, func(context.Context, models.CorrelateRequest) (models.CorrelateResponse, error) {
		return models.CorrelateResponse{}, nil
	}, nil); err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("drop directory not created: %v", err)
	}
}
