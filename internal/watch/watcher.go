package watch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

// CorrelateFunc runs one correlation pass over the newest anomaly batch.
type CorrelateFunc func(ctx context.Context, req models.CorrelateRequest) (models.CorrelateResponse, error)

// Watcher observes the anomaly drop directory and triggers a correlation run
// when a new batch lands. Bursty writes are coalesced with a debounce timer
// so a batch written in several chunks triggers a single run.
type Watcher struct {
	dir       string
	debounce  time.Duration
	correlate CorrelateFunc
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
}

// New constructs a Watcher over the given drop directory. The directory is
// created when absent so the watch can be established before detection ever
// writes a batch.
func New(dir string, debounce time.Duration, correlate CorrelateFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:       dir,
		debounce:  debounce,
		correlate: correlate,
		logger:    logger,
		watcher:   fsw,
	}, nil
}

// Run blocks until the context is cancelled, firing correlation runs as
// batches arrive.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("anomaly batch activity",
				slog.String("path", event.Name), slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			timer = nil
			w.logger.Info("new anomaly batch detected, correlating")
			resp, err := w.correlate(ctx, models.CorrelateRequest{})
			if err != nil {
				w.logger.Error("watch-triggered correlation failed", slog.Any("error", err))
				continue
			}
			w.logger.Info("watch-triggered correlation complete",
				slog.Int("incidents", len(resp.Incidents)),
				slog.String("artifact", resp.Artifact))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watch error", slog.Any("error", err))
		}
	}
}

// relevant keeps only JSON batch writes; renames count because batches are
// published by atomic rename.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}
