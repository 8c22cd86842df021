package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/ledger"
	"github.com/sentinelstack/sentinel-correlate/internal/metrics"
	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
)

// ErrMissingInput signals that a required correlation or anomaly artifact is
// absent. This is a hard stop, unlike an empty feedback store which is a
// soft no-op reported through RetrainResult.
var ErrMissingInput = errors.New("missing correlation or anomaly input")

// FeedbackSource supplies the current verdict log.
type FeedbackSource interface {
	Entries() (map[string]models.FeedbackEntry, error)
}

// Trigger refits the scoring model on correlated history, raw anomalies, and
// ledger weights, then publishes the result as a new versioned snapshot.
type Trigger struct {
	artifacts *repo.ArtifactRepo
	feedback  FeedbackSource
	ledger    *ledger.Ledger
	scorer    repo.Scorer
	snapshots *repo.SnapshotStore
	fitOpts   repo.FitOptions
	logger    *slog.Logger
}

// NewTrigger wires a retraining trigger.
func NewTrigger(
	artifacts *repo.ArtifactRepo,
	feedback FeedbackSource,
	weightLedger *ledger.Ledger,
	scorer repo.Scorer,
	snapshots *repo.SnapshotStore,
	fitOpts repo.FitOptions,
	logger *slog.Logger,
) *Trigger {
	if fitOpts.Contamination <= 0 || fitOpts.Contamination >= 0.5 {
		fitOpts.Contamination = 0.08
	}
	if fitOpts.Seed == 0 {
		fitOpts.Seed = 42
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		artifacts: artifacts,
		feedback:  feedback,
		ledger:    weightLedger,
		scorer:    scorer,
		snapshots: snapshots,
		fitOpts:   fitOpts,
		logger:    logger,
	}
}

// Run executes one retraining pass. An absent incident or anomaly artifact
// returns ErrMissingInput; an empty feedback store returns a skipped result
// with no error and publishes nothing.
func (t *Trigger) Run(ctx context.Context) (models.RetrainResult, error) {
	incidents, err := t.artifacts.LatestIncidents()
	if err != nil {
		if errors.Is(err, repo.ErrNoArtifact) {
			return models.RetrainResult{}, fmt.Errorf("no incident artifact: %w", ErrMissingInput)
		}
		return models.RetrainResult{}, err
	}
	anomalies, err := t.artifacts.LatestAnomalies()
	if err != nil {
		if errors.Is(err, repo.ErrNoArtifact) {
			return models.RetrainResult{}, fmt.Errorf("no anomaly batch: %w", ErrMissingInput)
		}
		return models.RetrainResult{}, err
	}

	verdicts, err := t.feedback.Entries()
	if err != nil {
		return models.RetrainResult{}, err
	}
	if len(verdicts) == 0 {
		t.logger.Info("retraining skipped, no feedback to learn from")
		metrics.ObserveRetrain(metrics.OutcomeSkipped)
		return models.RetrainResult{Status: models.RetrainSkipped}, nil
	}

	// Fold the newest verdicts into the ledger before feature extraction so
	// the fit sees the weights detection will run with.
	if err := t.ledger.ApplyBatchDecay(verdicts); err != nil {
		metrics.ObserveRetrain(metrics.OutcomeError)
		return models.RetrainResult{}, err
	}
	weights, err := t.ledger.Weights()
	if err != nil {
		metrics.ObserveRetrain(metrics.OutcomeError)
		return models.RetrainResult{}, err
	}

	matrix := buildFeatures(incidents, anomalies, weights)

	artifact, err := t.scorer.Fit(ctx, matrix, t.fitOpts)
	if err != nil {
		metrics.ObserveRetrain(metrics.OutcomeError)
		return models.RetrainResult{}, err
	}

	info, err := t.snapshots.Publish(artifact, time.Now().UTC())
	if err != nil {
		metrics.ObserveRetrain(metrics.OutcomeError)
		return models.RetrainResult{}, err
	}

	t.logger.Info("model snapshot published",
		slog.Uint64("sequence", info.Sequence),
		slog.Int("rows", len(matrix)),
		slog.Int("verdicts", len(verdicts)))
	metrics.ObserveRetrain(metrics.OutcomeSuccess)

	return models.RetrainResult{
		Status:   models.RetrainPublished,
		Snapshot: info,
		Rows:     len(matrix),
	}, nil
}

// buildFeatures emits one 3-dimensional row per incident and per raw anomaly:
// [event count (1 for a lone anomaly), score, ledger weight or 0]. Incident
// rows come first; order within each block follows the source artifact.
func buildFeatures(incidents []models.Incident, anomalies []models.AnomalyRecord, weights map[string]float64) [][]float64 {
	matrix := make([][]float64, 0, len(incidents)+len(anomalies))
	for _, incident := range incidents {
		matrix = append(matrix, []float64{
			float64(incident.EventCount()),
			incident.Score,
			weights[incident.IncidentID],
		})
	}
	for _, anomaly := range anomalies {
		matrix = append(matrix, []float64{
			1,
			anomaly.Score,
			weights[anomaly.Entity],
		})
	}
	return matrix
}
