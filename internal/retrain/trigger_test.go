package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/sentinelstack/sentinel-correlate/internal/ledger"
	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
)

// fakeScorer records the fit request and returns a fixed artifact.
type fakeScorer struct {
	matrix [][]float64
	opts   repo.FitOptions
	err    error
}

func (f *fakeScorer) Fit(_ context.Context, matrix [][]float64, opts repo.FitOptions) ([]byte, error) {
	f.matrix = matrix
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return []byte("model-artifact"), nil
}

func (f *fakeScorer) Score(context.Context, [][]float64) ([]float64, error) {
	return nil, errors.New("not used")
}

func (f *fakeScorer) Predict(context.Context, [][]float64) ([]int, error) {
	return nil, errors.New("not used")
}

type feedbackMap map[string]models.FeedbackEntry

func (m feedbackMap) Entries() (map[string]models.FeedbackEntry, error) { return m, nil }

type harness struct {
	trigger   *Trigger
	artifacts *repo.ArtifactRepo
	ledger    *ledger.Ledger
	snapshots *repo.SnapshotStore
	scorer    *fakeScorer
}

func newHarness(t *testing.T, verdicts feedbackMap) *harness {
	t.Helper()
	dir := t.TempDir()
	artifacts := repo.NewArtifactRepo(filepath.Join(dir, "anomalies"), filepath.Join(dir, "correlations"), nil)
	weightLedger := ledger.New(repo.NewJSONStore(filepath.Join(dir, "weights.json"), nil), nil, ledger.DefaultOptions())
	snapshots := repo.NewSnapshotStore(filepath.Join(dir, "snapshots"), nil)
	scorer := &fakeScorer{}
	trigger := NewTrigger(artifacts, verdicts, weightLedger, scorer, snapshots,
		repo.FitOptions{Contamination: 0.08, Seed: 42}, nil)
	return &harness{trigger: trigger, artifacts: artifacts, ledger: weightLedger, snapshots: snapshots, scorer: scorer}
}

func (h *harness) seedArtifacts(t *testing.T) {
	t.Helper()
	incidents := []models.Incident{
		{IncidentID: "inc-1", Score: 0.6, Events: make([]models.AnomalyRecord, 3)},
		{IncidentID: "inc-2", Score: 0.3, Events: make([]models.AnomalyRecord, 1)},
	}
	if _, err := h.artifacts.SaveIncidents(incidents); err != nil {
		t.Fatalf("seed incidents: %v", err)
	}
	batch := []models.AnomalyRecord{{Source: "auth", Entity: "user:alice", Score: 0.9}}
	if err := writeAnomalyBatch(h.artifacts, batch); err != nil {
		t.Fatalf("seed anomalies: %v", err)
	}
}

func writeAnomalyBatch(artifacts *repo.ArtifactRepo, batch []models.AnomalyRecord) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return repo.WriteFileAtomic(filepath.Join(artifacts.AnomalyDir(), "batch.json"), data)
}

func TestRunPublishesSnapshot(t *testing.T) {
	verdicts := feedbackMap{
		"inc-1": {IncidentID: "inc-1", Label: models.LabelTruePositive},
	}
	h := newHarness(t, verdicts)
	h.seedArtifacts(t)

	result, err := h.trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.RetrainPublished {
		t.Errorf("status = %s, want published", result.Status)
	}
	if result.Snapshot.Sequence != 1 {
		t.Errorf("snapshot sequence = %d, want 1", result.Snapshot.Sequence)
	}
	if result.Rows != 3 {
		t.Errorf("rows = %d, want 2 incidents + 1 anomaly", result.Rows)
	}

	if h.scorer.opts.Contamination != 0.08 || h.scorer.opts.Seed != 42 {
		t.Errorf("fit options = %+v", h.scorer.opts)
	}

	// Feature rows are [event count, score, ledger weight]. The verdict for
	// inc-1 lands in the ledger before extraction, so its row carries the
	// post-reward weight.
	if len(h.scorer.matrix) != 3 {
		t.Fatalf("matrix rows = %d, want 3", len(h.scorer.matrix))
	}
	row := h.scorer.matrix[0]
	if row[0] != 3 || row[1] != 0.6 {
		t.Errorf("incident row = %v", row)
	}
	if math.Abs(row[2]-0.2) > 1e-9 {
		t.Errorf("incident weight feature = %v, want rewarded 0.2", row[2])
	}
	if anomalyRow := h.scorer.matrix[2]; anomalyRow[0] != 1 || anomalyRow[1] != 0.9 || anomalyRow[2] != 0 {
		t.Errorf("anomaly row = %v", anomalyRow)
	}

	info, artifact, err := h.snapshots.Latest()
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if info.Sequence != 1 || string(artifact) != "model-artifact" {
		t.Errorf("snapshot = %+v %q", info, artifact)
	}
}

func TestRunSkipsWithoutFeedback(t *testing.T) {
	h := newHarness(t, feedbackMap{})
	h.seedArtifacts(t)

	result, err := h.trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.RetrainSkipped {
		t.Errorf("status = %s, want skipped", result.Status)
	}
	if _, _, err := h.snapshots.Latest(); !errors.Is(err, repo.ErrNoSnapshot) {
		t.Error("skipped run must not publish a snapshot")
	}
}

func TestRunRequiresInputArtifacts(t *testing.T) {
	h := newHarness(t, feedbackMap{"inc-1": {IncidentID: "inc-1", Label: models.LabelTruePositive}})

	if _, err := h.trigger.Run(context.Background()); !errors.Is(err, ErrMissingInput) {
		t.Errorf("err = %v, want ErrMissingInput", err)
	}
}

func TestRunPropagatesScorerFailure(t *testing.T) {
	h := newHarness(t, feedbackMap{"inc-1": {IncidentID: "inc-1", Label: models.LabelTruePositive}})
	h.seedArtifacts(t)
	h.scorer.err = repo.ErrScorerUnavailable

	if _, err := h.trigger.Run(context.Background()); !errors.Is(err, repo.ErrScorerUnavailable) {
		t.Errorf("err = %v, want ErrScorerUnavailable", err)
	}
	if _, _, err := h.snapshots.Latest(); !errors.Is(err, repo.ErrNoSnapshot) {
		t.Error("failed fit must not publish a snapshot")
	}
}

func TestRunDecaysQuietWeights(t *testing.T) {
	verdicts := feedbackMap{"inc-1": {IncidentID: "inc-1", Label: models.LabelTruePositive}}
	h := newHarness(t, verdicts)
	h.seedArtifacts(t)

	if err := h.ledger.ApplyImmediateFeedback([]string{"quiet"}, models.LabelTruePositive); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	if _, err := h.trigger.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	quiet, _ := h.ledger.Score("quiet")
	if math.Abs(quiet-0.1*0.98) > 1e-9 {
		t.Errorf("quiet weight = %v, want decayed only", quiet)
	}
}
