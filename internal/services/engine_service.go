package services

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/correlator"
	"github.com/sentinelstack/sentinel-correlate/internal/feedback"
	"github.com/sentinelstack/sentinel-correlate/internal/ledger"
	"github.com/sentinelstack/sentinel-correlate/internal/metrics"
	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/patterns"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
	"github.com/sentinelstack/sentinel-correlate/internal/retrain"
	"github.com/sentinelstack/sentinel-correlate/internal/utils"
)

// EngineService is the facade the transport layer talks to. It orchestrates
// correlation runs, feedback handling, weight lookups, retraining, and
// pattern mining over the underlying packages.
type EngineService struct {
	logger     *slog.Logger
	correlator *correlator.Correlator
	artifacts  *repo.ArtifactRepo
	feedback   *feedback.Service
	ledger     *ledger.Ledger
	retrainer  *retrain.Trigger
	miner      *patterns.Miner
	latencies  *utils.LatencyTracker
}

// NewEngineService constructs the facade.
func NewEngineService(
	logger *slog.Logger,
	corr *correlator.Correlator,
	artifacts *repo.ArtifactRepo,
	feedbackSvc *feedback.Service,
	weightLedger *ledger.Ledger,
	retrainer *retrain.Trigger,
	miner *patterns.Miner,
) *EngineService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineService{
		logger:     logger,
		correlator: corr,
		artifacts:  artifacts,
		feedback:   feedbackSvc,
		ledger:     weightLedger,
		retrainer:  retrainer,
		miner:      miner,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// Correlate runs one correlation pass. Records posted in the request take
// precedence; otherwise the newest anomaly batch on disk is used. The window
// override, when positive, replaces the configured grouping window for this
// run only.
func (s *EngineService) Correlate(ctx context.Context, req models.CorrelateRequest) (models.CorrelateResponse, error) {
	records := req.Records
	if len(records) == 0 {
		loaded, err := s.artifacts.LatestAnomalies()
		if err != nil {
			if errors.Is(err, repo.ErrNoArtifact) {
				return models.CorrelateResponse{Incidents: []models.Incident{}}, nil
			}
			metrics.ObserveCorrelation(0, metrics.OutcomeError)
			return models.CorrelateResponse{}, err
		}
		records = loaded
	}

	corr := s.correlator
	if req.WindowMinutes > 0 {
		corr = correlator.New(s.logger, req.WindowMinutes)
	}

	start := time.Now()
	incidents := corr.Correlate(records)
	duration := time.Since(start)

	artifact, err := s.artifacts.SaveIncidents(incidents)
	if err != nil {
		metrics.ObserveCorrelation(len(incidents), metrics.OutcomeError)
		s.logger.Error("incident artifact save failed", slog.Any("error", err))
		return models.CorrelateResponse{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveCorrelation(len(incidents), metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("correlation latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	s.logger.Info("correlation run complete",
		slog.Int("records", len(records)),
		slog.Int("incidents", len(incidents)),
		slog.String("artifact", filepath.Base(artifact)))

	return models.CorrelateResponse{Incidents: incidents, Artifact: filepath.Base(artifact)}, nil
}

// Incidents returns the most recent incident artifact, or an empty slice when
// no run has completed yet.
func (s *EngineService) Incidents() ([]models.Incident, error) {
	incidents, err := s.artifacts.LatestIncidents()
	if err != nil {
		if errors.Is(err, repo.ErrNoArtifact) {
			return []models.Incident{}, nil
		}
		return nil, err
	}
	return incidents, nil
}

// SubmitFeedback records an analyst verdict and returns the stored entry. The
// degraded flag reports that the verdict was persisted but its embedding (and
// therefore similarity propagation) was skipped.
func (s *EngineService) SubmitFeedback(ctx context.Context, req models.FeedbackRequest) (models.FeedbackEntry, bool, error) {
	label, err := models.ParseFeedbackLabel(req.Label)
	if err != nil {
		return models.FeedbackEntry{}, false, err
	}

	entry, err := s.feedback.Store(ctx, req.IncidentID, label, req.Comment)
	if err != nil {
		if errors.Is(err, repo.ErrEmbedderUnavailable) {
			s.logger.Warn("feedback stored without embedding",
				slog.String("incident_id", req.IncidentID), slog.Any("error", err))
			return entry, true, nil
		}
		return models.FeedbackEntry{}, false, err
	}
	return entry, false, nil
}

// SimilarFeedback finds historical verdicts semantically close to the query.
func (s *EngineService) SimilarFeedback(ctx context.Context, text string, k int) ([]models.SimilarFeedback, error) {
	return s.feedback.Search(ctx, text, k)
}

// Weight returns the current ledger weight for an incident. Unknown incidents
// report the neutral weight of zero.
func (s *EngineService) Weight(incidentID string) (float64, error) {
	return s.ledger.Score(incidentID)
}

// Retrain executes one retraining pass.
func (s *EngineService) Retrain(ctx context.Context) (models.RetrainResult, error) {
	return s.retrainer.Run(ctx)
}

// Patterns mines key hotspots from the full incident history. An empty
// history yields an empty slice.
func (s *EngineService) Patterns() ([]models.KeyHotspot, error) {
	incidents, err := s.artifacts.AllIncidents()
	if err != nil {
		if errors.Is(err, repo.ErrNoArtifact) {
			return []models.KeyHotspot{}, nil
		}
		return nil, err
	}
	hotspots := s.miner.Mine(incidents)
	if hotspots == nil {
		hotspots = []models.KeyHotspot{}
	}
	return hotspots, nil
}

// LatencyP95 reports the current p95 correlation latency.
func (s *EngineService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}
