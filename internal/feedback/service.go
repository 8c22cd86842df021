package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/cache"
	"github.com/sentinelstack/sentinel-correlate/internal/ledger"
	"github.com/sentinelstack/sentinel-correlate/internal/metrics"
	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
	"github.com/sentinelstack/sentinel-correlate/internal/utils"
)

// DefaultSearchK bounds similarity propagation on the immediate path.
const DefaultSearchK = 5

// Service owns the analyst-verdict log and its similarity index. A verdict is
// durable the moment the feedback entry lands; embedding and ledger
// propagation happen after and their failure never rolls the verdict back.
type Service struct {
	store     *repo.JSONStore
	index     *repo.VectorIndex
	embedder  repo.Embedder
	ledger    *ledger.Ledger
	cache     cache.Provider
	searchTTL time.Duration
	searchK   int
	logger    *slog.Logger
}

// NewService wires the feedback pipeline. cacheProvider may be nil.
func NewService(
	store *repo.JSONStore,
	index *repo.VectorIndex,
	embedder repo.Embedder,
	weightLedger *ledger.Ledger,
	cacheProvider cache.Provider,
	searchTTL time.Duration,
	searchK int,
	logger *slog.Logger,
) *Service {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if searchK <= 0 {
		searchK = DefaultSearchK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		index:     index,
		embedder:  embedder,
		ledger:    weightLedger,
		cache:     cacheProvider,
		searchTTL: searchTTL,
		searchK:   searchK,
		logger:    logger,
	}
}

// Store upserts the analyst verdict for an incident, indexes the comment, and
// runs the immediate similarity-propagated ledger update. When the embedder is
// down the verdict is still persisted and the returned error wraps
// repo.ErrEmbedderUnavailable.
func (s *Service) Store(ctx context.Context, incidentID string, label models.FeedbackLabel, comment string) (models.FeedbackEntry, error) {
	entry := models.FeedbackEntry{
		IncidentID: incidentID,
		Label:      label,
		Comment:    comment,
		Timestamp:  time.Now().UTC(),
	}

	entries := map[string]models.FeedbackEntry{}
	err := s.store.Update(&entries, func() error {
		entries[incidentID] = entry
		return nil
	})
	if err != nil {
		return models.FeedbackEntry{}, utils.NewAppError("feedback.Store", "persist verdict", err)
	}
	metrics.ObserveFeedback(string(label))

	vec, err := s.embedder.Encode(ctx, comment)
	if err != nil {
		s.logger.Warn("verdict stored without embedding",
			slog.String("incident_id", incidentID), slog.Any("error", err))
		return entry, fmt.Errorf("verdict stored, embedding skipped: %w", err)
	}

	meta := models.EmbeddingMeta{IncidentID: incidentID, Label: label, Comment: comment}
	if err := s.index.Append(vec, meta); err != nil {
		return entry, utils.NewAppError("feedback.Store", "index comment embedding", err)
	}

	// Immediate path: every incident the comment resembles is nudged, which
	// usually includes the incident itself now that its entry is indexed.
	hits, err := s.index.Search(vec, s.searchK)
	if err != nil {
		return entry, utils.NewAppError("feedback.Store", "similarity propagation", err)
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.IncidentID)
	}
	if err := s.ledger.ApplyImmediateFeedback(ids, label); err != nil {
		return entry, utils.NewAppError("feedback.Store", "apply immediate feedback", err)
	}

	return entry, nil
}

// Search embeds the query text and returns up to k nearest stored verdicts by
// cosine similarity. Results may be served from cache within the search TTL.
func (s *Service) Search(ctx context.Context, text string, k int) ([]models.SimilarFeedback, error) {
	if k <= 0 {
		k = s.searchK
	}

	cacheKey := ""
	if s.searchTTL > 0 {
		cacheKey = searchCacheKey(text, k)
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.SimilarFeedback
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	start := time.Now()
	vec, err := s.embedder.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSearch(time.Since(start))

	if cacheKey != "" && len(hits) > 0 {
		if payload, err := json.Marshal(hits); err == nil {
			_ = s.cache.Set(ctx, cacheKey, payload, s.searchTTL)
		}
	}
	return hits, nil
}

// Entries returns the full verdict log keyed by incident identifier.
func (s *Service) Entries() (map[string]models.FeedbackEntry, error) {
	entries := map[string]models.FeedbackEntry{}
	if err := s.store.Load(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func searchCacheKey(text string, k int) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("feedback:similar:%d:%s", k, hex.EncodeToString(sum[:8]))
}
