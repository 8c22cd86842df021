package correlator

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/utils"
)

// DefaultWindowMinutes is the advertised grouping window.
const DefaultWindowMinutes = 30

// Correlator groups scored anomaly records into incidents by identity key.
type Correlator struct {
	logger        *slog.Logger
	windowMinutes int
}

// New constructs a Correlator. windowMinutes <= 0 selects the default.
func New(logger *slog.Logger, windowMinutes int) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	return &Correlator{logger: logger, windowMinutes: windowMinutes}
}

// Correlate partitions records by exact correlation-key equality and returns one
// incident per non-empty group. Records are ordered chronologically, with
// missing timestamps sorting first.
//
// The window parameter bounds nothing today: all records sharing a key join one
// incident regardless of span. Splitting groups on gaps larger than the window
// would change incident identity for long-running actors, so the unbounded
// behaviour is kept and the window only feeds severity display.
func (c *Correlator) Correlate(records []models.AnomalyRecord) []models.Incident {
	if len(records) == 0 {
		return nil
	}

	sorted := append([]models.AnomalyRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utils.TimeLess(sorted[i].Timestamp, sorted[j].Timestamp)
	})

	groups := make(map[string][]models.AnomalyRecord)
	keys := make(map[string]models.CorrelationKey)
	order := make([]string, 0)
	for _, rec := range sorted {
		key := ExtractKey(rec)
		rendered := key.String()
		if _, seen := groups[rendered]; !seen {
			order = append(order, rendered)
			keys[rendered] = key
		}
		groups[rendered] = append(groups[rendered], rec)
	}

	incidents := make([]models.Incident, 0, len(groups))
	for _, rendered := range order {
		events := groups[rendered]
		start := events[0].Timestamp
		end := events[len(events)-1].Timestamp
		duration := utils.DurationMinutes(start, end)

		incident := models.Incident{
			IncidentID:   uuid.NewString(),
			Key:          rendered,
			Events:       events,
			Score:        severity(len(events), duration),
			StartTime:    start,
			EndTime:      end,
			DurationMins: duration,
			Uncorrelated: keys[rendered].IsEmpty(),
		}
		if incident.Uncorrelated {
			c.logger.Debug("grouped records without correlating identity",
				slog.Int("events", len(events)))
		}
		incidents = append(incidents, incident)
	}

	c.logger.Info("correlation complete",
		slog.Int("records", len(records)),
		slog.Int("incidents", len(incidents)),
		slog.Int("window_minutes", c.windowMinutes))

	return incidents
}

// severity scores an incident from its event count and span, capped at 1.0.
func severity(eventCount int, durationMins float64) float64 {
	score := 0.2*float64(eventCount) + (durationMins/60)*0.05
	if score > 1.0 {
		return 1.0
	}
	return score
}
