package patterns

import (
	"log/slog"
	"sort"
	"time"

	"github.com/sentinelstack/sentinel-correlate/internal/models"
)

// Miner aggregates incident history into per-key hotspots so operators can
// see which user/host/ip combinations keep producing incidents.
type Miner struct {
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger}
}

// Mine groups incidents by their correlation key and returns hotspots sorted
// by incident count, ties broken by peak score. Uncorrelated incidents are
// excluded; their keys carry no entity information worth surfacing.
func (m *Miner) Mine(incidents []models.Incident) []models.KeyHotspot {
	if len(incidents) == 0 {
		return nil
	}

	stats := make(map[string]*keyAggregate)
	for _, incident := range incidents {
		if incident.Uncorrelated {
			continue
		}
		agg, ok := stats[incident.Key]
		if !ok {
			agg = &keyAggregate{sources: make(map[string]int)}
			stats[incident.Key] = agg
		}
		agg.incidents++
		agg.events += incident.EventCount()
		if incident.Score > agg.peakScore {
			agg.peakScore = incident.Score
		}
		if incident.EndTime != nil && incident.EndTime.After(agg.lastSeen) {
			agg.lastSeen = *incident.EndTime
		}
		for _, event := range incident.Events {
			if event.Source != "" {
				agg.sources[event.Source]++
			}
		}
	}

	hotspots := make([]models.KeyHotspot, 0, len(stats))
	for key, agg := range stats {
		hotspots = append(hotspots, models.KeyHotspot{
			Key:       key,
			Incidents: agg.incidents,
			Events:    agg.events,
			PeakScore: agg.peakScore,
			Sources:   agg.topSources(3),
			LastSeen:  agg.lastSeen,
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Incidents != hotspots[j].Incidents {
			return hotspots[i].Incidents > hotspots[j].Incidents
		}
		if hotspots[i].PeakScore != hotspots[j].PeakScore {
			return hotspots[i].PeakScore > hotspots[j].PeakScore
		}
		return hotspots[i].Key < hotspots[j].Key
	})

	m.logger.Debug("mined key hotspots",
		slog.Int("incidents", len(incidents)), slog.Int("hotspots", len(hotspots)))
	return hotspots
}

type keyAggregate struct {
	incidents int
	events    int
	peakScore float64
	lastSeen  time.Time
	sources   map[string]int
}

func (agg *keyAggregate) topSources(limit int) []string {
	sources := make([]string, 0, len(agg.sources))
	for src := range agg.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if agg.sources[sources[i]] != agg.sources[sources[j]] {
			return agg.sources[sources[i]] > agg.sources[sources[j]]
		}
		return sources[i] < sources[j]
	})
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources
}
