package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeSkipped labels retraining runs with nothing to learn.
	OutcomeSkipped = "skipped"
)

var (
	correlationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_correlate",
			Name:      "correlation_runs_total",
			Help:      "Total correlation runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	incidentsPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_correlate",
			Name:      "incidents_per_run",
			Help:      "Number of incidents produced by a correlation run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_correlate",
			Name:      "feedback_total",
			Help:      "Analyst verdicts received, partitioned by label.",
		},
		[]string{"label"},
	)

	searchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_correlate",
			Name:      "similarity_search_seconds",
			Help:      "Similarity search latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	retrainTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_correlate",
			Name:      "retrain_total",
			Help:      "Retraining runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel_correlate",
			Name:      "ledger_entries",
			Help:      "Number of incident identifiers tracked by the weight ledger.",
		},
	)
)

// Register attaches the engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		correlationRunsTotal,
		incidentsPerRun,
		feedbackTotal,
		searchSeconds,
		retrainTotal,
		ledgerEntries,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCorrelation records one correlation run.
func ObserveCorrelation(incidents int, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	correlationRunsTotal.WithLabelValues(label).Inc()
	if label == OutcomeSuccess {
		incidentsPerRun.Observe(float64(incidents))
	}
}

// ObserveFeedback records one analyst verdict.
func ObserveFeedback(label string) {
	feedbackTotal.WithLabelValues(label).Inc()
}

// ObserveSearch records a similarity search duration.
func ObserveSearch(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	searchSeconds.Observe(duration.Seconds())
}

// ObserveRetrain records one retraining run outcome.
func ObserveRetrain(outcome string) {
	switch outcome {
	case OutcomeError, OutcomeSkipped:
	default:
		outcome = OutcomeSuccess
	}
	retrainTotal.WithLabelValues(outcome).Inc()
}

// SetLedgerSize publishes the current ledger cardinality.
func SetLedgerSize(n int) {
	ledgerEntries.Set(float64(n))
}
