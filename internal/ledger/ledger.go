package ledger

import (
	"log/slog"

	"github.com/sentinelstack/sentinel-correlate/internal/metrics"
	"github.com/sentinelstack/sentinel-correlate/internal/models"
	"github.com/sentinelstack/sentinel-correlate/internal/repo"
)

// Options tune the two weight-update paths.
type Options struct {
	// Decay shrinks prior weight on every batch update.
	Decay float64
	// ImmediateStep is the signed delta applied along similarity propagation.
	ImmediateStep float64
	// Reward is added for a direct true-positive verdict on the batch path.
	Reward float64
	// Penalty is subtracted for a direct false-positive verdict on the batch path.
	Penalty float64
}

// DefaultOptions mirror the tuning the detection side was calibrated against.
func DefaultOptions() Options {
	return Options{Decay: 0.98, ImmediateStep: 0.1, Reward: 0.2, Penalty: 0.3}
}

// Ledger maintains the per-incident adaptive weight map. Weights stay within
// [-1, 1] after every update; clipping happens before any value is persisted,
// never as a read-side correction.
//
// The two update paths are deliberately separate operations with different
// magnitudes and different identifier selection (similarity-propagated versus
// direct-only); callers choose the ordering, the ledger never merges them.
type Ledger struct {
	store  *repo.JSONStore
	logger *slog.Logger
	opts   Options
}

// New constructs a Ledger over the given store.
func New(store *repo.JSONStore, logger *slog.Logger, opts Options) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.Decay <= 0 || opts.Decay > 1 {
		opts.Decay = defaults.Decay
	}
	if opts.ImmediateStep <= 0 {
		opts.ImmediateStep = defaults.ImmediateStep
	}
	if opts.Reward <= 0 {
		opts.Reward = defaults.Reward
	}
	if opts.Penalty <= 0 {
		opts.Penalty = defaults.Penalty
	}
	return &Ledger{store: store, logger: logger, opts: opts}
}

// ApplyImmediateFeedback nudges the weight of every similarity-propagated
// incident identifier by ±ImmediateStep according to the verdict label.
func (l *Ledger) ApplyImmediateFeedback(incidentIDs []string, label models.FeedbackLabel) error {
	if len(incidentIDs) == 0 {
		return nil
	}
	delta := l.opts.ImmediateStep
	if label == models.LabelFalsePositive {
		delta = -delta
	}

	weights := map[string]float64{}
	err := l.store.Update(&weights, func() error {
		for _, id := range incidentIDs {
			weights[id] = clip(weights[id] + delta)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.SetLedgerSize(len(weights))
	l.logger.Debug("immediate feedback applied",
		slog.Int("incidents", len(incidentIDs)), slog.String("label", string(label)))
	return nil
}

// ApplyBatchDecay runs the pre-retraining update: every tracked weight decays
// by the decay factor, then identifiers with a direct verdict receive the
// reward or penalty. Incidents that stopped receiving feedback therefore
// converge toward zero instead of holding their bias forever.
func (l *Ledger) ApplyBatchDecay(feedback map[string]models.FeedbackEntry) error {
	weights := map[string]float64{}
	err := l.store.Update(&weights, func() error {
		for id, w := range weights {
			weights[id] = clip(w * l.opts.Decay)
		}
		for id, entry := range feedback {
			switch entry.Label {
			case models.LabelTruePositive:
				weights[id] = clip(weights[id] + l.opts.Reward)
			case models.LabelFalsePositive:
				weights[id] = clip(weights[id] - l.opts.Penalty)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.SetLedgerSize(len(weights))
	return nil
}

// Score returns the current weight for an incident, or 0 when untracked.
func (l *Ledger) Score(incidentID string) (float64, error) {
	weights := map[string]float64{}
	if err := l.store.Load(&weights); err != nil {
		return 0, err
	}
	return weights[incidentID], nil
}

// Weights returns a copy of the full ledger map.
func (l *Ledger) Weights() (map[string]float64, error) {
	weights := map[string]float64{}
	if err := l.store.Load(&weights); err != nil {
		return nil, err
	}
	return weights, nil
}

func clip(w float64) float64 {
	if w > 1 {
		return 1
	}
	if w < -1 {
		return -1
	}
	return w
}
