// Package phase assigns the timeline around each detected event to one of
// five temporal phases using an explicit state-transition table.
package phase

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/pkg/formulas"
)

// Classifier anchors a phase state machine on every event and emits the
// resulting contiguous, non-overlapping segments.
type Classifier struct {
	cfg config.PhaseAnalysisConfig
	log zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(cfg config.PhaseAnalysisConfig, log zerolog.Logger) *Classifier {
	return &Classifier{
		cfg: cfg,
		log: log.With().Str("component", "phase").Logger(),
	}
}

// Classify runs the machine once per event. Each machine is bounded by the
// start of the next event's preparation window, so segments across events
// never overlap.
func (c *Classifier) Classify(series *domain.Series, events []domain.Event) []domain.PhaseSegment {
	if series.Len() == 0 || len(events) == 0 {
		return nil
	}

	activity := activityCurve(series, c.cfg.DetectionWindow)
	volatility := volatilityCurve(series, c.cfg.DetectionWindow)

	var segments []domain.PhaseSegment
	floor := 0
	for i, ev := range events {
		if ev.Index < floor || ev.Index >= series.Len() {
			// The bar already belongs to an earlier event's segments.
			continue
		}

		// The machine owns at least the event bar itself; beyond that it
		// yields to the next event's preparation window.
		bound := series.Len()
		if i+1 < len(events) {
			next := events[i+1].Index - c.cfg.PreparationMaxDuration
			if next < ev.Index+1 {
				next = ev.Index + 1
			}
			if next < bound {
				bound = next
			}
		}

		m := &machine{
			cfg:        c.cfg,
			eventIndex: i,
			eventBar:   ev.Index,
			floor:      floor,
			bound:      bound,
			activity:   activity,
			volatility: volatility,
		}
		segs := m.run()
		if len(segs) > 0 {
			floor = segs[len(segs)-1].End
			segments = append(segments, segs...)
		}
	}

	c.log.Debug().
		Int("events", len(events)).
		Int("segments", len(segments)).
		Msg("phase classification complete")
	return segments
}

// activityCurve is a 0..1 composite of absolute price change and relative
// volume, smoothed over the detection window.
func activityCurve(series *domain.Series, window int) []float64 {
	n := series.Len()
	raw := make([]float64, n)

	roc := formulas.RateOfChange(series.Closes(), 1)
	volumes := series.Volumes()
	volMeans := formulas.RollingMean(volumes, window)

	for i := 0; i < n; i++ {
		move := formulas.Clamp(math.Abs(roc[i]), 0, 1)
		volScore := 0.0
		if volMeans[i] > 0 {
			volScore = formulas.Clamp(volumes[i]/volMeans[i]/2, 0, 1)
		}
		raw[i] = 0.5*move + 0.5*volScore
	}

	smoothed := formulas.RollingMean(raw, window)
	for i := 0; i < n && i < window-1; i++ {
		smoothed[i] = raw[i]
	}
	return smoothed
}

// CurrentVolatility reports the latest smoothed true-range volatility in
// percent, the level the veto engine compares against its limit.
func CurrentVolatility(series *domain.Series, window int) float64 {
	if series.Len() == 0 {
		return 0
	}
	curve := volatilityCurve(series, window)
	return curve[len(curve)-1]
}

// volatilityCurve is the mean true-range volatility in percent over the
// detection window.
func volatilityCurve(series *domain.Series, window int) []float64 {
	n := series.Len()
	tr := make([]float64, n)
	for i, b := range series.Bars {
		hl := b.High - b.Low
		if i > 0 {
			prev := series.Bars[i-1].Close
			hl = math.Max(hl, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		if b.Close > 0 {
			tr[i] = hl / b.Close * 100
		}
	}
	smoothed := formulas.RollingMean(tr, window)
	for i := 0; i < n && i < window-1; i++ {
		smoothed[i] = tr[i]
	}
	return smoothed
}
