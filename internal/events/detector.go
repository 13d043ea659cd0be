// Package events detects discrete market events in a series using
// threshold/quantile rules plus retracement, culmination and consolidation
// analysis.
package events

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/pkg/formulas"
)

// Strength is reported as the ratio of the observed metric to its trigger
// threshold, so 1.0 marks a bare trigger and min_event_strength=1.0 keeps
// everything that fired.
const (
	// trailingQuantileSpan is the number of trailing observations (in
	// multiples of the detection window) forming the empirical distribution
	// for the extreme-quantile gate.
	trailingQuantileSpan = 5

	// consolidationRangeMaxPct bounds the high-low range of a consolidation
	// window relative to its mean close.
	consolidationRangeMaxPct = 3.0

	// culminationMinMovePct and culminationMinStability are the floor
	// criteria for a sustained reversal after an extremum.
	culminationMinMovePct   = 5.0
	culminationMinStability = 0.6
	culminationLookforward  = 50
	culminationMinLookahead = 10
)

var typeOrder = map[domain.EventType]int{
	domain.EventVolatility:    0,
	domain.EventVolume:        1,
	domain.EventPriceChange:   2,
	domain.EventRetracement:   3,
	domain.EventCulmination:   4,
	domain.EventConsolidation: 5,
}

// Detector scans a series and emits events. It is stateless across series;
// one instance serves concurrent runs.
type Detector struct {
	cfg      config.EventDetectionConfig
	adv      config.AdvancedEventsConfig
	advanced bool
	log      zerolog.Logger
}

// NewDetector creates a detector. enableAdvanced switches the retracement,
// culmination and consolidation rules on.
func NewDetector(cfg config.EventDetectionConfig, adv config.AdvancedEventsConfig, enableAdvanced bool, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		adv:      adv,
		advanced: enableAdvanced,
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Detect returns the time-ordered, deduplicated event sequence for one
// series. A series shorter than the detection window yields an empty result,
// never an error.
func (d *Detector) Detect(series *domain.Series) []domain.Event {
	n := series.Len()
	if n < d.cfg.Window {
		d.log.Debug().
			Str("series", series.Name).
			Int("bars", n).
			Int("window", d.cfg.Window).
			Msg("series shorter than detection window, no events")
		return nil
	}

	var all []domain.Event
	all = append(all, d.detectVolatility(series)...)
	all = append(all, d.detectVolume(series)...)
	all = append(all, d.detectPriceChange(series)...)

	if d.advanced {
		extrema := findSignificantExtrema(series, d.adv.MinExtremumMove)
		all = append(all, d.detectRetracements(series, extrema)...)
		all = append(all, d.detectCulminations(series, extrema)...)
		all = append(all, d.detectConsolidations(series)...)
	}

	kept := all[:0]
	for _, ev := range all {
		if ev.Strength >= d.cfg.MinEventStrength {
			kept = append(kept, ev)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Index != kept[j].Index {
			return kept[i].Index < kept[j].Index
		}
		return typeOrder[kept[i].Type] < typeOrder[kept[j].Type]
	})

	d.log.Debug().
		Str("series", series.Name).
		Int("events", len(kept)).
		Msg("detection complete")
	return kept
}

// detectVolatility fires on bars whose range volatility exceeds the threshold
// and sits at or above the extreme quantile of its trailing distribution.
func (d *Detector) detectVolatility(series *domain.Series) []domain.Event {
	metric := barVolatility(series.Bars)
	return d.thresholdEvents(series, metric, d.cfg.VolatilityThreshold, domain.EventVolatility)
}

// detectVolume fires on z-scores of log-volume against the rolling window.
func (d *Detector) detectVolume(series *domain.Series) []domain.Event {
	logVol := formulas.Log1p(series.Volumes())
	means := formulas.RollingMean(logVol, d.cfg.Window)
	stds := formulas.RollingStdDev(logVol, d.cfg.Window)

	metric := make([]float64, len(logVol))
	for i := range logVol {
		if i < d.cfg.Window-1 {
			continue
		}
		metric[i] = formulas.ZScore(logVol[i], means[i], stds[i])
	}
	return d.thresholdEvents(series, metric, d.cfg.VolumeThreshold, domain.EventVolume)
}

// detectPriceChange fires on absolute single-bar percentage moves.
func (d *Detector) detectPriceChange(series *domain.Series) []domain.Event {
	roc := formulas.RateOfChange(series.Closes(), 1)
	metric := make([]float64, len(roc))
	for i, v := range roc {
		metric[i] = math.Abs(v)
	}
	return d.thresholdEvents(series, metric, d.cfg.PriceChangeThreshold, domain.EventPriceChange)
}

// thresholdEvents applies the shared rule: metric above threshold AND at or
// above the extreme quantile of the trailing distribution, deduplicated so no
// two events of one type share a detection window.
func (d *Detector) thresholdEvents(series *domain.Series, metric []float64, threshold float64, et domain.EventType) []domain.Event {
	var out []domain.Event
	span := d.cfg.Window * trailingQuantileSpan
	lastKept := -d.cfg.Window

	for i := d.cfg.Window; i < len(metric); i++ {
		if metric[i] <= threshold {
			continue
		}
		lo := i - span
		if lo < 0 {
			lo = 0
		}
		q := formulas.Quantile(d.cfg.ExtremeQuantile, metric[lo:i+1])
		if metric[i] < q {
			continue
		}
		if i-lastKept < d.cfg.Window {
			continue
		}
		lastKept = i
		out = append(out, domain.Event{
			Timestamp:      series.Bars[i].Timestamp,
			Index:          i,
			Type:           et,
			Strength:       metric[i] / threshold,
			TimeframeClass: series.Class,
		})
	}
	return out
}

// barVolatility is the per-bar range volatility (high-low)/open in percent.
func barVolatility(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		if b.Open > 0 {
			out[i] = (b.High - b.Low) / b.Open * 100
		}
	}
	return out
}
