package events

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/tremor/internal/domain"
)

// extremum is a significant local high or low.
type extremum struct {
	index  int
	price  float64
	isHigh bool
}

// extremaOrders are the neighborhood sizes used to find local highs/lows.
var extremaOrders = []int{5, 10, 15, 20}

// findSignificantExtrema locates local highs/lows across several neighborhood
// sizes, deduplicates them and keeps only those whose move from the previous
// kept extremum is at least minMovePct percent.
func findSignificantExtrema(series *domain.Series, minMovePct float64) []extremum {
	n := series.Len()
	type key struct {
		index  int
		isHigh bool
	}
	seen := make(map[key]bool)
	var raw []extremum

	for _, order := range extremaOrders {
		if n < 2*order+1 {
			continue
		}
		for i := order; i < n-order; i++ {
			if isLocalHigh(series.Bars, i, order) && !seen[key{i, true}] {
				seen[key{i, true}] = true
				raw = append(raw, extremum{index: i, price: series.Bars[i].High, isHigh: true})
			}
			if isLocalLow(series.Bars, i, order) && !seen[key{i, false}] {
				seen[key{i, false}] = true
				raw = append(raw, extremum{index: i, price: series.Bars[i].Low, isHigh: false})
			}
		}
	}

	sortExtrema(raw)

	var kept []extremum
	for _, e := range raw {
		if len(kept) == 0 {
			kept = append(kept, e)
			continue
		}
		prev := kept[len(kept)-1]
		if prev.price == 0 {
			continue
		}
		move := math.Abs((e.price-prev.price)/prev.price) * 100
		if move >= minMovePct {
			kept = append(kept, e)
		}
	}
	return kept
}

func isLocalHigh(bars []domain.Bar, i, order int) bool {
	for j := i - order; j <= i+order; j++ {
		if j == i {
			continue
		}
		if bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isLocalLow(bars []domain.Bar, i, order int) bool {
	for j := i - order; j <= i+order; j++ {
		if j == i {
			continue
		}
		if bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

func sortExtrema(ex []extremum) {
	sort.SliceStable(ex, func(i, j int) bool { return ex[i].index < ex[j].index })
}

// detectRetracements follows each extremum forward: while the counter-move
// keeps extending, the retracement grows; the first bar that fails to extend
// it ends the retracement. A move that makes a new extremum never counts. The
// result is sized into the configured half-open level buckets.
func (d *Detector) detectRetracements(series *domain.Series, extrema []extremum) []domain.Event {
	if len(extrema) == 0 || len(d.adv.RetracementLevels) == 0 {
		return nil
	}
	maxBars := d.windowBars(series, d.adv.RetracementTimeWindow[1])

	var out []domain.Event
	for _, ex := range extrema {
		start := ex.index + 1
		if start >= series.Len() {
			continue
		}
		end := ex.index + maxBars
		if end > series.Len() {
			end = series.Len()
		}

		maxRetr := 0.0
		endIdx := -1
		counter := ex.price
		for i := start; i < end; i++ {
			bar := series.Bars[i]
			if ex.isHigh {
				pct := (ex.price - bar.Low) / ex.price * 100
				if bar.Low <= counter {
					counter = bar.Low
					if pct > maxRetr {
						maxRetr = pct
						endIdx = i
					}
				} else if maxRetr > 0 {
					endIdx = i
					break
				}
			} else {
				pct := (bar.High - ex.price) / ex.price * 100
				if bar.High >= counter {
					counter = bar.High
					if pct > maxRetr {
						maxRetr = pct
						endIdx = i
					}
				} else if maxRetr > 0 {
					endIdx = i
					break
				}
			}
		}

		if maxRetr < d.adv.RetracementLevels[0] || endIdx < 0 {
			continue
		}
		level := classifyRetracement(maxRetr, d.adv.RetracementLevels)
		out = append(out, domain.Event{
			Timestamp:        series.Bars[endIdx].Timestamp,
			Index:            endIdx,
			Type:             domain.EventRetracement,
			Strength:         maxRetr / d.adv.RetracementLevels[0],
			RetracementLevel: level,
			TimeframeClass:   series.Class,
		})
	}
	return dedupByWindow(out, d.cfg.Window)
}

// classifyRetracement buckets a percentage into the highest level it reaches;
// buckets are half-open, so 4% with levels [2,3,5,7,10] lands on 3.
func classifyRetracement(pct float64, levels []float64) float64 {
	for i := len(levels) - 1; i >= 0; i-- {
		if pct >= levels[i] {
			return levels[i]
		}
	}
	return levels[0]
}

// detectCulminations fires when an extremum is followed by a sustained
// reversal: at least culminationMinMovePct of travel with a stable majority
// of closes in the reversal direction.
func (d *Detector) detectCulminations(series *domain.Series, extrema []extremum) []domain.Event {
	var out []domain.Event
	n := series.Len()

	for _, ex := range extrema {
		look := culminationLookforward
		if remaining := n - ex.index - 1; remaining < look {
			look = remaining
		}
		if look < culminationMinLookahead {
			continue
		}

		future := series.Bars[ex.index+1 : ex.index+1+look]
		var movePct, stability float64
		if ex.isHigh {
			low := future[0].Low
			for _, b := range future {
				if b.Low < low {
					low = b.Low
				}
			}
			movePct = (ex.price - low) / ex.price * 100
			stability = closeStability(future, false)
		} else {
			high := future[0].High
			for _, b := range future {
				if b.High > high {
					high = b.High
				}
			}
			movePct = (high - ex.price) / ex.price * 100
			stability = closeStability(future, true)
		}

		if movePct < culminationMinMovePct || stability <= culminationMinStability {
			continue
		}
		strength := math.Min(movePct/10*stability, 1.0)
		if strength < d.adv.CulminationThreshold {
			continue
		}
		out = append(out, domain.Event{
			Timestamp:      series.Bars[ex.index].Timestamp,
			Index:          ex.index,
			Type:           domain.EventCulmination,
			Strength:       strength / d.adv.CulminationThreshold,
			TimeframeClass: series.Class,
		})
	}
	return dedupByWindow(out, d.cfg.Window)
}

// closeStability is the fraction of bars closing in the given direction.
func closeStability(bars []domain.Bar, up bool) float64 {
	if len(bars) < 2 {
		return 0
	}
	moves := 0
	for i := 1; i < len(bars); i++ {
		diff := bars[i].Close - bars[i-1].Close
		if up && diff > 0 {
			moves++
		}
		if !up && diff < 0 {
			moves++
		}
	}
	return float64(moves) / float64(len(bars)-1)
}

// detectConsolidations fires where the price range stays inside
// consolidationRangeMaxPct and mean true-range volatility sits below the
// configured ceiling for a full detection window.
func (d *Detector) detectConsolidations(series *domain.Series) []domain.Event {
	n := series.Len()
	window := d.cfg.Window / 2
	if window < 4 {
		window = 4
	}
	if n < 2*window {
		return nil
	}

	tr := trueRanges(series.Bars)
	var out []domain.Event

	for i := window; i < n-window; i++ {
		lo, hi := i-window/2, i+window/2
		high := series.Bars[lo].High
		low := series.Bars[lo].Low
		var closeSum, trSum float64
		for j := lo; j < hi; j++ {
			b := series.Bars[j]
			if b.High > high {
				high = b.High
			}
			if b.Low < low {
				low = b.Low
			}
			closeSum += b.Close
			trSum += tr[j]
		}
		avgClose := closeSum / float64(hi-lo)
		if avgClose <= 0 {
			continue
		}
		rangePct := (high - low) / avgClose * 100
		volPct := trSum / float64(hi-lo) / avgClose * 100

		// A window with zero travel carries no information; consolidation
		// means low volatility, not absent data variation.
		if volPct <= 0 {
			continue
		}
		if rangePct >= consolidationRangeMaxPct || volPct >= d.adv.ConsolidationVolatilityThreshold {
			continue
		}
		out = append(out, domain.Event{
			Timestamp:      series.Bars[i].Timestamp,
			Index:          i,
			Type:           domain.EventConsolidation,
			Strength:       math.Min(d.adv.ConsolidationVolatilityThreshold/volPct, 10),
			TimeframeClass: series.Class,
		})
	}
	return dedupByWindow(out, d.cfg.Window)
}

// trueRanges computes the classic true range per bar; the first bar falls
// back to its own high-low span.
func trueRanges(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			out[i] = hl
			continue
		}
		prev := bars[i-1].Close
		out[i] = math.Max(hl, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
	}
	return out
}

// dedupByWindow keeps the first event of each cluster so no two events of the
// same type sit within one detection window.
func dedupByWindow(evts []domain.Event, window int) []domain.Event {
	if len(evts) <= 1 {
		return evts
	}
	kept := evts[:1]
	for _, ev := range evts[1:] {
		if ev.Index-kept[len(kept)-1].Index >= window {
			kept = append(kept, ev)
		}
	}
	return kept
}

// windowBars converts a minute span to a bar count using the series interval,
// falling back to the raw count when the interval is unknown.
func (d *Detector) windowBars(series *domain.Series, minutes int) int {
	if series.Interval <= 0 {
		return minutes
	}
	bars := int(time.Duration(minutes) * time.Minute / series.Interval)
	if bars < 1 {
		bars = 1
	}
	return bars
}
