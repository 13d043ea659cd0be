package phase

import (
	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/pkg/formulas"
)

// terminal marks the end of a machine run. It is never emitted as a segment.
const terminal domain.Phase = ""

// stepFn produces the segment for the current state and names the successor
// state. ok reports whether the state applies at the cursor; when it does
// not, the machine stops without emitting.
type stepFn func(m *machine) (seg domain.PhaseSegment, next domain.Phase, ok bool)

// transitions is the full state table. Successors are chosen inside each
// step; development resolves its successor by checking consolidation before
// transition.
var transitions = map[domain.Phase]stepFn{
	domain.PhasePreparation:   stepPreparation,
	domain.PhaseCulmination:   stepCulmination,
	domain.PhaseDevelopment:   stepDevelopment,
	domain.PhaseConsolidation: stepConsolidation,
	domain.PhaseTransition:    stepTransition,
}

// machine walks the table for a single event. cursor always points at the
// first unclassified bar, floor at the end of the previous event's last
// segment and bound at the first bar owned by the next event.
type machine struct {
	cfg        config.PhaseAnalysisConfig
	eventIndex int
	eventBar   int
	floor      int
	bound      int
	activity   []float64
	volatility []float64
	cursor     int
}

func (m *machine) run() []domain.PhaseSegment {
	var segments []domain.PhaseSegment
	state := domain.PhasePreparation
	for state != terminal {
		step := transitions[state]
		seg, next, ok := step(m)
		if !ok {
			break
		}
		if seg.End > seg.Start {
			segments = append(segments, seg)
			m.cursor = seg.End
		}
		state = next
	}
	return segments
}

func (m *machine) emit(phase domain.Phase, start, end int) domain.PhaseSegment {
	return domain.PhaseSegment{
		EventIndex:    m.eventIndex,
		Phase:         phase,
		Start:         start,
		End:           end,
		Duration:      end - start,
		ActivityLevel: formulas.Mean(m.activity[start:end]),
	}
}

// stepPreparation covers the run-up to the event bar. The window opens at
// most PreparationMaxDuration bars early and is shortened to the first bar
// where activity crosses the threshold.
func stepPreparation(m *machine) (domain.PhaseSegment, domain.Phase, bool) {
	start := m.eventBar - m.cfg.PreparationMaxDuration
	if start < m.floor {
		start = m.floor
	}
	for j := start; j < m.eventBar; j++ {
		if m.activity[j] >= m.cfg.ActivityThreshold {
			start = j
			break
		}
	}
	if start >= m.eventBar {
		// Event at the very edge of this machine's territory: skip straight
		// to the culmination bar.
		m.cursor = m.eventBar
		return domain.PhaseSegment{}, domain.PhaseCulmination, true
	}
	m.cursor = start
	return m.emit(domain.PhasePreparation, start, m.eventBar), domain.PhaseCulmination, true
}

// stepCulmination always contains the event bar itself.
func stepCulmination(m *machine) (domain.PhaseSegment, domain.Phase, bool) {
	start := m.eventBar
	end := capEnd(start+m.cfg.CulminationMaxDuration, m.bound)
	if end <= start {
		return domain.PhaseSegment{}, terminal, false
	}
	return m.emit(domain.PhaseCulmination, start, end), domain.PhaseDevelopment, true
}

// stepDevelopment runs until its duration cap, the machine bound, or the
// onset of a consolidation or transition regime, whichever comes first.
// Consolidation has priority over transition. A regime opening on the very
// first bar collapses development into an empty segment, which run drops.
func stepDevelopment(m *machine) (domain.PhaseSegment, domain.Phase, bool) {
	start := m.cursor
	end := capEnd(start+m.cfg.DevelopmentMaxDuration, m.bound)
	if end <= start {
		return domain.PhaseSegment{}, terminal, false
	}

	if cut, ok := m.consolidationOnset(start, end); ok {
		return m.emit(domain.PhaseDevelopment, start, cut), domain.PhaseConsolidation, true
	}
	if cut, ok := m.transitionOnset(start, end); ok {
		return m.emit(domain.PhaseDevelopment, start, cut), domain.PhaseTransition, true
	}
	return m.emit(domain.PhaseDevelopment, start, end), terminal, true
}

// stepConsolidation emits the low-volatility stretch found by
// consolidationOnset. The stretch must satisfy the minimum duration or the
// machine ends without it.
func stepConsolidation(m *machine) (domain.PhaseSegment, domain.Phase, bool) {
	start := m.cursor
	end := start
	for end < m.bound && m.volatility[end] < m.cfg.VolatilityMax {
		end++
	}
	if end-start > m.cfg.ConsolidationMaxDuration {
		end = start + m.cfg.ConsolidationMaxDuration
	}
	if end-start < m.cfg.ConsolidationMinDuration {
		return domain.PhaseSegment{}, terminal, false
	}
	return m.emit(domain.PhaseConsolidation, start, end), terminal, true
}

// stepTransition emits a bounded directionless stretch.
func stepTransition(m *machine) (domain.PhaseSegment, domain.Phase, bool) {
	start := m.cursor
	end := capEnd(start+m.cfg.TransitionMaxDuration, m.bound)
	if end <= start {
		return domain.PhaseSegment{}, terminal, false
	}
	return m.emit(domain.PhaseTransition, start, end), terminal, true
}

// consolidationOnset scans [start, end) for the first bar opening a
// low-volatility stretch long enough to satisfy ConsolidationMinDuration
// before the machine bound.
func (m *machine) consolidationOnset(start, end int) (int, bool) {
	for j := start; j < end; j++ {
		if m.volatility[j] >= m.cfg.VolatilityMax {
			continue
		}
		length := 0
		for k := j; k < m.bound && m.volatility[k] < m.cfg.VolatilityMax; k++ {
			length++
		}
		if length >= m.cfg.ConsolidationMinDuration {
			return j, true
		}
		j += length
	}
	return 0, false
}

// transitionOnset scans [start, end) for a detection window in which
// activity holds flat below the threshold. Flat means the window's activity
// spread stays under the stability threshold.
func (m *machine) transitionOnset(start, end int) (int, bool) {
	w := m.cfg.DetectionWindow
	for j := start; j+w <= end; j++ {
		window := m.activity[j : j+w]
		if formulas.Mean(window) >= m.cfg.ActivityThreshold {
			continue
		}
		if spread(window) < m.cfg.StabilityThreshold {
			return j, true
		}
	}
	return 0, false
}

func spread(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func capEnd(end, bound int) int {
	if end > bound {
		return bound
	}
	return end
}
