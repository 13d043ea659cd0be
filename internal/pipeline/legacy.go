package pipeline

import (
	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

// Fixed bar windows of the simplified path: a preparation stretch before
// the event, a short culmination around it, a development tail after.
const (
	legacyPrepBars = 30
	legacyCulmBars = 5
	legacyDevBars  = 45
)

// legacyConfig trims construction-time toggles to the simplified behavior:
// basic detection only and an inert veto. The strategy machinery is never
// consulted on this path.
func legacyConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Analysis.EnableAdvancedEvents = false
	out.Analysis.EnableVetoSystem = false
	return &out
}

// legacySegments lays the three fixed windows around every event instead of
// walking the activity state machine. Windows are clamped to the series;
// windows of neighboring events may overlap.
func legacySegments(evts []domain.Event, n int) []domain.PhaseSegment {
	var out []domain.PhaseSegment
	half := legacyCulmBars / 2
	for _, e := range evts {
		windows := []struct {
			phase      domain.Phase
			start, end int
		}{
			{domain.PhasePreparation, e.Index - legacyPrepBars, e.Index},
			{domain.PhaseCulmination, e.Index - half, e.Index + half + 1},
			{domain.PhaseDevelopment, e.Index + half + 1, e.Index + half + 1 + legacyDevBars},
		}
		for _, w := range windows {
			start, end := clampBar(w.start, n), clampBar(w.end, n)
			if end <= start {
				continue
			}
			out = append(out, domain.PhaseSegment{
				EventIndex: e.Index,
				Phase:      w.phase,
				Start:      start,
				End:        end,
				Duration:   end - start,
			})
		}
	}
	return out
}

func clampBar(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
