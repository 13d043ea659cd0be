package scoring

import "github.com/aristath/tremor/internal/domain"

// Labels builds the per-bar binary target. Event bars are positive; when
// phase segments are available, every bar of a culmination segment is
// positive too, since culmination is the window that contains its event.
func Labels(n int, events []domain.Event, segments []domain.PhaseSegment) []int {
	labels := make([]int, n)
	for _, ev := range events {
		if ev.Index >= 0 && ev.Index < n {
			labels[ev.Index] = 1
		}
	}
	for _, seg := range segments {
		if seg.Phase != domain.PhaseCulmination {
			continue
		}
		for i := seg.Start; i < seg.End && i < n; i++ {
			if i >= 0 {
				labels[i] = 1
			}
		}
	}
	return labels
}

// PositiveCount returns the number of positive labels.
func PositiveCount(labels []int) int {
	pos := 0
	for _, l := range labels {
		pos += l
	}
	return pos
}
