package pipeline

import (
	"sync"
	"time"

	"github.com/aristath/tremor/internal/bus"
)

// progressReporter throttles RUN_PROGRESS events to at most ten per second
// per run. Completion of a stage always goes through so consumers never
// miss the final count.
type progressReporter struct {
	bus   *bus.Bus
	runID string

	mu          sync.Mutex
	minInterval time.Duration
	lastReport  time.Time
}

func newProgressReporter(b *bus.Bus, runID string) *progressReporter {
	return &progressReporter{
		bus:         b,
		runID:       runID,
		minInterval: 100 * time.Millisecond,
	}
}

func (pr *progressReporter) report(stage string, current, total int, message string) {
	now := time.Now()
	pr.mu.Lock()
	if current != total && now.Sub(pr.lastReport) < pr.minInterval {
		pr.mu.Unlock()
		return
	}
	pr.lastReport = now
	pr.mu.Unlock()

	pr.bus.Publish(pr.runID, &bus.RunProgressData{
		Stage:   stage,
		Current: current,
		Total:   total,
		Message: message,
	})
}
