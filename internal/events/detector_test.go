package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	cfg := config.Default()
	return NewDetector(cfg.EventDetection, cfg.AdvancedEvents, true, zerolog.Nop())
}

// flatSeries builds n identical bars one minute apart.
func flatSeries(n int) *domain.Series {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 100, Low: 100, Close: 100,
			Volume: 1000,
		}
	}
	return &domain.Series{
		Name:     "flat",
		Interval: time.Minute,
		Class:    domain.TimeframeLTF,
		Bars:     bars,
	}
}

func eventsOfType(evts []domain.Event, et domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range evts {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func TestDetect_FlatSeriesYieldsNothing(t *testing.T) {
	d := newTestDetector(t)

	evts := d.Detect(flatSeries(200))

	assert.Empty(t, evts)
}

func TestDetect_ShortSeriesYieldsNothing(t *testing.T) {
	d := newTestDetector(t)

	evts := d.Detect(flatSeries(5))

	assert.Empty(t, evts)
}

func TestDetect_SingleVolatilitySpike(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(100)
	// one bar with a 10% range, closes unchanged
	series.Bars[40].High = 105
	series.Bars[40].Low = 95

	evts := d.Detect(series)

	vol := eventsOfType(evts, domain.EventVolatility)
	require.Len(t, vol, 1)
	assert.Equal(t, 40, vol[0].Index)
	assert.Equal(t, series.Bars[40].Timestamp, vol[0].Timestamp)
	assert.InDelta(t, 5.0, vol[0].Strength, 1e-9) // 10% range over a 2% threshold
	assert.Equal(t, domain.TimeframeLTF, vol[0].TimeframeClass)
}

func TestDetect_DeduplicatesWithinWindow(t *testing.T) {
	d := newTestDetector(t)

	t.Run("two spikes inside one window merge", func(t *testing.T) {
		series := flatSeries(160)
		for _, i := range []int{60, 65} {
			series.Bars[i].High = 105
			series.Bars[i].Low = 95
		}
		evts := d.Detect(series)
		assert.Len(t, eventsOfType(evts, domain.EventVolatility), 1)
	})

	t.Run("spikes a window apart stay separate", func(t *testing.T) {
		series := flatSeries(160)
		for _, i := range []int{60, 90} {
			series.Bars[i].High = 105
			series.Bars[i].Low = 95
		}
		evts := d.Detect(series)
		assert.Len(t, eventsOfType(evts, domain.EventVolatility), 2)
	})
}

func TestDetect_VolumeSpike(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(120)
	// jitter volumes so the rolling deviation is nonzero
	for i := range series.Bars {
		if i%2 == 0 {
			series.Bars[i].Volume = 1050
		}
	}
	series.Bars[80].Volume = 250000

	evts := d.Detect(series)

	vol := eventsOfType(evts, domain.EventVolume)
	require.Len(t, vol, 1)
	assert.Equal(t, 80, vol[0].Index)
}

func TestDetect_RetracementBucketsHalfOpen(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(80)

	// local high at bar 30, then lows stepping down to a 4.0% pullback that
	// ends when a bar fails to make a new low
	series.Bars[30].High = 105
	lows := []float64{103, 102, 101.5, 100.8}
	for k, low := range lows {
		i := 31 + k
		series.Bars[i].Low = low
		series.Bars[i].Close = low + 0.1
		series.Bars[i].Open = low + 0.2
		series.Bars[i].High = low + 0.4
	}
	series.Bars[35].Low = 101.5
	series.Bars[35].High = 101.9
	series.Bars[35].Open = 101.6
	series.Bars[35].Close = 101.8

	evts := d.Detect(series)

	retr := eventsOfType(evts, domain.EventRetracement)
	require.Len(t, retr, 1)
	// (105 - 100.8) / 105 = 4.0%, inside [3,5) => level 3
	assert.Equal(t, 3.0, retr[0].RetracementLevel)
	assert.Equal(t, 35, retr[0].Index)
}

func TestDetect_CulminationAfterSustainedReversal(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(120)

	// ramp to a peak at bar 50, then a steady 12% decline
	for i := 20; i <= 50; i++ {
		price := 100 + float64(i-20)*0.35
		series.Bars[i].Open = price - 0.1
		series.Bars[i].Close = price
		series.Bars[i].High = price + 0.2
		series.Bars[i].Low = price - 0.3
	}
	peak := series.Bars[50].High
	for i := 51; i < 110; i++ {
		price := peak * (1 - 0.004*float64(i-50))
		series.Bars[i].Open = price + 0.1
		series.Bars[i].Close = price
		series.Bars[i].High = price + 0.2
		series.Bars[i].Low = price - 0.2
	}

	evts := d.Detect(series)

	culm := eventsOfType(evts, domain.EventCulmination)
	require.NotEmpty(t, culm)
	assert.Equal(t, 50, culm[0].Index)
	assert.GreaterOrEqual(t, culm[0].Strength, 1.0)
}

func TestDetect_ConsolidationInQuietZone(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(120)

	// active first half
	for i := 20; i < 60; i++ {
		swing := 3.0
		if i%2 == 0 {
			swing = -3.0
		}
		series.Bars[i].Close = 100 + swing
		series.Bars[i].High = 100 + swing + 1
		series.Bars[i].Low = 100 + swing - 1
	}
	// tight quiet zone with tiny but nonzero travel
	for i := 60; i < 120; i++ {
		tick := 0.02
		if i%2 == 0 {
			tick = -0.02
		}
		series.Bars[i].Close = 100 + tick
		series.Bars[i].High = 100 + tick + 0.03
		series.Bars[i].Low = 100 + tick - 0.03
	}

	evts := d.Detect(series)

	cons := eventsOfType(evts, domain.EventConsolidation)
	require.NotEmpty(t, cons)
	assert.GreaterOrEqual(t, cons[0].Index, 60)
}

func TestDetect_OutputOrdered(t *testing.T) {
	d := newTestDetector(t)
	series := flatSeries(200)
	for _, i := range []int{40, 80, 120, 160} {
		series.Bars[i].High = 106
		series.Bars[i].Low = 94
	}

	evts := d.Detect(series)

	for i := 1; i < len(evts); i++ {
		assert.LessOrEqual(t, evts[i-1].Index, evts[i].Index)
	}
}

func TestClassifyRetracement(t *testing.T) {
	levels := []float64{2, 3, 5, 7, 10}
	cases := map[float64]float64{
		2.0:  2,
		2.9:  2,
		3.0:  3,
		4.0:  3,
		4.99: 3,
		5.0:  5,
		6.5:  5,
		7.0:  7,
		9.9:  7,
		10.0: 10,
		25.0: 10,
	}
	for pct, want := range cases {
		assert.Equal(t, want, classifyRetracement(pct, levels), "pct=%v", pct)
	}
}
