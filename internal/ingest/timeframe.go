package ingest

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

var reFieldName = regexp.MustCompile(`^([a-zA-Z]+)(\d+|1h|4h|1d|1w)$`)

// SplitFieldName separates an indicator column into prefix and timeframe
// suffix, e.g. "rd15" -> ("rd", "15").
func SplitFieldName(name string) (prefix, suffix string, ok bool) {
	m := reFieldName.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseTimeframe converts a suffix to its bar interval. Bare numbers are
// minutes; 1h/4h/1d/1w are the slow frames.
func ParseTimeframe(suffix string) (time.Duration, bool) {
	switch suffix {
	case "1h":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	case "1w":
		return 7 * 24 * time.Hour, true
	}
	if mins, err := strconv.Atoi(suffix); err == nil && mins > 0 {
		return time.Duration(mins) * time.Minute, true
	}
	return 0, false
}

// Separator buckets field columns and series into LTF or HTF according to the
// ltf_htf configuration.
type Separator struct {
	cfg config.LTFHTFConfig

	ltf map[string]bool
	htf map[string]bool
}

// NewSeparator builds a separator from configuration.
func NewSeparator(cfg config.LTFHTFConfig) *Separator {
	s := &Separator{
		cfg: cfg,
		ltf: make(map[string]bool),
		htf: make(map[string]bool),
	}
	for _, m := range cfg.LTFTimeframes {
		s.ltf[strconv.Itoa(m)] = true
	}
	for _, tf := range cfg.HTFTimeframes {
		s.htf[tf] = true
	}
	return s
}

// ClassForField returns the timeframe class for an indicator column. Columns
// without a recognized suffix report ok=false and are excluded from scoring.
func (s *Separator) ClassForField(name string) (domain.TimeframeClass, bool) {
	_, suffix, ok := SplitFieldName(name)
	if !ok {
		return "", false
	}
	if s.ltf[suffix] {
		return domain.TimeframeLTF, true
	}
	if s.htf[suffix] {
		return domain.TimeframeHTF, true
	}
	return "", false
}

// ApplyTemporalLagFix shifts every HTF column so the value at a row is the one
// that was actually available at that time (the previously closed slow
// candle). Without the shift, scoring would read future HTF data. Leading rows
// hold the first observed value, which is already in their past.
func (s *Separator) ApplyTemporalLagFix(series *domain.Series) {
	if !s.cfg.TemporalLagFix || series.Interval <= 0 || len(series.Bars) == 0 {
		return
	}
	for name, col := range series.Fields {
		_, suffix, ok := SplitFieldName(name)
		if !ok || !s.htf[suffix] {
			continue
		}
		htfInterval, ok := ParseTimeframe(suffix)
		if !ok || htfInterval <= series.Interval {
			continue
		}
		shift := int(htfInterval / series.Interval)
		if shift <= 0 || shift >= len(col) {
			continue
		}
		shifted := make([]float64, len(col))
		for i := range shifted {
			if i < shift {
				shifted[i] = col[0]
			} else {
				shifted[i] = col[i-shift]
			}
		}
		series.Fields[name] = shifted
	}
}

// detectInterval infers the bar interval as the median gap between
// consecutive timestamps.
func detectInterval(bars []domain.Bar) time.Duration {
	if len(bars) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp); gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// classForInterval buckets a series by its own bar interval.
func classForInterval(interval time.Duration) domain.TimeframeClass {
	if interval >= time.Hour {
		return domain.TimeframeHTF
	}
	return domain.TimeframeLTF
}
