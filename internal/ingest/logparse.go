// Package ingest loads analyzer logs and candle files into immutable series.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/domain"
)

// Log lines carry candle metadata plus indicator tokens of the form
// prefix+suffix-value, e.g. rd2-1.5, ef2--7.19 (double dash = negative),
// nw2-!! (signal strength by bang count). Suffix 2/5/15/30 marks LTF frames,
// 1h/4h/1d/1w marks HTF frames.
var (
	reTimestamp = regexp.MustCompile(`\[([^\]]+)\]`)
	reOHLC      = regexp.MustCompile(`o:([0-9.]+)\|h:([0-9.]+)\|l:([0-9.]+)\|c:([0-9.]+)`)
	reVolume    = regexp.MustCompile(`\|([0-9.]+)K\|`)
	reField     = regexp.MustCompile(`([a-zA-Z]+)(\d+|1h|4h|1d|1w)-((?:!+)|(?:--?\d+(?:\.\d+)?%?)|(?:-?\d+(?:\.\d+)?%?))`)
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
}

// LogParser extracts bars and indicator columns from pipe-delimited logs.
type LogParser struct {
	log zerolog.Logger
}

// NewLogParser creates a log parser.
func NewLogParser(log zerolog.Logger) *LogParser {
	return &LogParser{log: log.With().Str("component", "ingest").Logger()}
}

// ParseFile reads a log file into a Series. Malformed lines are counted and
// skipped, never fatal. An empty or fully malformed file yields an empty
// series.
func (p *LogParser) ParseFile(path string) (*domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	series := &domain.Series{
		Name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Fields: make(map[string][]float64),
	}

	type row struct {
		bar    domain.Bar
		fields map[string]float64
	}
	var rows []row
	columns := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		bar, ok := parseBar(line)
		if !ok {
			series.Malformed++
			continue
		}

		fields := parseFields(line)
		for name := range fields {
			columns[name] = true
		}
		rows = append(rows, row{bar: bar, fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}

	series.Bars = make([]domain.Bar, len(rows))
	for i, r := range rows {
		series.Bars[i] = r.bar
	}

	// Column-orient the per-row field maps. Gaps forward-fill from the last
	// observation; leading gaps take the first observed value.
	for name := range columns {
		col := make([]float64, len(rows))
		seen := false
		last := 0.0
		firstIdx := -1
		for i, r := range rows {
			if v, ok := r.fields[name]; ok {
				if !seen {
					seen = true
					firstIdx = i
				}
				last = v
			}
			col[i] = last
		}
		if firstIdx > 0 {
			for i := 0; i < firstIdx; i++ {
				col[i] = col[firstIdx]
			}
		}
		series.Fields[name] = col
	}

	series.Interval = detectInterval(series.Bars)
	series.Class = classForInterval(series.Interval)

	p.log.Debug().
		Str("source", path).
		Int("bars", len(series.Bars)).
		Int("columns", len(columns)).
		Int("malformed", series.Malformed).
		Msg("log parsed")

	return series, nil
}

func parseBar(line string) (domain.Bar, bool) {
	var bar domain.Bar

	tsMatch := reTimestamp.FindStringSubmatch(line)
	if tsMatch == nil {
		return bar, false
	}
	ts, ok := parseTimestamp(tsMatch[1])
	if !ok {
		return bar, false
	}
	bar.Timestamp = ts

	ohlc := reOHLC.FindStringSubmatch(line)
	if ohlc == nil {
		return bar, false
	}
	var err error
	if bar.Open, err = strconv.ParseFloat(ohlc[1], 64); err != nil {
		return bar, false
	}
	if bar.High, err = strconv.ParseFloat(ohlc[2], 64); err != nil {
		return bar, false
	}
	if bar.Low, err = strconv.ParseFloat(ohlc[3], 64); err != nil {
		return bar, false
	}
	if bar.Close, err = strconv.ParseFloat(ohlc[4], 64); err != nil {
		return bar, false
	}

	if vol := reVolume.FindStringSubmatch(line); vol != nil {
		if v, err := strconv.ParseFloat(vol[1], 64); err == nil {
			bar.Volume = v * 1000
		}
	}
	return bar, true
}

func parseFields(line string) map[string]float64 {
	fields := make(map[string]float64)
	for _, m := range reField.FindAllStringSubmatch(line, -1) {
		prefix, suffix, raw := m[1], m[2], m[3]
		name := prefix + suffix

		if strings.HasPrefix(raw, "!") {
			// Signal tokens score by bang count.
			fields[name] = float64(strings.Count(raw, "!"))
			continue
		}
		if v, ok := parseNumeric(raw); ok {
			fields[name] = v
		}
	}
	return fields
}

// parseNumeric handles plain, percent-suffixed and double-dash negative
// values (ef2--7.19 means -7.19).
func parseNumeric(raw string) (float64, bool) {
	raw = strings.TrimSuffix(raw, "%")
	if strings.HasPrefix(raw, "--") {
		v, err := strconv.ParseFloat(raw[1:], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC(), true
	}
	return time.Time{}, false
}
