package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/tremor/internal/domain"
)

// LoadCandles reads a CSV candle file with a
// timestamp,open,high,low,close,volume header into a Series. Rows that fail to
// parse are counted as malformed and skipped.
func LoadCandles(path string) (*domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	series := &domain.Series{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			series.Malformed++
			continue
		}
		if first {
			first = false
			if looksLikeHeader(record) {
				continue
			}
		}
		bar, ok := parseCandleRow(record)
		if !ok {
			series.Malformed++
			continue
		}
		series.Bars = append(series.Bars, bar)
	}

	series.Interval = detectInterval(series.Bars)
	series.Class = classForInterval(series.Interval)
	return series, nil
}

func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(record[0], 64)
	if err == nil {
		return false
	}
	_, ok := parseTimestamp(record[0])
	return !ok
}

func parseCandleRow(record []string) (domain.Bar, bool) {
	var bar domain.Bar
	if len(record) < 5 {
		return bar, false
	}

	ts, ok := parseTimestamp(strings.TrimSpace(record[0]))
	if !ok {
		return bar, false
	}
	bar.Timestamp = ts

	vals := make([]float64, 0, 5)
	for _, raw := range record[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return bar, false
		}
		vals = append(vals, v)
		if len(vals) == 5 {
			break
		}
	}
	if len(vals) < 4 {
		return bar, false
	}

	bar.Open, bar.High, bar.Low, bar.Close = vals[0], vals[1], vals[2], vals[3]
	if len(vals) == 5 {
		bar.Volume = vals[4]
	}
	return bar, true
}

// Load picks the parser by extension: .csv for candle files, anything else is
// treated as an analyzer log.
func Load(path string, parser *LogParser) (*domain.Series, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return LoadCandles(path)
	}
	return parser.ParseFile(path)
}
