package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/domain"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	body := `[2024-01-15 10:00:00] o:100.0|h:101.0|l:99.0|c:100.5|12.5K| rd2-1.5 ef2--7.19 nw2-!!
[2024-01-15 10:01:00] o:100.5|h:102.0|l:100.0|c:101.8|8.0K| rd2-2.0 rd1h-3.0
garbage line without structure
[2024-01-15 10:02:00] o:101.8|h:103.0|l:101.5|c:102.5|9.1K| rd2-2.5 ef2-1.0 rd1h-3.5
`
	parser := NewLogParser(zerolog.Nop())

	series, err := parser.ParseFile(writeTemp(t, "dump.log", body))

	require.NoError(t, err)
	assert.Equal(t, "dump", series.Name)
	assert.Equal(t, 3, series.Len())
	assert.Equal(t, 1, series.Malformed)
	assert.Equal(t, time.Minute, series.Interval)
	assert.Equal(t, domain.TimeframeLTF, series.Class)

	t.Run("bar metadata", func(t *testing.T) {
		bar := series.Bars[0]
		assert.Equal(t, 100.0, bar.Open)
		assert.Equal(t, 101.0, bar.High)
		assert.Equal(t, 99.0, bar.Low)
		assert.Equal(t, 100.5, bar.Close)
		assert.Equal(t, 12500.0, bar.Volume)
	})

	t.Run("plain and double-dash values", func(t *testing.T) {
		assert.Equal(t, []float64{1.5, 2.0, 2.5}, series.Field("rd2"))
		assert.Equal(t, -7.19, series.Field("ef2")[0])
	})

	t.Run("signal tokens score by bang count", func(t *testing.T) {
		assert.Equal(t, 2.0, series.Field("nw2")[0])
	})

	t.Run("gaps forward-fill", func(t *testing.T) {
		// ef2 absent on the second line keeps the prior value
		assert.Equal(t, -7.19, series.Field("ef2")[1])
		assert.Equal(t, 1.0, series.Field("ef2")[2])
	})

	t.Run("leading gap takes first observation", func(t *testing.T) {
		assert.Equal(t, []float64{3.0, 3.0, 3.5}, series.Field("rd1h"))
	})
}

func TestParseFile_Empty(t *testing.T) {
	parser := NewLogParser(zerolog.Nop())

	series, err := parser.ParseFile(writeTemp(t, "empty.log", "# comment only\n\n"))

	require.NoError(t, err)
	assert.Equal(t, 0, series.Len())
	assert.Equal(t, 0, series.Malformed)
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"1.5", 1.5, true},
		{"-7.19", -7.19, true},
		{"--7.19", -7.19, true},
		{"3.2%", 3.2, true},
		{"!!", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNumeric(tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.raw)
		}
	}
}

func TestLoadCandles(t *testing.T) {
	body := `timestamp,open,high,low,close,volume
2024-01-15 10:00:00,100,101,99,100.5,1200
2024-01-15 11:00:00,100.5,103,100,102,900
not,a,candle,row,at,all
2024-01-15 12:00:00,102,104,101,103,1100
`
	series, err := LoadCandles(writeTemp(t, "candles.csv", body))

	require.NoError(t, err)
	assert.Equal(t, 3, series.Len())
	assert.Equal(t, 1, series.Malformed)
	assert.Equal(t, time.Hour, series.Interval)
	assert.Equal(t, domain.TimeframeHTF, series.Class)
	assert.Equal(t, 102.0, series.Bars[1].Close)
	assert.Equal(t, 900.0, series.Bars[1].Volume)
}
