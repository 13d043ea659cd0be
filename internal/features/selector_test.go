package features

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

// suffixClasses mimics the ingest separator: minute suffixes are LTF,
// hour and day suffixes HTF.
type suffixClasses struct{}

func (suffixClasses) ClassForField(name string) (domain.TimeframeClass, bool) {
	if strings.HasSuffix(name, "1h") || strings.HasSuffix(name, "4h") ||
		strings.HasSuffix(name, "1d") || strings.HasSuffix(name, "1w") {
		return domain.TimeframeHTF, true
	}
	return domain.TimeframeLTF, true
}

// rejectingClasses refuses any field ending in 9, mimicking a suffix the
// separator does not know.
type rejectingClasses struct{}

func (rejectingClasses) ClassForField(name string) (domain.TimeframeClass, bool) {
	if strings.HasSuffix(name, "9") {
		return "", false
	}
	return domain.TimeframeLTF, true
}

func fieldSeries(n int, fields map[string][]float64) *domain.Series {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      100, High: 100.1, Low: 99.9, Close: 100,
			Volume: 1000,
		}
	}
	return &domain.Series{
		Name:     "fields",
		Interval: time.Minute,
		Class:    domain.TimeframeLTF,
		Bars:     bars,
		Fields:   fields,
	}
}

func linear(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func alternating(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func noisy(n int, amp float64, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * rng.Float64()
	}
	return out
}

func newTestSelector(cfg config.FeatureSelectionConfig, analysisMax int) *Selector {
	return NewSelector(cfg, analysisMax, config.DefaultFieldGroups(), suffixClasses{}, zerolog.Nop())
}

func TestSelect_VarianceFilterDropsFlatColumns(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 0
	s := newTestSelector(cfg, 100)

	series := fieldSeries(60, map[string][]float64{
		"rd5": linear(60, 0),
		"cd5": constant(60, 5),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "rd5", cands[0].Name)
	assert.Equal(t, "group_1", cands[0].Group)
}

func TestSelect_GreedyCorrelationDedup(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 2
	s := newTestSelector(cfg, 100)

	n := 80
	series := fieldSeries(n, map[string][]float64{
		"rd5": linear(n, 0),
		"md5": linear(n, 1), // perfectly correlated with rd5
		"ef2": alternating(n),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)

	// md5 precedes rd5 alphabetically, so it is the keeper of the linear
	// family; every lag of a line correlates perfectly with it. The
	// alternating column keeps only lag 0: shifting it by one flips the
	// sign, which is still |corr| = 1.
	require.Len(t, cands, 2)
	assert.Equal(t, "md5", cands[0].Name)
	assert.Equal(t, 0, cands[0].Lag)
	assert.Equal(t, "ef2", cands[1].Name)
	assert.Equal(t, 0, cands[1].Lag)
}

func TestSelect_CapPrefersHighVariance(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 0
	cfg.MaxFeatures = 50
	s := newTestSelector(cfg, 5) // run-wide cap wins

	rng := rand.New(rand.NewSource(42))
	n := 100
	series := fieldSeries(n, map[string][]float64{
		"ef2": noisy(n, 1, rng),
		"nw2": noisy(n, 2, rng),
		"vc2": noisy(n, 4, rng),
		"wv2": noisy(n, 8, rng),
		"ze2": noisy(n, 16, rng),
		"bs2": noisy(n, 32, rng),
		"pd2": noisy(n, 64, rng),
		"wa2": noisy(n, 128, rng),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	require.Len(t, cands, 5)

	// The three lowest-amplitude columns lose; survivors keep walk order.
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
		assert.Equal(t, i, c.ID)
	}
	assert.Equal(t, []string{"wv2", "ze2", "bs2", "pd2", "wa2"}, names)
}

func TestSelect_LagViewsAlign(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 2
	cfg.CorrelationThreshold = 1.1 // keep every lag for this test
	s := newTestSelector(cfg, 100)

	n := 20
	series := fieldSeries(n, map[string][]float64{
		"rd5": linear(n, 10),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	for _, c := range cands {
		require.Len(t, c.Values, n-2)
	}
	// Row zero of the aligned window is bar 2: lag k reads k bars back.
	assert.Equal(t, 12.0, cands[0].Values[0])
	assert.Equal(t, 11.0, cands[1].Values[0])
	assert.Equal(t, 10.0, cands[2].Values[0])
	assert.Equal(t, 1, cands[1].Lag)
	assert.Equal(t, "rd5[lag=1]", cands[1].Key())
}

func TestSelect_UnknownPrefixSkipped(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 0
	s := newTestSelector(cfg, 100)

	series := fieldSeries(40, map[string][]float64{
		"zz9": linear(40, 0),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestSelect_UnrecognizedTimeframeSkipped(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 0
	s := NewSelector(cfg, 100, config.DefaultFieldGroups(), rejectingClasses{}, zerolog.Nop())

	series := fieldSeries(40, map[string][]float64{
		"rd9": linear(40, 0),
		"rd5": linear(40, 1),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "rd5", cands[0].Name)
}

func TestSelect_TimeframeClassPassthrough(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 0
	s := newTestSelector(cfg, 100)

	rng := rand.New(rand.NewSource(7))
	n := 60
	series := fieldSeries(n, map[string][]float64{
		"ef2":  noisy(n, 1, rng),
		"ef1h": noisy(n, 5, rng),
	})

	cands, err := s.Select(series)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	byName := map[string]domain.TimeframeClass{}
	for _, c := range cands {
		byName[c.Name] = c.Class
	}
	assert.Equal(t, domain.TimeframeHTF, byName["ef1h"])
	assert.Equal(t, domain.TimeframeLTF, byName["ef2"])
}

func TestSelect_ShortSeriesFails(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 2
	s := newTestSelector(cfg, 100)

	series := fieldSeries(11, map[string][]float64{
		"rd5": linear(11, 0),
	})

	_, err := s.Select(series)
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.False(t, domain.IsFatal(err))
}

func TestSelect_Deterministic(t *testing.T) {
	cfg := config.Default().FeatureSelection
	cfg.MaxLags = 3
	s := newTestSelector(cfg, 100)

	rng := rand.New(rand.NewSource(99))
	n := 120
	series := fieldSeries(n, map[string][]float64{
		"rd5": noisy(n, 2, rng),
		"ef2": noisy(n, 3, rng),
		"bs2": noisy(n, 4, rng),
	})

	first, err := s.Select(series)
	require.NoError(t, err)
	second, err := s.Select(series)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
