package combined

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

func newTestCombiner(mutate func(*config.Config)) *Combiner {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewCombiner(cfg.CombinedScoring, cfg.Scoring, cfg.VetoSystem.Thresholds.LowConfidence, zerolog.Nop())
}

func fieldScore(name string, class domain.TimeframeClass, auc, dir float64) domain.FieldScore {
	return domain.FieldScore{
		Field:          domain.CandidateField{Name: name},
		TimeframeClass: class,
		ROCAUC:         auc,
		Direction:      dir,
		Confirmed:      true,
	}
}

func byStrategy(t *testing.T, decisions []domain.CombinedDecision) map[domain.Strategy]domain.CombinedDecision {
	t.Helper()
	out := make(map[domain.Strategy]domain.CombinedDecision, len(decisions))
	for _, d := range decisions {
		out[d.Strategy] = d
	}
	return out
}

func TestCombine_AllStrategiesAgreeingSides(t *testing.T) {
	c := newTestCombiner(nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
		fieldScore("rd1h", domain.TimeframeHTF, 0.6, 1),
	}}

	decisions := c.Combine(ts, ev, domain.VetoResult{Blocking: true})
	require.Len(t, decisions, 5)
	d := byStrategy(t, decisions)

	// Single-field sides reduce to the field's own AUC under weighted.
	assert.InDelta(t, 0.7*0.8+0.3*0.6, d[domain.StrategyLTFPrimary].Probability, 1e-12)
	assert.InDelta(t, 0.7*0.6+0.3*0.8, d[domain.StrategyHTFPrimary].Probability, 1e-12)
	assert.InDelta(t, 0.7, d[domain.StrategyBalanced].Probability, 1e-12)
	assert.InDelta(t, (0.8*0.8+0.6*0.6)/1.4, d[domain.StrategyAdaptive].Probability, 1e-12)
	assert.InDelta(t, 0.8, d[domain.StrategyHierarchical].Probability, 1e-12)

	assert.Equal(t, 0.7, d[domain.StrategyLTFPrimary].ConfidenceBucket)
	assert.Equal(t, 0.5, d[domain.StrategyHTFPrimary].ConfidenceBucket)
	for _, dec := range decisions {
		assert.True(t, dec.Timestamp.Equal(ts))
		assert.False(t, dec.Vetoed)
	}
}

func TestCombine_EqualMeanAUCMakesAdaptiveBalanced(t *testing.T) {
	c := newTestCombiner(nil)
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd2", domain.TimeframeLTF, 0.8, 1),
		fieldScore("md2", domain.TimeframeLTF, 0.6, 1),
		fieldScore("rd1h", domain.TimeframeHTF, 0.7, 1),
		fieldScore("md1h", domain.TimeframeHTF, 0.7, 1),
	}}

	d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

	ltfProb := (0.8*0.8 + 0.6*0.6) / 1.4
	htfProb := (0.7*0.7 + 0.7*0.7) / 1.4
	assert.InDelta(t, (ltfProb+htfProb)/2, d[domain.StrategyBalanced].Probability, 1e-12)
	// Both sides carry mean AUC 0.7, so adaptive collapses to the mean too.
	assert.InDelta(t, d[domain.StrategyBalanced].Probability, d[domain.StrategyAdaptive].Probability, 1e-12)
}

func TestCombine_DirectionDisagreementDropsSecondaryTerm(t *testing.T) {
	c := newTestCombiner(nil)
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
		fieldScore("rd1h", domain.TimeframeHTF, 0.6, -1),
	}}

	d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

	assert.InDelta(t, 0.7*0.8, d[domain.StrategyLTFPrimary].Probability, 1e-12)
	assert.InDelta(t, 0.7*0.6, d[domain.StrategyHTFPrimary].Probability, 1e-12)
	assert.InDelta(t, 0.7, d[domain.StrategyBalanced].Probability, 1e-12, "balanced stays ungated")
	assert.Equal(t, 0.0, d[domain.StrategyHierarchical].Probability)
}

func TestCombine_HierarchicalNeedsBothSides(t *testing.T) {
	c := newTestCombiner(nil)
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
	}}

	d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

	assert.Equal(t, 0.0, d[domain.StrategyHierarchical].Probability, "no slow side means the gate is closed")
	assert.InDelta(t, 0.7*0.8, d[domain.StrategyLTFPrimary].Probability, 1e-12)
	assert.InDelta(t, 0.8, d[domain.StrategyAdaptive].Probability, 1e-12, "all adaptive weight shifts to the populated side")
}

func TestCombine_NoConfirmedEvidenceReportsFloor(t *testing.T) {
	c := newTestCombiner(nil)
	unconfirmed := fieldScore("rd5", domain.TimeframeLTF, 0.9, 1)
	unconfirmed.Confirmed = false
	veto := domain.VetoResult{Suppressed: true, Blocking: true}

	decisions := c.Combine(time.Now(), Evidence{Scores: []domain.FieldScore{unconfirmed}}, veto)

	require.Len(t, decisions, 5)
	for _, d := range decisions {
		assert.Equal(t, 0.3, d.Probability)
		assert.Equal(t, 0.3, d.ConfidenceBucket)
		assert.True(t, d.Vetoed)
	}
}

func TestCombine_ScenarioModeOffRunsFirstStrategyOnly(t *testing.T) {
	c := newTestCombiner(func(cfg *config.Config) {
		cfg.CombinedScoring.ScenarioBased = false
	})
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
	}}

	decisions := c.Combine(time.Now(), ev, domain.VetoResult{})

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.StrategyLTFPrimary, decisions[0].Strategy)
}

func TestCombine_VotingMethod(t *testing.T) {
	c := newTestCombiner(func(cfg *config.Config) {
		cfg.CombinedScoring.EnsembleMethods = []string{"voting"}
	})
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.7, 1),
		fieldScore("md5", domain.TimeframeLTF, 0.7, 1),
		fieldScore("cd5", domain.TimeframeLTF, 0.7, -1),
	}}

	d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

	assert.InDelta(t, 0.7*(2.0/3.0), d[domain.StrategyLTFPrimary].Probability, 1e-12)
}

func TestCombine_StackingMethod(t *testing.T) {
	mutate := func(cfg *config.Config) {
		cfg.CombinedScoring.EnsembleMethods = []string{"stacking"}
	}

	t.Run("meta forest recovers a separable signal", func(t *testing.T) {
		c := newTestCombiner(mutate)
		rows := 40
		labels := make([]int, rows)
		probsA := make([]float64, rows)
		probsB := make([]float64, rows)
		for i := 0; i < rows; i++ {
			if i%4 == 3 {
				labels[i] = 1
				probsA[i] = 0.9
				probsB[i] = 0.85
			} else {
				probsA[i] = 0.1
				probsB[i] = 0.15
			}
		}
		ev := Evidence{
			Scores: []domain.FieldScore{
				fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
				fieldScore("md5", domain.TimeframeLTF, 0.6, 1),
			},
			Probs:  map[string][]float64{"rd5": probsA, "md5": probsB},
			Labels: labels,
		}

		// With only one populated side, adaptive reports that side's
		// probability verbatim.
		first := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))
		assert.Greater(t, first[domain.StrategyAdaptive].Probability, 0.8, "last row matches the positive pattern")

		second := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))
		assert.Equal(t, first[domain.StrategyAdaptive].Probability, second[domain.StrategyAdaptive].Probability)
	})

	t.Run("missing artifacts fall back to weighted", func(t *testing.T) {
		c := newTestCombiner(mutate)
		ev := Evidence{Scores: []domain.FieldScore{
			fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
			fieldScore("md5", domain.TimeframeLTF, 0.6, 1),
		}}

		d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

		assert.InDelta(t, (0.8*0.8+0.6*0.6)/1.4, d[domain.StrategyAdaptive].Probability, 1e-12)
	})

	t.Run("misaligned probabilities fall back to weighted", func(t *testing.T) {
		c := newTestCombiner(mutate)
		ev := Evidence{
			Scores: []domain.FieldScore{
				fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
			},
			Probs:  map[string][]float64{"rd5": {0.1, 0.9}},
			Labels: []int{0, 1, 0, 1},
		}

		d := byStrategy(t, c.Combine(time.Now(), ev, domain.VetoResult{}))

		assert.InDelta(t, 0.8, d[domain.StrategyAdaptive].Probability, 1e-12)
	})
}

func TestCombine_UnconfirmedScoresDoNotContribute(t *testing.T) {
	c := newTestCombiner(nil)
	noisy := fieldScore("xx5", domain.TimeframeLTF, 0.99, -1)
	noisy.Confirmed = false
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	clean := c.Combine(ts, Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
	}}, domain.VetoResult{})
	withNoise := c.Combine(ts, Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
		noisy,
	}}, domain.VetoResult{})

	assert.Equal(t, clean, withNoise)
}

func TestCombine_VetoGatesEveryStrategy(t *testing.T) {
	ev := Evidence{Scores: []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.9, 1),
		fieldScore("rd1h", domain.TimeframeHTF, 0.9, 1),
	}}
	flags := []domain.VetoFlag{{Rule: domain.VetoHighVolatility, Triggered: true}}

	t.Run("blocking", func(t *testing.T) {
		c := newTestCombiner(nil)
		decisions := c.Combine(time.Now(), ev, domain.VetoResult{Flags: flags, Blocking: true})
		for _, d := range decisions {
			assert.True(t, d.Vetoed)
			assert.Greater(t, d.Probability, 0.0, "probability survives for audit")
		}
	})

	t.Run("observe only", func(t *testing.T) {
		c := newTestCombiner(nil)
		decisions := c.Combine(time.Now(), ev, domain.VetoResult{Flags: flags, Blocking: false})
		for _, d := range decisions {
			assert.False(t, d.Vetoed)
		}
	})
}

func TestAggregate_SingleBalancedDecision(t *testing.T) {
	c := newTestCombiner(nil)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	d := c.Aggregate(ts, []domain.FieldScore{
		fieldScore("rd5", domain.TimeframeLTF, 0.8, 1),
		fieldScore("vo1h", domain.TimeframeHTF, 0.6, -1),
	})

	assert.Equal(t, domain.StrategyBalanced, d.Strategy)
	assert.InDelta(t, (0.8*0.8+0.6*0.6)/1.4, d.Probability, 1e-12)
	assert.Equal(t, 0.7, d.ConfidenceBucket)
	assert.Equal(t, ts, d.Timestamp)
	assert.False(t, d.Vetoed)
}

func TestAggregate_NoEvidenceReportsFloor(t *testing.T) {
	c := newTestCombiner(nil)

	d := c.Aggregate(time.Now(), nil)

	assert.Equal(t, 0.3, d.Probability)
	assert.Equal(t, 0.3, d.ConfidenceBucket)
}

func TestBucket_GreatestTierAtOrBelow(t *testing.T) {
	c := newTestCombiner(nil)

	assert.Equal(t, 0.0, c.bucket(0.29))
	assert.Equal(t, 0.3, c.bucket(0.3))
	assert.Equal(t, 0.5, c.bucket(0.69))
	assert.Equal(t, 0.9, c.bucket(0.95))
	assert.Equal(t, 0.9, c.bucket(1.0))
}
