package veto

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

func scoresWithDirections(up, down int) []domain.FieldScore {
	var out []domain.FieldScore
	for i := 0; i < up; i++ {
		out = append(out, domain.FieldScore{Confirmed: true, Direction: 1})
	}
	for i := 0; i < down; i++ {
		out = append(out, domain.FieldScore{Confirmed: true, Direction: -1})
	}
	return out
}

func newTestEngine(blocking bool) *Engine {
	cfg := config.Default().VetoSystem
	cfg.EnableBlocking = blocking
	return NewEngine(cfg, zerolog.Nop())
}

func TestEvaluate_HighVolatilityInclusiveBoundary(t *testing.T) {
	e := newTestEngine(false)

	atLimit := e.Evaluate(Inputs{Volatility: 3.0, TopProbability: 0.5})
	assert.True(t, atLimit.Triggered(domain.VetoHighVolatility))

	below := e.Evaluate(Inputs{Volatility: 2.99, TopProbability: 0.5})
	assert.False(t, below.Triggered(domain.VetoHighVolatility))
}

func TestEvaluate_ConflictingSignalsBoundary(t *testing.T) {
	e := newTestEngine(false)

	// 13 up / 7 down puts 14 of 20 confirmed fields in disagreeing pairs:
	// exactly the 0.7 default, which must fire.
	exact := e.Evaluate(Inputs{
		Scores:         scoresWithDirections(13, 7),
		TopProbability: 0.5,
	})
	assert.True(t, exact.Triggered(domain.VetoConflictingSignals))

	// 14 up / 6 down is 0.6: under the limit.
	under := e.Evaluate(Inputs{
		Scores:         scoresWithDirections(14, 6),
		TopProbability: 0.5,
	})
	assert.False(t, under.Triggered(domain.VetoConflictingSignals))
}

func TestEvaluate_NoConfirmedFieldsNoConflict(t *testing.T) {
	e := newTestEngine(false)

	unconfirmed := []domain.FieldScore{{Confirmed: false, Direction: 1}}
	got := e.Evaluate(Inputs{Scores: unconfirmed, TopProbability: 0.5})

	assert.False(t, got.Triggered(domain.VetoConflictingSignals))
	assert.True(t, got.Suppressed, "no confirmed signals cannot confirm a decision")
}

func TestEvaluate_LowConfidenceStrictlyBelow(t *testing.T) {
	e := newTestEngine(false)

	below := e.Evaluate(Inputs{Scores: scoresWithDirections(3, 0), TopProbability: 0.29})
	assert.True(t, below.Triggered(domain.VetoLowConfidence))

	atFloor := e.Evaluate(Inputs{Scores: scoresWithDirections(3, 0), TopProbability: 0.3})
	assert.False(t, atFloor.Triggered(domain.VetoLowConfidence))
}

func TestEvaluate_SuppressionNeedsAgreeingSignals(t *testing.T) {
	e := newTestEngine(false)

	// One field up, one down: neither side reaches min_confirming_signals=2.
	split := e.Evaluate(Inputs{Scores: scoresWithDirections(1, 1), TopProbability: 0.5})
	assert.True(t, split.Suppressed)

	agreeing := e.Evaluate(Inputs{Scores: scoresWithDirections(2, 1), TopProbability: 0.5})
	assert.False(t, agreeing.Suppressed)
}

func TestEvaluate_ObserveOnlyNeverVetoes(t *testing.T) {
	e := newTestEngine(false)

	got := e.Evaluate(Inputs{Volatility: 10, TopProbability: 0.01})
	require.True(t, got.Triggered(domain.VetoHighVolatility))
	require.True(t, got.Triggered(domain.VetoLowConfidence))
	assert.False(t, got.Vetoed(), "blocking disabled reports but never suppresses")
}

func TestEvaluate_BlockingModeVetoes(t *testing.T) {
	e := newTestEngine(true)

	got := e.Evaluate(Inputs{
		Scores:         scoresWithDirections(3, 0),
		Volatility:     10,
		TopProbability: 0.9,
	})
	assert.True(t, got.Vetoed())

	calm := e.Evaluate(Inputs{
		Scores:         scoresWithDirections(3, 0),
		Volatility:     1.0,
		TopProbability: 0.9,
	})
	assert.False(t, calm.Vetoed())
}

func TestEvaluate_FlagsAlwaysComplete(t *testing.T) {
	e := newTestEngine(false)

	got := e.Evaluate(Inputs{})
	require.Len(t, got.Flags, 3)
	for _, f := range got.Flags {
		assert.NotEmpty(t, f.Evidence)
	}
}
