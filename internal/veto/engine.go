// Package veto evaluates hard-stop conditions independent of scoring.
package veto

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
)

// Engine applies the three veto rules plus the confirming-signal floor to
// one evaluation window.
type Engine struct {
	cfg config.VetoSystemConfig
	log zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg config.VetoSystemConfig, log zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg,
		log: log.With().Str("component", "veto").Logger(),
	}
}

// Inputs describes the window under evaluation. Volatility is the current
// rolling true-range volatility in percent; TopProbability the best combined
// probability produced so far.
type Inputs struct {
	Scores         []domain.FieldScore
	Volatility     float64
	TopProbability float64
}

// Evaluate runs every rule. All flags are always computed; whether they can
// suppress anything depends on the blocking switch.
func (e *Engine) Evaluate(in Inputs) domain.VetoResult {
	up, down := directionVotes(in.Scores)
	total := up + down
	disagreement := disagreementFraction(up, down)

	flags := []domain.VetoFlag{
		{
			Rule:      domain.VetoHighVolatility,
			Triggered: in.Volatility >= e.cfg.Thresholds.HighVolatility,
			Evidence: fmt.Sprintf("volatility %.2f%% against limit %.2f%%",
				in.Volatility, e.cfg.Thresholds.HighVolatility),
		},
		{
			Rule:      domain.VetoConflictingSignals,
			Triggered: total > 0 && disagreement >= e.cfg.Thresholds.ConflictingSignals,
			Evidence: fmt.Sprintf("disagreement %.2f (%d up / %d down) against limit %.2f",
				disagreement, up, down, e.cfg.Thresholds.ConflictingSignals),
		},
		{
			Rule:      domain.VetoLowConfidence,
			Triggered: in.TopProbability < e.cfg.Thresholds.LowConfidence,
			Evidence: fmt.Sprintf("top probability %.3f against floor %.3f",
				in.TopProbability, e.cfg.Thresholds.LowConfidence),
		},
	}

	agreeing := up
	if down > agreeing {
		agreeing = down
	}
	result := domain.VetoResult{
		Flags:      flags,
		Suppressed: agreeing < e.cfg.MinConfirmingSignals,
		Blocking:   e.cfg.EnableBlocking,
	}

	e.log.Debug().
		Bool("high_volatility", flags[0].Triggered).
		Bool("conflicting_signals", flags[1].Triggered).
		Bool("low_confidence", flags[2].Triggered).
		Bool("suppressed", result.Suppressed).
		Bool("blocking", result.Blocking).
		Msg("veto evaluated")
	return result
}

// directionVotes counts confirmed fields by predicted direction.
func directionVotes(scores []domain.FieldScore) (up, down int) {
	for _, s := range scores {
		if !s.Confirmed {
			continue
		}
		if s.Direction < 0 {
			down++
		} else {
			up++
		}
	}
	return up, down
}

// disagreementFraction is the share of confirmed fields caught in a
// directional conflict: each up/down pair puts two fields in disagreement,
// so a 13/7 split yields exactly 0.7.
func disagreementFraction(up, down int) float64 {
	total := up + down
	if total == 0 {
		return 0
	}
	minority := up
	if down < minority {
		minority = down
	}
	return 2 * float64(minority) / float64(total)
}
