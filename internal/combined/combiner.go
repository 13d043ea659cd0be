// Package combined merges the confirmed LTF and HTF score sides into one
// decision per configured strategy, with veto gating applied last.
package combined

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/scoring"
)

// Weights for the primary/secondary strategies. The secondary term is
// dropped entirely when the two sides disagree on direction.
const (
	primaryWeight   = 0.7
	secondaryWeight = 0.3
)

// Evidence is everything combination needs from the scoring stage. Probs
// holds each field's validation-window probabilities keyed by
// CandidateField.Key; rows align with Labels. Both may be nil when the
// active ensemble method is not stacking.
type Evidence struct {
	Scores []domain.FieldScore
	Probs  map[string][]float64
	Labels []int
}

// side is one timeframe class reduced to a single probability plus the
// metadata the strategies weigh it by.
type side struct {
	probability float64
	direction   float64
	meanAUC     float64
	count       int
}

// Combiner turns scored evidence into per-strategy decisions. It is
// stateless and safe for concurrent use.
type Combiner struct {
	cfg        config.CombinedScoringConfig
	scoring    config.ScoringConfig
	floor      float64
	thresholds []float64
	log        zerolog.Logger
}

// NewCombiner builds a combiner. floor is the probability reported when no
// confirmed evidence exists; it comes from the veto low_confidence
// threshold so downstream consumers see the same "not enough signal" level
// in both places.
func NewCombiner(cfg config.CombinedScoringConfig, scoring config.ScoringConfig, floor float64, log zerolog.Logger) *Combiner {
	thresholds := append([]float64(nil), cfg.ConfidenceThresholds...)
	sort.Float64s(thresholds)
	return &Combiner{
		cfg:        cfg,
		scoring:    scoring,
		floor:      floor,
		thresholds: thresholds,
		log:        log.With().Str("component", "combined").Logger(),
	}
}

// Combine reduces the run's evidence to one decision per strategy.
// Decisions are emitted even when vetoed so consumers can audit what was
// blocked.
func (c *Combiner) Combine(ts time.Time, ev Evidence, veto domain.VetoResult) []domain.CombinedDecision {
	confirmed := confirmedScores(ev.Scores)
	if len(confirmed) == 0 {
		return c.floorDecisions(ts, veto)
	}

	method := domain.EnsembleWeighted
	if len(c.cfg.EnsembleMethods) > 0 {
		method = domain.EnsembleMethod(c.cfg.EnsembleMethods[0])
	}
	ltf := c.buildSide(method, classScores(confirmed, domain.TimeframeLTF), ev)
	htf := c.buildSide(method, classScores(confirmed, domain.TimeframeHTF), ev)

	strategies := c.strategies()
	out := make([]domain.CombinedDecision, 0, len(strategies))
	for _, name := range strategies {
		p := c.strategyProbability(domain.Strategy(name), ltf, htf)
		out = append(out, domain.CombinedDecision{
			Timestamp:        ts,
			Strategy:         domain.Strategy(name),
			Probability:      p,
			ConfidenceBucket: c.bucket(p),
			Vetoed:           veto.Vetoed(),
		})
	}
	c.log.Info().
		Str("method", string(method)).
		Int("confirmed", len(confirmed)).
		Float64("ltf_probability", ltf.probability).
		Float64("htf_probability", htf.probability).
		Bool("vetoed", veto.Vetoed()).
		Msg("decisions combined")
	return out
}

// Aggregate folds every confirmed score into a single balanced decision,
// ignoring the timeframe split, the strategy list and the veto gate. The
// simplified pipeline path emits this instead of Combine.
func (c *Combiner) Aggregate(ts time.Time, scores []domain.FieldScore) domain.CombinedDecision {
	p := c.floor
	if confirmed := confirmedScores(scores); len(confirmed) > 0 {
		p = weightedProbability(confirmed)
	}
	return domain.CombinedDecision{
		Timestamp:        ts,
		Strategy:         domain.StrategyBalanced,
		Probability:      p,
		ConfidenceBucket: c.bucket(p),
	}
}

// strategies returns the configured strategy list, cut to the first entry
// when scenario mode is off.
func (c *Combiner) strategies() []string {
	s := c.cfg.CombinationStrategies
	if !c.cfg.ScenarioBased && len(s) > 1 {
		s = s[:1]
	}
	return s
}

// floorDecisions reports the low-confidence floor for every strategy when
// no field survived confirmation.
func (c *Combiner) floorDecisions(ts time.Time, veto domain.VetoResult) []domain.CombinedDecision {
	strategies := c.strategies()
	out := make([]domain.CombinedDecision, 0, len(strategies))
	for _, name := range strategies {
		out = append(out, domain.CombinedDecision{
			Timestamp:        ts,
			Strategy:         domain.Strategy(name),
			Probability:      c.floor,
			ConfidenceBucket: c.bucket(c.floor),
			Vetoed:           veto.Vetoed(),
		})
	}
	return out
}

// strategyProbability applies one combination strategy to the two sides.
// Cross-timeframe terms are dropped when the sides disagree on direction;
// balanced stays an ungated mean.
func (c *Combiner) strategyProbability(s domain.Strategy, ltf, htf side) float64 {
	agree := ltf.direction == 0 || htf.direction == 0 || ltf.direction == htf.direction
	switch s {
	case domain.StrategyLTFPrimary:
		p := primaryWeight * ltf.probability
		if agree {
			p += secondaryWeight * htf.probability
		}
		return p
	case domain.StrategyHTFPrimary:
		p := primaryWeight * htf.probability
		if agree {
			p += secondaryWeight * ltf.probability
		}
		return p
	case domain.StrategyBalanced:
		return 0.5*ltf.probability + 0.5*htf.probability
	case domain.StrategyAdaptive:
		w := 0.5
		if c.cfg.AdaptiveWeighting && ltf.meanAUC+htf.meanAUC > 0 {
			w = ltf.meanAUC / (ltf.meanAUC + htf.meanAUC)
		}
		return w*ltf.probability + (1-w)*htf.probability
	case domain.StrategyHierarchical:
		// The slow side acts as a gate: no HTF direction, no signal.
		if htf.count == 0 || htf.direction == 0 {
			return 0
		}
		if ltf.count == 0 || ltf.direction != htf.direction {
			return 0
		}
		return ltf.probability
	default:
		return 0
	}
}

// buildSide reduces one timeframe class to a single probability using the
// active ensemble method. Stacking falls back to weighted when its training
// artifacts are missing or degenerate.
func (c *Combiner) buildSide(method domain.EnsembleMethod, scores []domain.FieldScore, ev Evidence) side {
	s := side{count: len(scores)}
	if len(scores) == 0 {
		return s
	}

	var aucSum, net float64
	for _, sc := range scores {
		aucSum += sc.ROCAUC
		net += sc.Direction * sc.ROCAUC
	}
	s.meanAUC = aucSum / float64(len(scores))
	switch {
	case net > 0:
		s.direction = 1
	case net < 0:
		s.direction = -1
	}

	switch method {
	case domain.EnsembleVoting:
		s.probability = votingProbability(scores)
	case domain.EnsembleStacking:
		if p, ok := c.stackedProbability(scores, ev); ok {
			s.probability = p
		} else {
			c.log.Debug().Int("fields", len(scores)).Msg("stacking fell back to weighted")
			s.probability = weightedProbability(scores)
		}
	default:
		s.probability = weightedProbability(scores)
	}
	return s
}

// weightedProbability is the AUC-weighted mean of per-field probabilities,
// with each field's validation AUC standing in for its probability.
func weightedProbability(scores []domain.FieldScore) float64 {
	var num, den float64
	for _, s := range scores {
		num += s.ROCAUC * s.ROCAUC
		den += s.ROCAUC
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// votingProbability is the majority share of directional votes.
func votingProbability(scores []domain.FieldScore) float64 {
	var up, down int
	for _, s := range scores {
		if s.Direction < 0 {
			down++
		} else {
			up++
		}
	}
	major := up
	if down > major {
		major = down
	}
	return float64(major) / float64(len(scores))
}

// stackedProbability trains a meta-forest over the per-field validation
// probabilities and reads its estimate for the latest row. Field order
// follows the scores slice, so column layout is deterministic.
func (c *Combiner) stackedProbability(scores []domain.FieldScore, ev Evidence) (float64, bool) {
	rows := len(ev.Labels)
	if rows == 0 || uniformLabels(ev.Labels) {
		return 0, false
	}
	keys := make([]string, 0, len(scores))
	for _, s := range scores {
		key := s.Field.Key()
		if probs, ok := ev.Probs[key]; !ok || len(probs) != rows {
			return 0, false
		}
		keys = append(keys, key)
	}

	x := make([][]float64, rows)
	for i := range x {
		row := make([]float64, len(keys))
		for j, key := range keys {
			row[j] = ev.Probs[key][i]
		}
		x[i] = row
	}
	forest := scoring.TrainForest(scoring.ForestConfig{
		Trees:    c.scoring.RFNEstimators,
		MaxDepth: c.scoring.RFMaxDepth,
		Seed:     int64(c.scoring.RFRandomState),
	}, x, ev.Labels)
	if forest == nil {
		return 0, false
	}
	return forest.Prob(x[rows-1]), true
}

// bucket maps a probability to the greatest configured confidence tier at
// or below it, or 0 when it clears none.
func (c *Combiner) bucket(p float64) float64 {
	for i := len(c.thresholds) - 1; i >= 0; i-- {
		if p >= c.thresholds[i] {
			return c.thresholds[i]
		}
	}
	return 0
}

func confirmedScores(scores []domain.FieldScore) []domain.FieldScore {
	out := make([]domain.FieldScore, 0, len(scores))
	for _, s := range scores {
		if s.Confirmed {
			out = append(out, s)
		}
	}
	return out
}

func classScores(scores []domain.FieldScore, class domain.TimeframeClass) []domain.FieldScore {
	out := make([]domain.FieldScore, 0, len(scores))
	for _, s := range scores {
		if s.TimeframeClass == class {
			out = append(out, s)
		}
	}
	return out
}

func uniformLabels(labels []int) bool {
	for _, l := range labels[1:] {
		if l != labels[0] {
			return false
		}
	}
	return true
}
