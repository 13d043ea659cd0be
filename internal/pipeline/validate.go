package pipeline

import (
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/features"
	"github.com/aristath/tremor/internal/scoring"
)

// validateRun refits one forest over all confirmed candidates jointly and
// measures it on the validation tail. Accuracy is the share of correct
// binary predictions; lift is precision over the base positive rate, so a
// model that only repeats the class balance scores 1.0. Runs with no
// confirmed fields, or whose split collapses to one class, report the
// no-skill pair (0.5, 0) and fail the gate.
func (p *Pipeline) validateRun(candidates []features.Candidate, scores []domain.FieldScore, labels []int) (accuracy, lift float64, passed bool) {
	confirmed := make(map[string]bool)
	for _, s := range scores {
		if s.Confirmed {
			confirmed[s.Field.Key()] = true
		}
	}
	cols := make([][]float64, 0, len(confirmed))
	for _, c := range candidates {
		if confirmed[c.Key()] {
			cols = append(cols, c.Values)
		}
	}
	if len(cols) == 0 {
		return 0.5, 0, false
	}

	n := len(cols[0])
	aligned := labels[len(labels)-n:]
	split := n - int(float64(n)*p.cfg.Analysis.ValidationSplit)
	if split <= 0 || split >= n {
		return 0.5, 0, false
	}
	trainY, valY := aligned[:split], aligned[split:]
	if uniform(trainY) || uniform(valY) {
		return 0.5, 0, false
	}

	rows := func(lo, hi int) [][]float64 {
		out := make([][]float64, hi-lo)
		for i := range out {
			row := make([]float64, len(cols))
			for j, col := range cols {
				row[j] = col[lo+i]
			}
			out[i] = row
		}
		return out
	}
	forest := scoring.TrainForest(scoring.ForestConfig{
		Trees:    p.cfg.Scoring.RFNEstimators,
		MaxDepth: p.cfg.Scoring.RFMaxDepth,
		Seed:     int64(p.cfg.Scoring.RFRandomState),
	}, rows(0, split), trainY)
	probs := forest.ProbAll(rows(split, n))

	correct, tp, predPos, actPos := 0, 0, 0, 0
	for i, prob := range probs {
		pred := 0
		if prob >= 0.5 {
			pred = 1
		}
		if pred == valY[i] {
			correct++
		}
		if pred == 1 {
			predPos++
			if valY[i] == 1 {
				tp++
			}
		}
		if valY[i] == 1 {
			actPos++
		}
	}
	accuracy = float64(correct) / float64(len(valY))
	den := predPos
	if den == 0 {
		den = 1
	}
	precision := float64(tp) / float64(den)
	if baseline := float64(actPos) / float64(len(valY)); baseline > 0 {
		lift = precision / baseline
	}
	passed = accuracy >= p.cfg.Analysis.MinAccuracy && lift >= p.cfg.Analysis.MinLift

	p.log.Info().
		Int("features", len(cols)).
		Float64("accuracy", accuracy).
		Float64("lift", lift).
		Bool("passed", passed).
		Msg("run validation gate")
	return accuracy, lift, passed
}

func uniform(labels []int) bool {
	for i := 1; i < len(labels); i++ {
		if labels[i] != labels[0] {
			return false
		}
	}
	return true
}
