// Package scoring evaluates each candidate field's power to anticipate
// detected events, using a deterministic forest, a tail validation split and
// k-fold cross-validation on the remainder.
package scoring

import (
	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/features"
	"github.com/aristath/tremor/pkg/formulas"
)

// minScoreRows is the smallest sample a split evaluation can work with.
const minScoreRows = 20

// Scorer evaluates one (field, timeframe) pair at a time. It is stateless
// and safe for concurrent use.
type Scorer struct {
	scoring  config.ScoringConfig
	analysis config.AnalysisConfig
	quantile float64
	log      zerolog.Logger
}

// NewScorer builds a scorer. quantile feeds the percentile threshold method
// and comes from the detection config's extreme_quantile.
func NewScorer(scoring config.ScoringConfig, analysis config.AnalysisConfig, quantile float64, log zerolog.Logger) *Scorer {
	return &Scorer{
		scoring:  scoring,
		analysis: analysis,
		quantile: quantile,
		log:      log.With().Str("component", "scoring").Logger(),
	}
}

// Evaluation is a FieldScore plus the validation-window artifacts the
// stacking ensemble consumes downstream. ValProbs rows align with ValLabels.
type Evaluation struct {
	domain.FieldScore
	ValProbs  []float64
	ValLabels []int
}

// Score evaluates a candidate against the aligned binary labels. Degenerate
// pairs come back as unconfirmed records with roc_auc 0.5 and a non-fatal
// typed error; only a broken threshold method is fatal.
func (s *Scorer) Score(cand features.Candidate, labels []int) (Evaluation, error) {
	eval := Evaluation{FieldScore: domain.FieldScore{
		Field:          cand.CandidateField,
		TimeframeClass: cand.Class,
		ROCAUC:         0.5,
	}}

	n := len(cand.Values)
	if n < minScoreRows || n != len(labels) {
		eval.SkipReason = "not enough aligned rows"
		return eval, &domain.InsufficientDataError{Needed: minScoreRows, Got: n}
	}

	split := n - int(float64(n)*s.analysis.ValidationSplit)
	if split <= 0 || split >= n {
		return s.degenerate(eval, "validation split leaves no data")
	}
	train, val := cand.Values[:split], cand.Values[split:]
	trainLabels, valLabels := labels[:split], labels[split:]

	if formulas.Variance(val) == 0 {
		return s.degenerate(eval, "zero variance in validation split")
	}
	if singleClass(trainLabels) {
		return s.degenerate(eval, "single-class training labels")
	}
	if singleClass(valLabels) {
		return s.degenerate(eval, "single-class validation labels")
	}

	cvAUC := s.crossValidate(train, trainLabels)

	forest := TrainForest(s.forestConfig(), column(train), trainLabels)
	probs := forest.ProbAll(column(val))
	eval.ROCAUC = formulas.ROCAUC(probs, boolLabels(valLabels))
	eval.ValProbs = probs
	eval.ValLabels = valLabels

	threshold, err := activationThreshold(
		s.scoring.ThresholdMethod, s.quantile, s.scoring.ThresholdStdDevs,
		absValues(train), absValues(val), valLabels,
	)
	if err != nil {
		return eval, err
	}
	eval.Threshold = threshold
	eval.ActivationCount = countActivations(absValues(cand.Values), threshold)
	eval.Direction = direction(cand.Values, labels)
	eval.Confirmed = eval.ROCAUC >= s.scoring.MinROCAUC &&
		eval.ActivationCount >= s.scoring.MinActivations

	s.log.Debug().
		Str("field", cand.Key()).
		Str("timeframe", string(cand.Class)).
		Float64("roc_auc", eval.ROCAUC).
		Float64("cv_auc", cvAUC).
		Float64("threshold", threshold).
		Int("activations", eval.ActivationCount).
		Bool("confirmed", eval.Confirmed).
		Msg("field scored")
	return eval, nil
}

func (s *Scorer) degenerate(eval Evaluation, reason string) (Evaluation, error) {
	eval.ROCAUC = 0.5
	eval.Confirmed = false
	eval.SkipReason = reason
	return eval, &domain.ScoringDegenerateError{
		Field:     eval.Field.Key(),
		Timeframe: eval.TimeframeClass,
		Reason:    reason,
	}
}

// crossValidate runs contiguous k-fold CV over the training rows and returns
// the mean fold AUC. Folds that collapse to a single class are skipped; when
// all do, the no-skill value comes back.
func (s *Scorer) crossValidate(values []float64, labels []int) float64 {
	folds := s.analysis.CVFolds
	n := len(values)
	if folds < 2 || n < folds*minLeafSamples {
		return 0.5
	}

	var aucs []float64
	for f := 0; f < folds; f++ {
		lo := f * n / folds
		hi := (f + 1) * n / folds
		if hi <= lo {
			continue
		}
		if singleClass(labels[lo:hi]) {
			continue
		}

		trainX := make([][]float64, 0, n-(hi-lo))
		trainY := make([]int, 0, n-(hi-lo))
		for i := 0; i < n; i++ {
			if i >= lo && i < hi {
				continue
			}
			trainX = append(trainX, []float64{values[i]})
			trainY = append(trainY, labels[i])
		}
		if singleClass(trainY) {
			continue
		}

		forest := TrainForest(s.forestConfig(), trainX, trainY)
		probs := forest.ProbAll(column(values[lo:hi]))
		aucs = append(aucs, formulas.ROCAUC(probs, boolLabels(labels[lo:hi])))
	}
	if len(aucs) == 0 {
		return 0.5
	}
	return formulas.Mean(aucs)
}

func (s *Scorer) forestConfig() ForestConfig {
	return ForestConfig{
		Trees:    s.scoring.RFNEstimators,
		MaxDepth: s.scoring.RFMaxDepth,
		Seed:     int64(s.scoring.RFRandomState),
	}
}

// direction is +1 when the field rises with events, -1 when it falls.
func direction(values []float64, labels []int) float64 {
	if formulas.Correlation(values, floatLabels(labels)) < 0 {
		return -1
	}
	return 1
}

func column(values []float64) [][]float64 {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	return rows
}

func boolLabels(labels []int) []bool {
	out := make([]bool, len(labels))
	for i, l := range labels {
		out[i] = l == 1
	}
	return out
}

func floatLabels(labels []int) []float64 {
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(l)
	}
	return out
}

func singleClass(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, l := range labels[1:] {
		if l != first {
			return false
		}
	}
	return true
}
