package scoring

import (
	"math"

	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/pkg/formulas"
)

// Threshold methods. Validation guarantees the configured value is one of
// these.
const (
	MethodPercentile  = "percentile"
	MethodStatistical = "statistical"
	MethodOptimal     = "optimal"
)

// activationThreshold derives the level a field's magnitude must cross to
// count as an activation. Percentile and statistical work on the training
// magnitudes; optimal maximizes Youden's J against the validation labels.
func activationThreshold(method string, quantile, stdDevs float64, trainAbs, valAbs []float64, valLabels []int) (float64, error) {
	switch method {
	case MethodPercentile:
		return formulas.Quantile(quantile, trainAbs), nil
	case MethodStatistical:
		return formulas.Mean(trainAbs) + stdDevs*formulas.StdDev(trainAbs), nil
	case MethodOptimal:
		classes := make([]bool, len(valLabels))
		for i, l := range valLabels {
			classes[i] = l == 1
		}
		return formulas.YoudenThreshold(valAbs, classes), nil
	default:
		return 0, domain.NewConfigurationError("scoring.threshold_method", "unknown method %q", method)
	}
}

// absValues returns the magnitudes of a column.
func absValues(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Abs(v)
	}
	return out
}

// countActivations counts magnitudes strictly above the threshold.
func countActivations(abs []float64, threshold float64) int {
	count := 0
	for _, v := range abs {
		if v > threshold {
			count++
		}
	}
	return count
}
