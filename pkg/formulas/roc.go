package formulas

import (
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ROCAUC computes the area under the ROC curve for scores against boolean
// class labels (true = positive). Degenerate inputs (empty, single class)
// return 0.5, the no-skill value.
func ROCAUC(scores []float64, classes []bool) float64 {
	if len(scores) == 0 || len(scores) != len(classes) {
		return 0.5
	}
	pos := 0
	for _, c := range classes {
		if c {
			pos++
		}
	}
	if pos == 0 || pos == len(classes) {
		return 0.5
	}

	y := make([]float64, len(scores))
	copy(y, scores)
	cls := make([]bool, len(classes))
	copy(cls, classes)

	stat.SortWeightedLabeled(y, cls, nil)
	tpr, fpr, _ := stat.ROC(nil, y, cls, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// YoudenThreshold returns the cutoff maximizing Youden's J (TPR - FPR).
// Falls back to the score mean when the inputs are degenerate.
func YoudenThreshold(scores []float64, classes []bool) float64 {
	if len(scores) == 0 || len(scores) != len(classes) {
		return 0
	}
	pos := 0
	for _, c := range classes {
		if c {
			pos++
		}
	}
	if pos == 0 || pos == len(classes) {
		return Mean(scores)
	}

	y := make([]float64, len(scores))
	copy(y, scores)
	cls := make([]bool, len(classes))
	copy(cls, classes)

	stat.SortWeightedLabeled(y, cls, nil)
	tpr, fpr, thresh := stat.ROC(nil, y, cls, nil)

	best := 0
	bestJ := tpr[0] - fpr[0]
	for i := 1; i < len(tpr); i++ {
		if j := tpr[i] - fpr[i]; j > bestJ {
			bestJ = j
			best = i
		}
	}
	return thresh[best]
}
