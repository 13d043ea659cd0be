package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestROCAUC(t *testing.T) {
	t.Run("perfect separation", func(t *testing.T) {
		auc := ROCAUC([]float64{0.1, 0.2, 0.8, 0.9}, []bool{false, false, true, true})
		assert.InDelta(t, 1.0, auc, 1e-9)
	})

	t.Run("inverted separation", func(t *testing.T) {
		auc := ROCAUC([]float64{0.1, 0.2, 0.8, 0.9}, []bool{true, true, false, false})
		assert.InDelta(t, 0.0, auc, 1e-9)
	})

	t.Run("single class is no-skill", func(t *testing.T) {
		assert.Equal(t, 0.5, ROCAUC([]float64{0.1, 0.2}, []bool{true, true}))
		assert.Equal(t, 0.5, ROCAUC([]float64{0.1, 0.2}, []bool{false, false}))
	})

	t.Run("empty is no-skill", func(t *testing.T) {
		assert.Equal(t, 0.5, ROCAUC(nil, nil))
	})

	t.Run("input order does not matter", func(t *testing.T) {
		a := ROCAUC([]float64{0.9, 0.1, 0.8, 0.2}, []bool{true, false, true, false})
		b := ROCAUC([]float64{0.1, 0.2, 0.8, 0.9}, []bool{false, false, true, true})
		assert.InDelta(t, a, b, 1e-9)
	})
}

func TestYoudenThreshold(t *testing.T) {
	scores := []float64{0.1, 0.15, 0.2, 0.75, 0.8, 0.9}
	classes := []bool{false, false, false, true, true, true}

	th := YoudenThreshold(scores, classes)

	// the best cutoff sits between the two clusters
	assert.Greater(t, th, 0.2)
	assert.LessOrEqual(t, th, 0.75)

	t.Run("single class falls back to mean", func(t *testing.T) {
		th := YoudenThreshold([]float64{1, 2, 3}, []bool{true, true, true})
		assert.Equal(t, 2.0, th)
	})
}
