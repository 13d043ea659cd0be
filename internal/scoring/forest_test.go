package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable builds a single-feature sample where positives sit far above
// negatives.
func separable(n int, rng *rand.Rand) ([][]float64, []int) {
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		if i%5 == 0 {
			y[i] = 1
			X[i] = []float64{5 + rng.Float64()}
		} else {
			X[i] = []float64{rng.Float64()}
		}
	}
	return X, y
}

func TestTrainForest_LearnsSeparableData(t *testing.T) {
	X, y := separable(200, rand.New(rand.NewSource(3)))
	f := TrainForest(ForestConfig{Trees: 50, MaxDepth: 5, Seed: 42}, X, y)
	require.NotNil(t, f)

	assert.Greater(t, f.Prob([]float64{5.5}), 0.9)
	assert.Less(t, f.Prob([]float64{0.5}), 0.1)
}

func TestTrainForest_Deterministic(t *testing.T) {
	X, y := separable(150, rand.New(rand.NewSource(9)))

	a := TrainForest(ForestConfig{Trees: 30, MaxDepth: 6, Seed: 42}, X, y)
	b := TrainForest(ForestConfig{Trees: 30, MaxDepth: 6, Seed: 42}, X, y)

	probe := [][]float64{{0.1}, {0.9}, {2.5}, {4.9}, {5.5}, {6.1}}
	assert.Equal(t, a.ProbAll(probe), b.ProbAll(probe))
}

func TestTrainForest_ProbBounds(t *testing.T) {
	X, y := separable(100, rand.New(rand.NewSource(11)))
	f := TrainForest(ForestConfig{Trees: 20, MaxDepth: 4, Seed: 1}, X, y)

	for _, v := range []float64{-10, 0, 0.5, 2.5, 5, 100} {
		p := f.Prob([]float64{v})
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestTrainForest_DegenerateInputs(t *testing.T) {
	assert.Nil(t, TrainForest(ForestConfig{Trees: 5, MaxDepth: 3, Seed: 1}, nil, nil))
	assert.Nil(t, TrainForest(ForestConfig{Trees: 5, MaxDepth: 3, Seed: 1}, [][]float64{{1}}, []int{0, 1}))

	var f *Forest
	assert.Equal(t, 0.5, f.Prob([]float64{1}))
}

func TestTrainForest_PureLabelsCollapseToLeaf(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}}
	y := []int{1, 1, 1, 1}
	f := TrainForest(ForestConfig{Trees: 10, MaxDepth: 5, Seed: 7}, X, y)
	require.NotNil(t, f)
	assert.Equal(t, 1.0, f.Prob([]float64{2.5}))
}
