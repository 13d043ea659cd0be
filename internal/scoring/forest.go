package scoring

import (
	"math"
	"math/rand"
	"sort"
)

// ForestConfig sizes a deterministic random forest. Every tree derives its
// own rng from Seed plus the tree index, so training is reproducible for a
// fixed configuration and input.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	Seed     int64
}

// minLeafSamples stops splitting once a node gets this small.
const minLeafSamples = 2

type treeNode struct {
	feature int
	value   float64
	left    *treeNode
	right   *treeNode
	prob    float64
}

func (n *treeNode) leaf() bool { return n.left == nil }

type decisionTree struct {
	root *treeNode
}

// Forest is a bagged ensemble of depth-limited CART trees with gini splits
// and sqrt feature subsampling.
type Forest struct {
	trees    []decisionTree
	features int
}

// TrainForest fits cfg.Trees trees on bootstrap resamples of X. X is
// row-major; y holds 0/1 labels of the same length. A nil forest is returned
// for empty or mismatched input.
func TrainForest(cfg ForestConfig, X [][]float64, y []int) *Forest {
	n := len(X)
	if n == 0 || len(y) != n || len(X[0]) == 0 {
		return nil
	}
	d := len(X[0])
	if cfg.Trees <= 0 {
		cfg.Trees = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}

	f := &Forest{trees: make([]decisionTree, cfg.Trees), features: d}
	sub := int(math.Sqrt(float64(d)))
	if sub < 1 {
		sub = 1
	}
	for t := 0; t < cfg.Trees; t++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(t)))
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		f.trees[t] = decisionTree{root: growNode(X, y, idx, 0, cfg.MaxDepth, sub, rng)}
	}
	return f
}

// Prob returns the mean positive-class probability across all trees.
func (f *Forest) Prob(x []float64) float64 {
	if f == nil || len(f.trees) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, t := range f.trees {
		node := t.root
		for !node.leaf() {
			if x[node.feature] <= node.value {
				node = node.left
			} else {
				node = node.right
			}
		}
		sum += node.prob
	}
	return sum / float64(len(f.trees))
}

// ProbAll scores every row of X.
func (f *Forest) ProbAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.Prob(x)
	}
	return out
}

func growNode(X [][]float64, y []int, idx []int, depth, maxDepth, sub int, rng *rand.Rand) *treeNode {
	m := len(idx)
	pos := 0
	for _, i := range idx {
		pos += y[i]
	}
	node := &treeNode{prob: float64(pos) / float64(m)}
	if depth >= maxDepth || pos == 0 || pos == m || m < minLeafSamples {
		return node
	}

	feature, value, ok := bestSplit(X, y, idx, sub, rng)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= value {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}

	node.feature = feature
	node.value = value
	node.left = growNode(X, y, left, depth+1, maxDepth, sub, rng)
	node.right = growNode(X, y, right, depth+1, maxDepth, sub, rng)
	return node
}

// bestSplit scans a random feature subset for the gini-optimal cut. Ties
// resolve to the first candidate in rng order, keeping training
// deterministic for a fixed seed.
func bestSplit(X [][]float64, y []int, idx []int, sub int, rng *rand.Rand) (int, float64, bool) {
	m := len(idx)
	total := 0
	for _, i := range idx {
		total += y[i]
	}
	parent := giniImpurity(total, m)

	bestGain := 0.0
	bestFeature := -1
	bestValue := 0.0

	perm := rng.Perm(len(X[0]))
	if sub < len(perm) {
		perm = perm[:sub]
	}

	vals := make([]float64, m)
	order := make([]int, m)
	for _, feature := range perm {
		for k, i := range idx {
			vals[k] = X[i][feature]
			order[k] = k
		}
		sort.SliceStable(order, func(a, b int) bool { return vals[order[a]] < vals[order[b]] })

		leftPos, leftCount := 0, 0
		for k := 0; k < m-1; k++ {
			i := idx[order[k]]
			leftPos += y[i]
			leftCount++
			cur, next := vals[order[k]], vals[order[k+1]]
			if cur == next {
				continue
			}
			rightPos := total - leftPos
			rightCount := m - leftCount
			weighted := (float64(leftCount)*giniImpurity(leftPos, leftCount) +
				float64(rightCount)*giniImpurity(rightPos, rightCount)) / float64(m)
			if gain := parent - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestValue = (cur + next) / 2
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestValue, true
}

func giniImpurity(pos, count int) float64 {
	if count == 0 {
		return 0
	}
	p := float64(pos) / float64(count)
	return 2 * p * (1 - p)
}
