package learn

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Tree is a binary regression tree stored as parallel node arrays.
// Feature is -1 on leaves.
type Tree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"`
}

// Predict walks the tree for one sample.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for t.Feature[i] >= 0 {
		if x[t.Feature[i]] <= t.Threshold[i] {
			i = t.Left[i]
		} else {
			i = t.Right[i]
		}
	}
	return t.Value[i]
}

// Leaves returns the number of leaf nodes.
func (t *Tree) Leaves() int {
	n := 0
	for _, f := range t.Feature {
		if f < 0 {
			n++
		}
	}
	return n
}

func (t *Tree) addLeaf(value float64) int {
	t.Feature = append(t.Feature, -1)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	t.Value = append(t.Value, value)
	return len(t.Feature) - 1
}

type treeParams struct {
	maxDepth        int
	numLeaves       int
	minChildSamples int
	lambda          float64
}

const minChildHessian = 1e-3

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

type leafCandidate struct {
	node  int
	depth int
	best  *split
}

// growTree fits one tree to gradients and hessians leaf-wise: the leaf with the
// largest gain is split next until numLeaves or maxDepth is reached.
// maxDepth <= 0 means unlimited depth.
func growTree(X *mat.Dense, grad, hess []float64, idx []int, p treeParams) *Tree {
	t := &Tree{}
	root := t.addLeaf(leafValue(grad, hess, idx, p.lambda))

	open := []*leafCandidate{{node: root, depth: 0, best: bestSplit(X, grad, hess, idx, p)}}

	for leaves := 1; leaves < p.numLeaves; leaves++ {
		pick := -1
		for i, c := range open {
			if c.best == nil {
				continue
			}
			if pick < 0 || c.best.gain > open[pick].best.gain {
				pick = i
			}
		}
		if pick < 0 {
			break
		}

		c := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		s := c.best
		left := t.addLeaf(leafValue(grad, hess, s.left, p.lambda))
		right := t.addLeaf(leafValue(grad, hess, s.right, p.lambda))
		t.Feature[c.node] = s.feature
		t.Threshold[c.node] = s.threshold
		t.Left[c.node] = left
		t.Right[c.node] = right

		depth := c.depth + 1
		if p.maxDepth <= 0 || depth < p.maxDepth {
			open = append(open,
				&leafCandidate{node: left, depth: depth, best: bestSplit(X, grad, hess, s.left, p)},
				&leafCandidate{node: right, depth: depth, best: bestSplit(X, grad, hess, s.right, p)},
			)
		}
	}

	return t
}

func leafValue(grad, hess []float64, idx []int, lambda float64) float64 {
	var g, h float64
	for _, i := range idx {
		g += grad[i]
		h += hess[i]
	}
	if h+lambda == 0 {
		return 0
	}
	return -g / (h + lambda)
}

func bestSplit(X *mat.Dense, grad, hess []float64, idx []int, p treeParams) *split {
	if len(idx) < 2*p.minChildSamples {
		return nil
	}

	var gTotal, hTotal float64
	for _, i := range idx {
		gTotal += grad[i]
		hTotal += hess[i]
	}
	if hTotal+p.lambda <= 0 {
		return nil
	}
	parentScore := gTotal * gTotal / (hTotal + p.lambda)

	_, cols := X.Dims()
	order := make([]int, len(idx))
	var best *split

	for f := 0; f < cols; f++ {
		copy(order, idx)
		sort.SliceStable(order, func(a, b int) bool {
			return X.At(order[a], f) < X.At(order[b], f)
		})

		var gLeft, hLeft float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			gLeft += grad[i]
			hLeft += hess[i]

			nLeft := k + 1
			nRight := len(order) - nLeft
			if nLeft < p.minChildSamples {
				continue
			}
			if nRight < p.minChildSamples {
				break
			}

			v, next := X.At(i, f), X.At(order[k+1], f)
			if v == next {
				continue
			}

			gRight, hRight := gTotal-gLeft, hTotal-hLeft
			if hLeft < minChildHessian || hRight < minChildHessian {
				continue
			}

			gain := gLeft*gLeft/(hLeft+p.lambda) + gRight*gRight/(hRight+p.lambda) - parentScore
			if gain <= 1e-12 || (best != nil && gain <= best.gain) {
				continue
			}
			best = &split{feature: f, threshold: (v + next) / 2, gain: gain}
		}
	}

	if best == nil {
		return nil
	}
	for _, i := range idx {
		if X.At(i, best.feature) <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best
}
