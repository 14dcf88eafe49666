package learn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GBMRegressor is a gradient-boosted tree ensemble with squared loss
type GBMRegressor struct {
	Params    BoostParams `json:"params"`
	Base      float64     `json:"base"`
	Trees     []*Tree     `json:"trees"`
	NFeatures int         `json:"n_features"`
}

// NewGBMRegressor creates an unfitted regressor
func NewGBMRegressor(p BoostParams) *GBMRegressor {
	return &GBMRegressor{Params: p.withDefaults()}
}

// Fit trains the ensemble on X, y with optional sample weights
func (m *GBMRegressor) Fit(X *mat.Dense, y []float64, w []float64) error {
	if err := checkTargets(X, len(y), w); err != nil {
		return err
	}
	rows, cols := X.Dims()
	w = unitWeights(rows, w)
	p := m.Params.withDefaults()

	totalW := floats.Sum(w)
	if totalW <= 0 {
		return fmt.Errorf("sample weights sum to %v", totalW)
	}

	m.NFeatures = cols
	m.Base = floats.Dot(y, w) / totalW
	m.Trees = make([]*Tree, 0, p.NEstimators)

	pred := make([]float64, rows)
	for i := range pred {
		pred[i] = m.Base
	}
	grad := make([]float64, rows)
	hess := make([]float64, rows)
	idx := sequence(rows)
	tp := treeParams{maxDepth: p.MaxDepth, numLeaves: p.NumLeaves, minChildSamples: p.MinChildSamples, lambda: p.Lambda}

	for iter := 0; iter < p.NEstimators; iter++ {
		for i := 0; i < rows; i++ {
			grad[i] = w[i] * (pred[i] - y[i])
			hess[i] = w[i]
		}
		tree := growTree(X, grad, hess, idx, tp)
		scaleLeaves(tree, p.LearningRate)
		m.Trees = append(m.Trees, tree)

		for i := 0; i < rows; i++ {
			pred[i] += tree.Predict(X.RawRowView(i))
		}
	}
	return nil
}

// Predict returns the raw regression output for one sample
func (m *GBMRegressor) Predict(x []float64) (float64, error) {
	if err := checkWidth(x, m.NFeatures); err != nil {
		return 0, err
	}
	out := m.Base
	for _, t := range m.Trees {
		out += t.Predict(x)
	}
	return out, nil
}

// GBMClassifier is a gradient-boosted softmax ensemble with one tree per class per round
type GBMClassifier struct {
	Params    BoostParams `json:"params"`
	NClasses  int         `json:"n_classes"`
	Base      []float64   `json:"base"`
	Trees     [][]*Tree   `json:"trees"`
	NFeatures int         `json:"n_features"`
}

// NewGBMClassifier creates an unfitted classifier over nClasses labels 0..nClasses-1
func NewGBMClassifier(nClasses int, p BoostParams) *GBMClassifier {
	return &GBMClassifier{Params: p.withDefaults(), NClasses: nClasses}
}

// Fit trains the ensemble. Labels must lie in [0, NClasses).
func (m *GBMClassifier) Fit(X *mat.Dense, y []int, w []float64) error {
	if err := checkTargets(X, len(y), w); err != nil {
		return err
	}
	if m.NClasses < 2 {
		return fmt.Errorf("classifier needs at least 2 classes, got %d", m.NClasses)
	}
	rows, cols := X.Dims()
	k := m.NClasses
	for i, label := range y {
		if label < 0 || label >= k {
			return fmt.Errorf("%w: label %d at row %d outside [0,%d)", ErrShapeMismatch, label, i, k)
		}
	}

	p := m.Params.withDefaults()
	weights := append([]float64(nil), unitWeights(rows, w)...)
	if p.BalancedClasses {
		applyBalancedWeights(weights, y, k)
	}

	m.NFeatures = cols
	m.Base = classPriors(y, weights, k)
	m.Trees = make([][]*Tree, 0, p.NEstimators)

	scores := make([][]float64, rows)
	for i := range scores {
		scores[i] = append([]float64(nil), m.Base...)
	}
	grad := make([]float64, rows)
	hess := make([]float64, rows)
	prob := make([]float64, k)
	idx := sequence(rows)
	tp := treeParams{maxDepth: p.MaxDepth, numLeaves: p.NumLeaves, minChildSamples: p.MinChildSamples, lambda: p.Lambda}
	factor := float64(k) / float64(k-1)

	for iter := 0; iter < p.NEstimators; iter++ {
		probs := make([][]float64, rows)
		for i := 0; i < rows; i++ {
			softmax(scores[i], prob)
			probs[i] = append([]float64(nil), prob...)
		}

		round := make([]*Tree, k)
		for c := 0; c < k; c++ {
			for i := 0; i < rows; i++ {
				pc := probs[i][c]
				target := 0.0
				if y[i] == c {
					target = 1
				}
				grad[i] = weights[i] * (pc - target)
				hess[i] = weights[i] * math.Max(factor*pc*(1-pc), 1e-16)
			}
			tree := growTree(X, grad, hess, idx, tp)
			scaleLeaves(tree, p.LearningRate)
			round[c] = tree
		}
		m.Trees = append(m.Trees, round)

		for i := 0; i < rows; i++ {
			row := X.RawRowView(i)
			for c := 0; c < k; c++ {
				scores[i][c] += round[c].Predict(row)
			}
		}
	}
	return nil
}

// PredictProba returns class probabilities for one sample
func (m *GBMClassifier) PredictProba(x []float64) ([]float64, error) {
	if err := checkWidth(x, m.NFeatures); err != nil {
		return nil, err
	}
	scores := append([]float64(nil), m.Base...)
	for _, round := range m.Trees {
		for c, t := range round {
			scores[c] += t.Predict(x)
		}
	}
	out := make([]float64, m.NClasses)
	softmax(scores, out)
	return out, nil
}

// applyBalancedWeights scales weights by n / (k * count(class)).
func applyBalancedWeights(w []float64, y []int, k int) {
	counts := make([]float64, k)
	for _, label := range y {
		counts[label]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	n := float64(len(y))
	for i, label := range y {
		w[i] *= n / (float64(present) * counts[label])
	}
}

// classPriors returns log weighted class frequencies, floored for absent classes.
func classPriors(y []int, w []float64, k int) []float64 {
	mass := make([]float64, k)
	for i, label := range y {
		mass[label] += w[i]
	}
	total := floats.Sum(mass)
	out := make([]float64, k)
	for c := range mass {
		out[c] = math.Log(math.Max(mass[c]/total, 1e-6))
	}
	return out
}

func softmax(scores, out []float64) {
	maxScore := floats.Max(scores)
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
}

func scaleLeaves(t *Tree, rate float64) {
	for i, f := range t.Feature {
		if f < 0 {
			t.Value[i] *= rate
		}
	}
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
