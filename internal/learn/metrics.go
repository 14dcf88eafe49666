package learn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Accuracy returns the fraction of matching labels.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// F1Macro averages per-class F1 over the labels seen in either slice.
func F1Macro(yTrue, yPred []int, nClasses int) float64 {
	tp := make([]float64, nClasses)
	fp := make([]float64, nClasses)
	fn := make([]float64, nClasses)
	seen := make([]bool, nClasses)
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		seen[t], seen[p] = true, true
		if t == p {
			tp[t]++
		} else {
			fp[p]++
			fn[t]++
		}
	}

	var scores []float64
	for c := 0; c < nClasses; c++ {
		if !seen[c] {
			continue
		}
		denom := 2*tp[c] + fp[c] + fn[c]
		if denom == 0 {
			scores = append(scores, 0)
			continue
		}
		scores = append(scores, 2*tp[c]/denom)
	}
	if len(scores) == 0 {
		return 0
	}
	return stat.Mean(scores, nil)
}

// LogLoss returns the mean negative log-likelihood of the true labels.
func LogLoss(yTrue []int, proba [][]float64) float64 {
	const eps = 1e-15
	if len(yTrue) == 0 {
		return 0
	}
	losses := make([]float64, len(yTrue))
	for i, label := range yTrue {
		p := math.Min(math.Max(proba[i][label], eps), 1-eps)
		losses[i] = -math.Log(p)
	}
	return stat.Mean(losses, nil)
}

// MSE returns the mean squared error.
func MSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	diff := make([]float64, len(yTrue))
	floats.SubTo(diff, yTrue, yPred)
	return floats.Dot(diff, diff) / float64(len(diff))
}

// MAE returns the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	diff := make([]float64, len(yTrue))
	floats.SubTo(diff, yTrue, yPred)
	return floats.Norm(diff, 1) / float64(len(diff))
}

// R2 returns the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mean := stat.Mean(yTrue, nil)
	var ssRes, ssTot float64
	for i := range yTrue {
		ssRes += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
		ssTot += (yTrue[i] - mean) * (yTrue[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
