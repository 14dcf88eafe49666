// Package learn provides the trainable predictors used by the inference models:
// gradient-boosted decision trees for regression and multi-class classification,
// and a k-fold isotonic calibration wrapper. All fits are deterministic.
package learn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when training arrays are structurally inconsistent.
var ErrShapeMismatch = errors.New("shape mismatch")

// Classifier is a trainable multi-class probability model
type Classifier interface {
	Fit(X *mat.Dense, y []int, w []float64) error
	PredictProba(x []float64) ([]float64, error)
}

// Regressor is a trainable scalar regression model
type Regressor interface {
	Fit(X *mat.Dense, y []float64, w []float64) error
	Predict(x []float64) (float64, error)
}

// BoostParams holds gradient boosting hyperparameters
type BoostParams struct {
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	NumLeaves       int     `json:"num_leaves"`
	LearningRate    float64 `json:"learning_rate"`
	MinChildSamples int     `json:"min_child_samples"`
	Lambda          float64 `json:"lambda"`
	BalancedClasses bool    `json:"balanced_classes,omitempty"`
}

func (p BoostParams) withDefaults() BoostParams {
	if p.NEstimators <= 0 {
		p.NEstimators = 100
	}
	if p.NumLeaves <= 1 {
		p.NumLeaves = 31
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.1
	}
	if p.MinChildSamples <= 0 {
		p.MinChildSamples = 1
	}
	if p.Lambda < 0 {
		p.Lambda = 0
	}
	return p
}

// NewMatrix validates a row-major sample matrix and copies it into a dense matrix.
// width <= 0 accepts any consistent row width.
func NewMatrix(rows [][]float64, width int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShapeMismatch)
	}
	if width <= 0 {
		width = len(rows[0])
	}
	if width == 0 {
		return nil, fmt.Errorf("%w: zero-width rows", ErrShapeMismatch)
	}
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShapeMismatch, i, len(row), width)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

// checkTargets verifies that label and weight slices line up with the sample matrix.
func checkTargets(X *mat.Dense, n int, w []float64) error {
	if X == nil {
		return fmt.Errorf("%w: nil matrix", ErrShapeMismatch)
	}
	rows, _ := X.Dims()
	if n != rows {
		return fmt.Errorf("%w: %d samples but %d targets", ErrShapeMismatch, rows, n)
	}
	if w != nil && len(w) != rows {
		return fmt.Errorf("%w: %d samples but %d weights", ErrShapeMismatch, rows, len(w))
	}
	return nil
}

func checkWidth(x []float64, want int) error {
	if len(x) != want {
		return fmt.Errorf("%w: got %d features, model expects %d", ErrShapeMismatch, len(x), want)
	}
	return nil
}

func unitWeights(n int, w []float64) []float64 {
	if w != nil {
		return w
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
