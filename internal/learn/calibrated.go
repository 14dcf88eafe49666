package learn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CalibratedMember is one fold's base classifier with its per-class calibrators
type CalibratedMember struct {
	Base        *GBMClassifier `json:"base"`
	Calibrators []*Isotonic    `json:"calibrators"`
}

// CalibratedClassifier wraps a boosted classifier in k-fold isotonic calibration.
// Each fold trains a base model on the remaining folds and calibrates it one-vs-rest
// on the held-out fold; predictions average the calibrated members.
type CalibratedClassifier struct {
	Folds    int                 `json:"folds"`
	NClasses int                 `json:"n_classes"`
	Params   BoostParams         `json:"params"`
	Members  []*CalibratedMember `json:"members"`
}

// NewCalibratedClassifier creates an unfitted calibrated classifier
func NewCalibratedClassifier(nClasses, folds int, p BoostParams) *CalibratedClassifier {
	return &CalibratedClassifier{Folds: folds, NClasses: nClasses, Params: p}
}

// Fit trains one calibrated member per stratified fold
func (c *CalibratedClassifier) Fit(X *mat.Dense, y []int, w []float64) error {
	if err := checkTargets(X, len(y), w); err != nil {
		return err
	}
	rows, cols := X.Dims()
	w = unitWeights(rows, w)

	folds := c.Folds
	if folds > rows {
		folds = rows
	}
	if folds < 2 {
		return fmt.Errorf("calibration needs at least 2 samples, got %d", rows)
	}

	assignment := stratifiedFolds(y, c.NClasses, folds)
	c.Members = make([]*CalibratedMember, 0, folds)

	for f := 0; f < folds; f++ {
		var trainIdx, holdIdx []int
		for i, a := range assignment {
			if a == f {
				holdIdx = append(holdIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		if len(trainIdx) == 0 || len(holdIdx) == 0 {
			continue
		}

		trainX, trainY, trainW := subset(X, y, w, trainIdx, cols)
		base := NewGBMClassifier(c.NClasses, c.Params)
		if err := base.Fit(trainX, trainY, trainW); err != nil {
			return fmt.Errorf("failed to fit fold %d: %w", f, err)
		}

		scores := make([][]float64, c.NClasses)
		targets := make([][]float64, c.NClasses)
		weights := make([]float64, 0, len(holdIdx))
		for _, i := range holdIdx {
			proba, err := base.PredictProba(X.RawRowView(i))
			if err != nil {
				return err
			}
			for k := 0; k < c.NClasses; k++ {
				scores[k] = append(scores[k], proba[k])
				target := 0.0
				if y[i] == k {
					target = 1
				}
				targets[k] = append(targets[k], target)
			}
			weights = append(weights, w[i])
		}

		member := &CalibratedMember{Base: base, Calibrators: make([]*Isotonic, c.NClasses)}
		for k := 0; k < c.NClasses; k++ {
			iso := &Isotonic{}
			iso.Fit(scores[k], targets[k], weights)
			member.Calibrators[k] = iso
		}
		c.Members = append(c.Members, member)
	}

	if len(c.Members) == 0 {
		return fmt.Errorf("calibration produced no usable folds")
	}
	return nil
}

// PredictProba returns averaged calibrated class probabilities
func (c *CalibratedClassifier) PredictProba(x []float64) ([]float64, error) {
	if len(c.Members) == 0 {
		return nil, fmt.Errorf("classifier is not fitted")
	}
	out := make([]float64, c.NClasses)
	member := make([]float64, c.NClasses)
	for _, m := range c.Members {
		proba, err := m.Base.PredictProba(x)
		if err != nil {
			return nil, err
		}
		for k := range member {
			member[k] = m.Calibrators[k].Predict(proba[k])
		}
		if sum := floats.Sum(member); sum > 0 {
			floats.Scale(1/sum, member)
		} else {
			for k := range member {
				member[k] = 1 / float64(c.NClasses)
			}
		}
		floats.Add(out, member)
	}
	floats.Scale(1/float64(len(c.Members)), out)
	return out, nil
}

// stratifiedFolds assigns folds round-robin over samples grouped by class, so each
// class is spread evenly and no fold is left empty while samples remain.
func stratifiedFolds(y []int, nClasses, folds int) []int {
	out := make([]int, len(y))
	counter := 0
	for class := 0; class < nClasses; class++ {
		for i, label := range y {
			if label == class {
				out[i] = counter % folds
				counter++
			}
		}
	}
	return out
}

func subset(X *mat.Dense, y []int, w []float64, idx []int, cols int) (*mat.Dense, []int, []float64) {
	data := make([]float64, 0, len(idx)*cols)
	ys := make([]int, 0, len(idx))
	ws := make([]float64, 0, len(idx))
	for _, i := range idx {
		data = append(data, X.RawRowView(i)...)
		ys = append(ys, y[i])
		ws = append(ws, w[i])
	}
	return mat.NewDense(len(idx), cols, data), ys, ws
}
