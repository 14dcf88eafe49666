package learn

import (
	"math"
	"sort"
)

// Isotonic is a non-decreasing piecewise-linear calibration map fitted by
// pool-adjacent-violators. Predictions outside the fitted range are clipped.
type Isotonic struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Fit learns the map from scores x to targets y with optional weights.
func (iso *Isotonic) Fit(x, y, w []float64) {
	w = unitWeights(len(x), w)

	order := sequence(len(x))
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	// collapse tied scores into their weighted mean
	var xs, ys, ws []float64
	for _, i := range order {
		if w[i] <= 0 {
			continue
		}
		if n := len(xs); n > 0 && xs[n-1] == x[i] {
			total := ws[n-1] + w[i]
			ys[n-1] = (ys[n-1]*ws[n-1] + y[i]*w[i]) / total
			ws[n-1] = total
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
		ws = append(ws, w[i])
	}

	iso.X = xs
	iso.Y = pav(ys, ws)
}

// Predict maps a score through the calibration curve.
func (iso *Isotonic) Predict(v float64) float64 {
	n := len(iso.X)
	switch {
	case n == 0:
		return math.Min(math.Max(v, 0), 1)
	case v <= iso.X[0]:
		return iso.Y[0]
	case v >= iso.X[n-1]:
		return iso.Y[n-1]
	}

	j := sort.SearchFloat64s(iso.X, v)
	if iso.X[j] == v {
		return iso.Y[j]
	}
	x0, x1 := iso.X[j-1], iso.X[j]
	y0, y1 := iso.Y[j-1], iso.Y[j]
	return y0 + (y1-y0)*(v-x0)/(x1-x0)
}

// pav returns the weighted least-squares non-decreasing fit of y.
func pav(y, w []float64) []float64 {
	type block struct {
		value  float64
		weight float64
		size   int
	}
	blocks := make([]block, 0, len(y))
	for i := range y {
		blocks = append(blocks, block{value: y[i], weight: w[i], size: 1})
		for len(blocks) > 1 {
			last := blocks[len(blocks)-1]
			prev := blocks[len(blocks)-2]
			if prev.value <= last.value {
				break
			}
			total := prev.weight + last.weight
			merged := block{
				value:  (prev.value*prev.weight + last.value*last.weight) / total,
				weight: total,
				size:   prev.size + last.size,
			}
			blocks = append(blocks[:len(blocks)-2], merged)
		}
	}

	out := make([]float64, 0, len(y))
	for _, b := range blocks {
		for i := 0; i < b.size; i++ {
			out = append(out, b.value)
		}
	}
	return out
}
