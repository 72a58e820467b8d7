// Package loss provides the training objective as a strategy the trainer is
// constructed with.
package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss scores a batch of logits against target class ids and returns the
// scalar loss together with its gradient with respect to the logits.
type Loss interface {
	Compute(logits *mat.Dense, targets []int) (float64, *mat.Dense, error)
}

// Func adapts a plain function to Loss.
type Func func(logits *mat.Dense, targets []int) (float64, *mat.Dense, error)

// Compute calls f.
func (f Func) Compute(logits *mat.Dense, targets []int) (float64, *mat.Dense, error) {
	return f(logits, targets)
}

// WeightedCrossEntropy is multi-class cross-entropy where each example's term
// is scaled by Weights[target]. The batch loss is Σ w_y·(−log p_y) / Σ w_y.
// A nil Weights means every class weighs 1, which reduces to the plain mean.
type WeightedCrossEntropy struct {
	Weights []float64
}

// Compute implements Loss.
func (ce WeightedCrossEntropy) Compute(logits *mat.Dense, targets []int) (float64, *mat.Dense, error) {
	rows, k := logits.Dims()
	if rows != len(targets) {
		return 0, nil, fmt.Errorf("loss: %d logit rows for %d targets", rows, len(targets))
	}
	if ce.Weights != nil && len(ce.Weights) != k {
		return 0, nil, fmt.Errorf("loss: %d weights for %d classes", len(ce.Weights), k)
	}

	grad := mat.NewDense(rows, k, nil)
	var total, norm float64
	for i, y := range targets {
		if y < 0 || y >= k {
			return 0, nil, fmt.Errorf("loss: target %d out of range [0,%d)", y, k)
		}
		w := 1.0
		if ce.Weights != nil {
			w = ce.Weights[y]
		}
		row := logits.RawRowView(i)
		lse := LogSumExp(row)
		total += w * (lse - row[y])
		norm += w

		g := grad.RawRowView(i)
		for j, v := range row {
			g[j] = w * math.Exp(v-lse)
		}
		g[y] -= w
	}
	if norm == 0 {
		return 0, grad, nil
	}
	grad.Scale(1/norm, grad)
	return total / norm, grad, nil
}

// LogSumExp returns log Σ exp(x) without overflow.
func LogSumExp(x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	m := floats.Max(x)
	if math.IsInf(m, 0) || math.IsNaN(m) {
		return m
	}
	var s float64
	for _, v := range x {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}

// Softmax returns the normalised exponentials of x.
func Softmax(x []float64) []float64 {
	out := make([]float64, len(x))
	lse := LogSumExp(x)
	for i, v := range x {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
