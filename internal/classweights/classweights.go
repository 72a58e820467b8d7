// Package classweights estimates per-class loss weights that compensate for
// label frequency skew.
package classweights

import (
	"fmt"

	"github.com/crimson-sun/threadclass/internal/model"
)

// Vector holds one positive weight per class id.
type Vector []float64

// Estimate computes balanced inverse-frequency weights from the training
// labels: w_i = N / (K * count_i). With this normalisation Σ count_i·w_i = N
// and the count-weighted mean weight is 1.
//
// Every class in 0..k-1 must appear at least once; otherwise the result is a
// DegenerateSplitError for the train split.
func Estimate(labels []int, k int) (Vector, error) {
	if k < 1 {
		return nil, fmt.Errorf("classweights: class count must be >= 1, got %d", k)
	}
	counts := make([]int, k)
	for _, l := range labels {
		if l < 0 || l >= k {
			return nil, &model.UnknownLabelError{ID: l}
		}
		counts[l]++
	}
	n := float64(len(labels))
	w := make(Vector, k)
	for i, c := range counts {
		if c == 0 {
			return nil, &model.DegenerateSplitError{Split: model.SplitTrain, ClassID: i}
		}
		w[i] = n / (float64(k) * float64(c))
	}
	return w, nil
}

// Uniform returns k weights of 1.
func Uniform(k int) Vector {
	w := make(Vector, k)
	for i := range w {
		w[i] = 1
	}
	return w
}
