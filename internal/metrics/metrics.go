// Package metrics computes classification metrics from prediction/reference
// pairs. Every function here is pure.
package metrics

import (
	"fmt"
	"strings"
)

// Metric names accepted by Result.Get.
const (
	Accuracy       = "accuracy"
	F1Macro        = "f1_macro"
	PrecisionMacro = "precision_macro"
	RecallMacro    = "recall_macro"
)

// ClassScore holds the per-class figures behind the macro averages.
type ClassScore struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int // number of references with this class
	Predicted int // number of predictions with this class
}

// Result is the output of Compute.
type Result struct {
	Accuracy       float64
	F1Macro        float64
	PrecisionMacro float64
	RecallMacro    float64
	PerClass       []ClassScore
}

// Compute returns accuracy and macro-averaged precision, recall and F1 over
// k classes. Macro averages are unweighted means over all k classes; a class
// with no predictions has precision 0, a class with no references has recall
// 0, and a class whose precision and recall are both 0 has F1 0.
func Compute(preds, refs []int, k int) (Result, error) {
	if len(preds) != len(refs) {
		return Result{}, fmt.Errorf("metrics: %d predictions for %d references", len(preds), len(refs))
	}
	if k < 1 {
		return Result{}, fmt.Errorf("metrics: class count must be >= 1, got %d", k)
	}

	tp := make([]int, k)
	predicted := make([]int, k)
	support := make([]int, k)
	correct := 0
	for i := range preds {
		p, r := preds[i], refs[i]
		if p < 0 || p >= k {
			return Result{}, fmt.Errorf("metrics: prediction %d out of range [0,%d)", p, k)
		}
		if r < 0 || r >= k {
			return Result{}, fmt.Errorf("metrics: reference %d out of range [0,%d)", r, k)
		}
		predicted[p]++
		support[r]++
		if p == r {
			tp[p]++
			correct++
		}
	}

	res := Result{PerClass: make([]ClassScore, k)}
	if len(refs) > 0 {
		res.Accuracy = float64(correct) / float64(len(refs))
	}

	var sumP, sumR, sumF float64
	for c := 0; c < k; c++ {
		cs := ClassScore{Support: support[c], Predicted: predicted[c]}
		if predicted[c] > 0 {
			cs.Precision = float64(tp[c]) / float64(predicted[c])
		}
		if support[c] > 0 {
			cs.Recall = float64(tp[c]) / float64(support[c])
		}
		if cs.Precision+cs.Recall > 0 {
			cs.F1 = 2 * cs.Precision * cs.Recall / (cs.Precision + cs.Recall)
		}
		res.PerClass[c] = cs
		sumP += cs.Precision
		sumR += cs.Recall
		sumF += cs.F1
	}
	res.PrecisionMacro = sumP / float64(k)
	res.RecallMacro = sumR / float64(k)
	res.F1Macro = sumF / float64(k)
	return res, nil
}

// Get returns the named metric. An "eval_" prefix is accepted and ignored.
func (r Result) Get(name string) (float64, error) {
	switch strings.TrimPrefix(name, "eval_") {
	case Accuracy:
		return r.Accuracy, nil
	case F1Macro:
		return r.F1Macro, nil
	case PrecisionMacro:
		return r.PrecisionMacro, nil
	case RecallMacro:
		return r.RecallMacro, nil
	}
	return 0, fmt.Errorf("metrics: unknown metric %q", name)
}

// Map returns the four headline metrics keyed by name.
func (r Result) Map() map[string]float64 {
	return map[string]float64{
		Accuracy:       r.Accuracy,
		F1Macro:        r.F1Macro,
		PrecisionMacro: r.PrecisionMacro,
		RecallMacro:    r.RecallMacro,
	}
}

// Names lists the metric names Get accepts (without prefix).
func Names() []string {
	return []string{Accuracy, F1Macro, PrecisionMacro, RecallMacro}
}

// Valid reports whether name is accepted by Get.
func Valid(name string) bool {
	_, err := Result{}.Get(name)
	return err == nil
}
