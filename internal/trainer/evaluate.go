package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/metrics"
)

// Evaluate runs an eval-mode forward pass over examples in order and scores
// the predictions against their labels. It returns the predictions too, so
// callers can build a per-class report.
func Evaluate(ctx context.Context, m classifier.Model, examples []features.Encoded, batchSize int, padID int64, k int) (metrics.Result, []int, error) {
	if batchSize < 1 {
		return metrics.Result{}, nil, fmt.Errorf("trainer: evaluate: batch size must be >= 1, got %d", batchSize)
	}
	if len(examples) == 0 {
		return metrics.Result{}, nil, errors.New("trainer: evaluate: no examples")
	}

	preds := make([]int, 0, len(examples))
	refs := make([]int, 0, len(examples))
	for lo := 0; lo < len(examples); lo += batchSize {
		hi := min(lo+batchSize, len(examples))
		b, labels := features.CollateEncoded(examples[lo:hi], padID)
		logits, err := m.Forward(ctx, b, classifier.Eval)
		if err != nil {
			return metrics.Result{}, nil, fmt.Errorf("trainer: evaluate: %w", err)
		}
		preds = append(preds, classifier.Argmax(logits)...)
		refs = append(refs, labels...)
	}

	res, err := metrics.Compute(preds, refs, k)
	if err != nil {
		return metrics.Result{}, nil, fmt.Errorf("trainer: evaluate: %w", err)
	}
	return res, preds, nil
}
