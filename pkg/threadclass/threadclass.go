package threadclass

import (
	"context"
	"fmt"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/encoder"
	"github.com/crimson-sun/threadclass/internal/engine"
)

// Classifier assigns forum posts to the classes of a trained model.
// Safe for concurrent use.
type Classifier struct {
	pred *engine.Predictor
}

// Open loads the artifact set in dir (the output directory of a training
// run). The manifest is checked before anything is loaded, so a partial or
// modified directory is refused.
func Open(dir string, opts ...Option) (*Classifier, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cc, err := compute.Parse(o.device, o.workers)
	if err != nil {
		return nil, fmt.Errorf("threadclass: %w", err)
	}
	pred, err := engine.Open(dir, engine.Options{
		BatchSize: o.batchSize,
		Threshold: o.threshold,
		Scores:    o.scores,
		Encoder:   encoder.Options{Compute: cc, ORTLib: o.ortLib},
		CacheSize: o.cacheSize,
		Logger:    o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("threadclass: %w", err)
	}
	return &Classifier{pred: pred}, nil
}

// Labels returns the class names the model was trained on, ordered by class id.
func (c *Classifier) Labels() []string {
	return c.pred.Labels()
}

// Classify classifies a single text.
func (c *Classifier) Classify(text string) (Result, error) {
	res, err := c.ClassifyBatchContext(context.Background(), []string{text})
	if err != nil {
		return Result{}, err
	}
	return res[0], nil
}

// ClassifyBatch classifies texts in batched forward passes. More efficient
// than calling Classify in a loop. Results keep the input order.
func (c *Classifier) ClassifyBatch(texts []string) ([]Result, error) {
	return c.ClassifyBatchContext(context.Background(), texts)
}

// ClassifyBatchContext is ClassifyBatch with cancellation, checked between
// batches.
func (c *Classifier) ClassifyBatchContext(ctx context.Context, texts []string) ([]Result, error) {
	preds, err := c.pred.Predict(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("threadclass: %w", err)
	}
	out := make([]Result, len(preds))
	for i, p := range preds {
		out[i] = resultFromPrediction(p)
	}
	return out, nil
}

// Close releases model resources (ONNX runtime sessions, caches).
// Must be called when the Classifier is no longer needed.
func (c *Classifier) Close() error {
	return c.pred.Close()
}

func resultFromPrediction(p engine.Prediction) Result {
	return Result{Label: p.Label, Confidence: p.Confidence, Scores: p.Scores}
}
