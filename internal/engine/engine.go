// Package engine classifies new text with a trained artifact set.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/crimson-sun/threadclass/internal/artifacts"
	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/encoder"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/labels"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/loss"
)

// Unclassified is the label reported when the top score is below the
// configured threshold.
const Unclassified = "UNCLASSIFIED"

const defaultBatchSize = 32

// Prediction is the outcome for one text.
type Prediction struct {
	Label      string             `json:"label"`
	ClassID    int                `json:"class_id"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// Options tunes a Predictor.
type Options struct {
	BatchSize int     // texts per forward pass; 0 means 32
	Threshold float64 // minimum confidence; below it Label is Unclassified
	Scores    bool    // include the full probability distribution
	Encoder   encoder.Options
	CacheSize int
	Logger    *slog.Logger
}

// Predictor runs eval-mode inference. It never modifies the model.
type Predictor struct {
	model  classifier.Model
	tok    features.Transformer
	codec  *labels.Codec
	opts   Options
	closer io.Closer
}

// New assembles a Predictor from loaded parts.
func New(m classifier.Model, tok features.Transformer, codec *labels.Codec, opts Options) (*Predictor, error) {
	if m.NumLabels() != codec.Len() {
		return nil, fmt.Errorf("engine: model has %d outputs but label map has %d classes", m.NumLabels(), codec.Len())
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	p := &Predictor{model: m, tok: tok, codec: codec, opts: opts}
	if c, ok := m.(io.Closer); ok {
		p.closer = c
	}
	return p, nil
}

// Open loads the artifact set at dir. The manifest is verified first, so an
// incomplete or modified set is refused.
func Open(dir string, opts Options) (*Predictor, error) {
	m, err := artifacts.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	codec, err := labels.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	tok, err := features.Load(filepath.Join(dir, artifacts.TokenizerDir))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	head, err := classifier.Load(filepath.Join(dir, artifacts.ModelDir), opts.Encoder, opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	p, err := New(head, tok, codec, opts)
	if err != nil {
		head.Close()
		return nil, err
	}
	p.opts.Logger.Debug("artifact set loaded",
		logging.PathKey, dir,
		logging.RunIDKey, m.RunID,
		logging.ClassesKey, codec.Len(),
	)
	return p, nil
}

// Labels returns the class names ordered by id.
func (p *Predictor) Labels() []string { return p.codec.Classes() }

// Predict classifies texts, preserving order.
func (p *Predictor) Predict(ctx context.Context, texts []string) ([]Prediction, error) {
	out := make([]Prediction, 0, len(texts))
	classes := p.codec.Classes()
	for lo := 0; lo < len(texts); lo += p.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+p.opts.BatchSize, len(texts))
		seqs, err := features.EncodeTexts(p.tok, texts[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("engine: texts %d-%d: %w", lo, hi-1, err)
		}
		b := features.Collate(seqs, p.tok.PadID())
		logits, err := p.model.Forward(ctx, b, classifier.Eval)
		if err != nil {
			return nil, fmt.Errorf("engine: forward: %w", err)
		}
		for i := 0; i < b.BatchSize; i++ {
			out = append(out, p.predict(logits.RawRowView(i), classes))
		}
	}
	return out, nil
}

// PredictOne classifies a single text.
func (p *Predictor) PredictOne(ctx context.Context, text string) (Prediction, error) {
	preds, err := p.Predict(ctx, []string{text})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

func (p *Predictor) predict(logits []float64, classes []string) Prediction {
	probs := loss.Softmax(logits)
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	pred := Prediction{Label: classes[best], ClassID: best, Confidence: probs[best]}
	if pred.Confidence < p.opts.Threshold {
		pred.Label = Unclassified
	}
	if p.opts.Scores {
		pred.Scores = make(map[string]float64, len(probs))
		for i, v := range probs {
			pred.Scores[classes[i]] = v
		}
	}
	return pred
}

// Close releases the model's encoder.
func (p *Predictor) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}
