// Package pipeline wires the corpus, split, feature, training, evaluation and
// persistence stages into one fine-tuning run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/threadclass/internal/artifacts"
	"github.com/crimson-sun/threadclass/internal/checkpoint"
	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/classweights"
	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/config"
	"github.com/crimson-sun/threadclass/internal/corpus"
	"github.com/crimson-sun/threadclass/internal/encoder"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/labels"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/loss"
	"github.com/crimson-sun/threadclass/internal/metrics"
	"github.com/crimson-sun/threadclass/internal/model"
	"github.com/crimson-sun/threadclass/internal/optim"
	"github.com/crimson-sun/threadclass/internal/output"
	"github.com/crimson-sun/threadclass/internal/partition"
	"github.com/crimson-sun/threadclass/internal/storage"
	"github.com/crimson-sun/threadclass/internal/trainer"
)

// Summary describes a finished run.
type Summary struct {
	RunID        string
	Corpus       corpus.Stats
	Classes      []string
	SplitSizes   map[string]int
	ClassWeights classweights.Vector
	Training     trainer.Summary
	Val          metrics.Result
	Test         *metrics.Result // nil when the test split is empty
	OutputDir    string
	Manifest     *artifacts.Manifest
	PublishedTo  string
	Duration     time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOutput adds a log history destination next to the configured ones.
func WithOutput(o output.Output) Option {
	return func(p *Pipeline) { p.extra = append(p.extra, o) }
}

// WithReport sets where the per-class classification reports are printed.
func WithReport(w io.Writer) Option {
	return func(p *Pipeline) { p.report = w }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// Pipeline runs one fine-tuning job described by a Config.
type Pipeline struct {
	cfg    config.Config
	logger *slog.Logger
	extra  []output.Output
	report io.Writer
	runID  string
}

// New returns a Pipeline for cfg. cfg is expected to have passed Validate.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, logger: logging.Discard(), report: io.Discard}
	for _, o := range opts {
		o(p)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	return p
}

// Run executes the whole job. A failed run never leaves a manifest-marked
// artifact set behind; checkpoints already written stay on disk.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	cfg := p.cfg
	log := p.logger.With(logging.RunIDKey, p.runID)
	sum := &Summary{RunID: p.runID, OutputDir: cfg.Output.Dir}

	// Corpus.
	sources, err := corpus.OpenAll(cfg.Data.Sources)
	if err != nil {
		return nil, err
	}
	records, stats, err := corpus.Load(ctx, corpus.Options{MinTextLength: cfg.Data.MinTextLength, Logger: log}, sources...)
	if err != nil {
		return nil, err
	}
	sum.Corpus = stats

	codec, err := labels.Fit(records)
	if err != nil {
		return nil, err
	}
	examples, err := codec.Examples(records)
	if err != nil {
		return nil, err
	}
	sum.Classes = codec.Classes()
	k := codec.Len()

	// Split.
	policy, err := partition.ParsePolicy(cfg.Data.SplitPolicy)
	if err != nil {
		return nil, err
	}
	ratios := partition.Ratios{Train: cfg.Data.TrainRatio, Val: cfg.Data.ValRatio, Test: cfg.Data.TestRatio}
	part, err := partition.Split(examples, ratios, cfg.Run.Seed, policy)
	if err != nil {
		return nil, nameClass(err, codec)
	}
	sum.SplitSizes = part.Sizes()
	log.Info("corpus split",
		logging.ClassesKey, k,
		"data.train", len(part.Train),
		"data.val", len(part.Val),
		"data.test", len(part.Test),
	)

	weights, err := classweights.Estimate(model.LabelIDs(part.Train), k)
	if err != nil {
		return nil, nameClass(err, codec)
	}
	sum.ClassWeights = weights

	// Features and model.
	cc, err := compute.Parse(cfg.Model.Device, cfg.Model.Workers)
	if err != nil {
		return nil, err
	}

	tok, err := features.Open(cfg.Model.TokenizerPath, cfg.Run.MaxLength)
	if err != nil {
		return nil, err
	}
	enc, err := p.openEncoder(cc)
	if err != nil {
		return nil, err
	}
	device := compute.CPU
	if d, ok := enc.(interface{ Device() string }); ok {
		device = d.Device()
	}
	log.Info("compute", logging.DeviceKey, device, logging.WorkersKey, cc.Workers)
	head, err := classifier.NewLinearHead(enc, k, cfg.Model.CacheSize, cfg.Run.Seed)
	if err != nil {
		enc.Close()
		return nil, err
	}
	defer head.Close()

	train, err := features.EncodeAll(ctx, tok, part.Train, cc)
	if err != nil {
		return nil, err
	}
	val, err := features.EncodeAll(ctx, tok, part.Val, cc)
	if err != nil {
		return nil, err
	}
	test, err := features.EncodeAll(ctx, tok, part.Test, cc)
	if err != nil {
		return nil, err
	}

	// Training.
	out, err := p.outputs(log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("closing log outputs", "error", err)
		}
	}()

	store, err := checkpoint.NewStore(cfg.Output.CheckpointDir, cfg.Run.CheckpointLimit, log)
	if err != nil {
		return nil, err
	}
	stepsPerEpoch := (len(train) + cfg.Run.BatchSize - 1) / cfg.Run.BatchSize
	opt := optim.NewAdamW(head.Parameters(), optim.LinearSchedule{
		Base:  cfg.Run.LearningRate,
		Total: stepsPerEpoch * cfg.Run.Epochs,
	}, cfg.Run.WeightDecay)

	tr, err := trainer.New(trainer.Config{
		Epochs:        cfg.Run.Epochs,
		BatchSize:     cfg.Run.BatchSize,
		Patience:      cfg.Run.Patience,
		LoggingSteps:  cfg.Run.LoggingSteps,
		Seed:          cfg.Run.Seed,
		MetricForBest: cfg.Run.MetricForBest,
		PadID:         tok.PadID(),
		RunID:         p.runID,
	}, head, opt, loss.WeightedCrossEntropy{Weights: weights}, store,
		trainer.WithOutput(out),
		trainer.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	sum.Training, err = tr.Train(ctx, train, val)
	if err != nil {
		return nil, err
	}

	// Final evaluation with the best weights.
	valRes, valPreds, err := trainer.Evaluate(ctx, head, val, cfg.Run.BatchSize, tok.PadID(), k)
	if err != nil {
		return nil, err
	}
	sum.Val = valRes
	p.printReport("validation", valRes, valPreds, codec)
	finalMetrics := map[string]map[string]float64{model.SplitVal: valRes.Map()}

	if len(test) > 0 {
		testRes, testPreds, err := trainer.Evaluate(ctx, head, test, cfg.Run.BatchSize, tok.PadID(), k)
		if err != nil {
			return nil, err
		}
		sum.Test = &testRes
		p.printReport("test", testRes, testPreds, codec)
		finalMetrics[model.SplitTest] = testRes.Map()

		entry := model.LogEntry{
			RunID:     p.runID,
			Phase:     model.PhaseTest,
			Epoch:     sum.Training.Epochs,
			Step:      sum.Training.GlobalStep,
			Metrics:   prefixed("test_", testRes.Map()),
			Timestamp: time.Now(),
		}
		if err := out.Write(ctx, entry); err != nil {
			log.Warn("log output failed", "error", err)
		}
	} else {
		log.Warn("test split is empty, skipping test evaluation")
	}

	// Persistence.
	manifest, err := artifacts.NewWriter(log).Write(cfg.Output.Dir, artifacts.Set{
		RunID:     p.runID,
		Model:     head,
		Tokenizer: tok,
		Labels:    codec,
		Metrics:   finalMetrics,
	})
	if err != nil {
		return nil, err
	}
	sum.Manifest = manifest

	if cfg.Publish.Target != "" {
		dest, err := p.publish(ctx)
		if err != nil {
			return nil, err
		}
		sum.PublishedTo = dest
	}

	sum.Duration = time.Since(start)
	log.Info("run complete",
		logging.PathKey, cfg.Output.Dir,
		logging.BestKey, sum.Training.BestMetric,
		logging.DurationKey, sum.Duration,
	)
	return sum, nil
}

func (p *Pipeline) openEncoder(cc compute.Context) (encoder.Encoder, error) {
	m := p.cfg.Model
	switch m.Encoder {
	case encoder.KindHashed:
		return encoder.NewHashed(m.HashDim, cc)
	case encoder.KindONNX:
		return encoder.NewONNX(m.EncoderPath, m.Pooling, encoder.Options{Compute: cc, ORTLib: m.ORTLibPath})
	}
	return nil, fmt.Errorf("pipeline: unknown encoder %q", m.Encoder)
}

func (p *Pipeline) publish(ctx context.Context) (string, error) {
	pub := p.cfg.Publish
	store, err := storage.New(ctx, storage.Config{
		Type:      storage.Type(pub.Target),
		LocalPath: pub.LocalPath,
		Bucket:    pub.Bucket,
		Region:    pub.Region,
		AccessKey: pub.AccessKey,
		SecretKey: pub.SecretKey,
	})
	if err != nil {
		return "", err
	}
	prefix := storage.Key(pub.Prefix, p.runID)
	if _, err := artifacts.Publish(ctx, p.cfg.Output.Dir, store, prefix); err != nil {
		return "", err
	}
	var dest string
	switch storage.Type(pub.Target) {
	case storage.TypeS3:
		dest = "s3://" + pub.Bucket + "/" + prefix
	default:
		dest = filepath.Join(pub.LocalPath, filepath.FromSlash(prefix))
	}
	p.logger.Info("artifacts published", logging.PathKey, dest)
	return dest, nil
}

func (p *Pipeline) printReport(split string, res metrics.Result, preds []int, codec *labels.Codec) {
	fmt.Fprintf(p.report, "\n%s (%d examples)\n", split, len(preds))
	metrics.Report(p.report, res, codec.Classes())
}

// nameClass fills in the label of a DegenerateSplitError.
func nameClass(err error, codec *labels.Codec) error {
	var dse *model.DegenerateSplitError
	if errors.As(err, &dse) && dse.Label == "" {
		if name, derr := codec.Decode(dse.ClassID); derr == nil {
			dse.Label = name
		}
	}
	return err
}

func prefixed(prefix string, m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[prefix+k] = v
	}
	return out
}
