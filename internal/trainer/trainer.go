// Package trainer runs the epoch loop: mini-batch optimisation, evaluation
// after every epoch, best-checkpoint tracking and early stopping.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/crimson-sun/threadclass/internal/checkpoint"
	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/loss"
	"github.com/crimson-sun/threadclass/internal/metrics"
	"github.com/crimson-sun/threadclass/internal/model"
	"github.com/crimson-sun/threadclass/internal/optim"
	"github.com/crimson-sun/threadclass/internal/output"
	"github.com/crimson-sun/threadclass/internal/partition"
)

// Phase is the trainer's position in its state machine.
type Phase int

const (
	Initializing Phase = iota
	EpochRunning
	Evaluating
	Improved
	NotImproved
	Stopped
)

var phaseNames = [...]string{"initializing", "epoch_running", "evaluating", "improved", "not_improved", "stopped"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Config holds the loop parameters.
type Config struct {
	Epochs        int
	BatchSize     int
	Patience      int
	LoggingSteps  int // emit a training-loss entry every N steps; 0 disables
	Seed          int64
	MetricForBest string
	PadID         int64
	RunID         string
}

// State is the trainer's progress. Only the trainer mutates it.
type State struct {
	Phase                 Phase
	Epoch                 int
	GlobalStep            int
	StepsSinceImprovement int
	BestMetric            float64
	Best                  *checkpoint.Checkpoint
}

// EvalFunc scores the model on held-out data after every epoch.
type EvalFunc func(ctx context.Context, m classifier.Model) (metrics.Result, error)

// Summary describes a finished run.
type Summary struct {
	Best         *checkpoint.Checkpoint
	BestMetric   float64
	Epochs       int
	GlobalStep   int
	StoppedEarly bool
	Duration     time.Duration
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithEvalFunc replaces the default validation pass.
func WithEvalFunc(f EvalFunc) Option {
	return func(t *Trainer) { t.eval = f }
}

// WithOutput sets where log entries go.
func WithOutput(o output.Output) Option {
	return func(t *Trainer) { t.out = o }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// Trainer drives a classifier.Model through the epoch loop.
type Trainer struct {
	cfg    Config
	model  classifier.Model
	opt    optim.Optimizer
	loss   loss.Loss
	store  *checkpoint.Store
	eval   EvalFunc
	out    output.Output
	logger *slog.Logger
	now    func() time.Time

	state State
}

// New validates cfg and assembles a Trainer. Without WithEvalFunc the model
// is scored on val with Evaluate.
func New(cfg Config, m classifier.Model, opt optim.Optimizer, l loss.Loss, store *checkpoint.Store, opts ...Option) (*Trainer, error) {
	var errs []error
	if cfg.Epochs < 1 {
		errs = append(errs, fmt.Errorf("epochs must be >= 1, got %d", cfg.Epochs))
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be >= 1, got %d", cfg.BatchSize))
	}
	if cfg.Patience < 1 {
		errs = append(errs, fmt.Errorf("patience must be >= 1, got %d", cfg.Patience))
	}
	if !metrics.Valid(cfg.MetricForBest) {
		errs = append(errs, fmt.Errorf("unknown metric %q", cfg.MetricForBest))
	}
	if m == nil || opt == nil || l == nil || store == nil {
		errs = append(errs, errors.New("model, optimizer, loss and checkpoint store are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	t := &Trainer{
		cfg:    cfg,
		model:  m,
		opt:    opt,
		loss:   l,
		store:  store,
		out:    output.Discard,
		logger: logging.Discard(),
		now:    time.Now,
		state:  State{Phase: Initializing, BestMetric: math.Inf(-1)},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// State returns a copy of the current progress.
func (t *Trainer) State() State { return t.state }

// Train runs up to cfg.Epochs epochs over train, evaluating after each one.
// It stops early once the metric has not strictly improved for Patience
// consecutive evaluations, and always leaves the model holding the best
// checkpoint's weights.
//
// ctx is checked between epochs. On cancellation the model is rolled back to
// the best checkpoint and ctx.Err() is returned. A NumericInstabilityError
// aborts the run without rollback; checkpoints already taken stay valid.
func (t *Trainer) Train(ctx context.Context, train, val []features.Encoded) (Summary, error) {
	if t.state.Phase != Initializing {
		return Summary{}, errors.New("trainer: Train called twice")
	}
	if len(train) == 0 {
		return Summary{}, errors.New("trainer: empty training set")
	}
	eval := t.eval
	if eval == nil {
		if len(val) == 0 {
			return Summary{}, errors.New("trainer: empty validation set")
		}
		eval = func(ctx context.Context, m classifier.Model) (metrics.Result, error) {
			res, _, err := Evaluate(ctx, m, val, t.cfg.BatchSize, t.cfg.PadID, m.NumLabels())
			return res, err
		}
	}

	start := t.now()
	t.opt.ZeroGrad()
	stoppedEarly := false

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			t.logger.Warn("training cancelled", logging.EpochKey, t.state.Epoch)
			if rerr := t.rollback(); rerr != nil {
				return Summary{}, errors.Join(err, rerr)
			}
			return Summary{}, err
		}

		t.state.Phase = EpochRunning
		t.state.Epoch = epoch
		if err := t.runEpoch(ctx, train); err != nil {
			return Summary{}, err
		}

		t.state.Phase = Evaluating
		if err := t.evaluate(ctx, eval); err != nil {
			return Summary{}, err
		}

		if t.state.StepsSinceImprovement >= t.cfg.Patience {
			stoppedEarly = epoch < t.cfg.Epochs
			t.logger.Info("early stopping",
				logging.EpochKey, epoch,
				logging.BestKey, t.state.BestMetric,
			)
			break
		}
	}

	if err := t.rollback(); err != nil {
		return Summary{}, err
	}
	t.state.Phase = Stopped

	return Summary{
		Best:         t.state.Best,
		BestMetric:   t.state.BestMetric,
		Epochs:       t.state.Epoch,
		GlobalStep:   t.state.GlobalStep,
		StoppedEarly: stoppedEarly,
		Duration:     t.now().Sub(start),
	}, nil
}

func (t *Trainer) runEpoch(ctx context.Context, train []features.Encoded) error {
	order := partition.Perm(len(train), t.cfg.Seed+int64(t.state.Epoch))
	items := make([]features.Encoded, 0, t.cfg.BatchSize)

	var window float64
	var windowSteps int
	for batch, lo := 0, 0; lo < len(order); batch, lo = batch+1, lo+t.cfg.BatchSize {
		hi := min(lo+t.cfg.BatchSize, len(order))
		items = items[:0]
		for _, i := range order[lo:hi] {
			items = append(items, train[i])
		}
		b, targets := features.CollateEncoded(items, t.cfg.PadID)

		logits, err := t.model.Forward(ctx, b, classifier.Train)
		if err != nil {
			return fmt.Errorf("trainer: forward: epoch %d batch %d: %w", t.state.Epoch, batch, err)
		}
		value, grad, err := t.loss.Compute(logits, targets)
		if err != nil {
			return fmt.Errorf("trainer: loss: epoch %d batch %d: %w", t.state.Epoch, batch, err)
		}
		if !loss.Finite(value) {
			return &model.NumericInstabilityError{Epoch: t.state.Epoch, Batch: batch, Loss: value}
		}
		if err := t.model.Backward(grad); err != nil {
			return fmt.Errorf("trainer: backward: epoch %d batch %d: %w", t.state.Epoch, batch, err)
		}
		lr := t.opt.LearningRate()
		t.opt.Step()
		t.opt.ZeroGrad()
		t.state.GlobalStep++

		window += value
		windowSteps++
		if t.cfg.LoggingSteps > 0 && t.state.GlobalStep%t.cfg.LoggingSteps == 0 {
			mean := window / float64(windowSteps)
			t.logger.Info("train",
				logging.EpochKey, t.state.Epoch,
				logging.StepKey, t.state.GlobalStep,
				logging.LossKey, mean,
				logging.LRKey, lr,
			)
			t.emit(ctx, model.LogEntry{
				Phase:        model.PhaseTrain,
				Loss:         mean,
				LearningRate: lr,
			})
			window, windowSteps = 0, 0
		}
	}
	return nil
}

func (t *Trainer) evaluate(ctx context.Context, eval EvalFunc) error {
	res, err := eval(ctx, t.model)
	if err != nil {
		return fmt.Errorf("trainer: evaluate epoch %d: %w", t.state.Epoch, err)
	}
	value, err := res.Get(t.cfg.MetricForBest)
	if err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	cp, err := t.store.Save(checkpoint.Meta{
		Epoch:      t.state.Epoch,
		GlobalStep: t.state.GlobalStep,
		MetricName: t.cfg.MetricForBest,
		Metric:     value,
	}, t.model.State())
	if err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	improved := t.state.Best == nil || value > t.state.BestMetric
	if improved {
		if err := t.store.MarkBest(cp); err != nil {
			return fmt.Errorf("trainer: %w", err)
		}
		t.state.Best = cp
		t.state.BestMetric = value
		t.state.StepsSinceImprovement = 0
		t.state.Phase = Improved
	} else {
		t.state.StepsSinceImprovement++
		t.state.Phase = NotImproved
	}
	if _, err := t.store.Prune(); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}

	t.logger.Info("eval",
		logging.EpochKey, t.state.Epoch,
		logging.StepKey, t.state.GlobalStep,
		logging.MetricKey, t.cfg.MetricForBest,
		logging.ValueKey, value,
		logging.BestKey, t.state.BestMetric,
		logging.PatienceKey, t.cfg.Patience-t.state.StepsSinceImprovement,
	)
	entry := model.LogEntry{Phase: model.PhaseEval, Metrics: make(map[string]float64), Improved: improved}
	for name, v := range res.Map() {
		entry.Metrics["eval_"+name] = v
	}
	t.emit(ctx, entry)
	return nil
}

// rollback restores the best checkpoint's weights, if there is one.
func (t *Trainer) rollback() error {
	if t.state.Best == nil {
		return nil
	}
	if err := t.model.Restore(t.state.Best.State); err != nil {
		return fmt.Errorf("trainer: restore best checkpoint: %w", err)
	}
	t.logger.Debug("restored best checkpoint",
		logging.CheckpointKey, t.state.Best.Name(),
		logging.BestKey, t.state.BestMetric,
	)
	return nil
}

// emit fills in the position fields and writes entry. Output failures are
// logged and never stop training.
func (t *Trainer) emit(ctx context.Context, entry model.LogEntry) {
	entry.RunID = t.cfg.RunID
	entry.Epoch = t.state.Epoch
	entry.Step = t.state.GlobalStep
	entry.Timestamp = t.now()
	if err := t.out.Write(ctx, entry); err != nil {
		t.logger.Warn("log output failed", "error", err)
	}
}
