package threadclass

import "log/slog"

type options struct {
	threshold float64
	scores    bool
	batchSize int
	ortLib    string
	device    string
	workers   int
	cacheSize int
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*options)

// WithConfidenceThreshold sets the minimum top-class probability. Below it
// the result is labelled Unclassified. Default: 0, every text gets a class.
func WithConfidenceThreshold(t float64) Option {
	return func(o *options) { o.threshold = t }
}

// WithScores includes the full class distribution in every Result.
func WithScores() Option {
	return func(o *options) { o.scores = true }
}

// WithBatchSize sets how many texts share one forward pass. Default: 32.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithORTLibrary sets the ONNX Runtime shared library used by ONNX encoders.
// Default: looked up next to the encoder model.
func WithORTLibrary(path string) Option {
	return func(o *options) { o.ortLib = path }
}

// WithCompute selects the device ("auto", "cpu", "cuda") and worker count
// (0 = number of CPUs).
func WithCompute(device string, workers int) Option {
	return func(o *options) {
		o.device = device
		o.workers = workers
	}
}

// WithCacheSize keeps up to n encoded texts in memory so repeated inputs skip
// the encoder. Default: 0, disabled.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithLogger sets the diagnostic logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	return options{device: "auto"}
}
