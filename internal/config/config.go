package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crimson-sun/threadclass/internal/metrics"
	"github.com/crimson-sun/threadclass/internal/partition"
)

// Config holds all threadclass configuration. It is built once at startup and
// passed by value into every component; nothing reads the environment after
// Load returns.
type Config struct {
	Data    DataConfig
	Run     RunConfig
	Model   ModelConfig
	Output  OutputConfig
	Publish PublishConfig
	Log     LogConfig
}

// DataConfig selects the corpus and how it is split.
type DataConfig struct {
	Sources       []string // CSV / JSONL paths, read in order
	MinTextLength int      // records with text of this many runes or fewer are dropped
	TrainRatio    float64
	ValRatio      float64
	TestRatio     float64
	SplitPolicy   string // "keep-in-train" or "strict"
}

// RunConfig holds the training hyperparameters.
type RunConfig struct {
	MaxLength       int
	BatchSize       int
	Epochs          int
	LearningRate    float64
	WeightDecay     float64
	Seed            int64
	Patience        int
	CheckpointLimit int
	MetricForBest   string
	LoggingSteps    int
}

// ModelConfig selects the encoder, tokenizer and compute context.
type ModelConfig struct {
	Encoder       string // "onnx" or "hashed"
	EncoderPath   string // ONNX model file
	ORTLibPath    string // ONNX Runtime shared library; empty = next to the model
	Pooling       string // "mean" or "cls"
	HashDim       int    // hashed encoder dimensionality
	TokenizerPath string // vocab.txt (WordPiece) or tokenizer.json (HuggingFace)
	Device        string // "auto", "cpu", "cuda"
	Workers       int    // 0 = number of CPUs
	CacheSize     int    // encoded feature cache entries; 0 disables
}

// OutputConfig controls where the run writes.
type OutputConfig struct {
	Dir           string // final artifact set
	CheckpointDir string // per-epoch checkpoints; empty keeps them in memory
	LogFile       string // NDJSON run log; empty disables
	LogMaxSize    int64  // rotation threshold for LogFile in bytes; 0 disables
	Stdout        bool   // also write the run log to stdout
	Webhook       string // POST the run log to this URL; empty disables
}

// PublishConfig optionally copies the finished artifact set to object storage.
type PublishConfig struct {
	Target    string // "", "local" or "s3"
	LocalPath string
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// Split policies.
const (
	PolicyKeepInTrain = "keep-in-train"
	PolicyStrict      = "strict"
)

// Load reads configuration from environment variables with defaults matching
// the reference fine-tuning recipe.
func Load() Config {
	return Config{
		Data: DataConfig{
			Sources:       getenvList("THREADCLASS_SOURCES"),
			MinTextLength: getenvInt("THREADCLASS_MIN_TEXT_LENGTH", 20),
			TrainRatio:    getenvFloat("THREADCLASS_TRAIN_RATIO", 0.72),
			ValRatio:      getenvFloat("THREADCLASS_VAL_RATIO", 0.08),
			TestRatio:     getenvFloat("THREADCLASS_TEST_RATIO", 0.20),
			SplitPolicy:   getenv("THREADCLASS_SPLIT_POLICY", PolicyKeepInTrain),
		},
		Run: RunConfig{
			MaxLength:       getenvInt("THREADCLASS_MAX_LENGTH", 256),
			BatchSize:       getenvInt("THREADCLASS_BATCH_SIZE", 16),
			Epochs:          getenvInt("THREADCLASS_EPOCHS", 5),
			LearningRate:    getenvFloat("THREADCLASS_LEARNING_RATE", 2e-5),
			WeightDecay:     getenvFloat("THREADCLASS_WEIGHT_DECAY", 0.01),
			Seed:            int64(getenvInt("THREADCLASS_SEED", 42)),
			Patience:        getenvInt("THREADCLASS_PATIENCE", 5),
			CheckpointLimit: getenvInt("THREADCLASS_CHECKPOINT_LIMIT", 2),
			MetricForBest:   getenv("THREADCLASS_METRIC_FOR_BEST", metrics.F1Macro),
			LoggingSteps:    getenvInt("THREADCLASS_LOGGING_STEPS", 50),
		},
		Model: ModelConfig{
			Encoder:       getenv("THREADCLASS_ENCODER", "onnx"),
			EncoderPath:   getenv("THREADCLASS_ENCODER_PATH", "models/encoder.onnx"),
			ORTLibPath:    os.Getenv("THREADCLASS_ORT_LIB"),
			Pooling:       getenv("THREADCLASS_POOLING", "mean"),
			HashDim:       getenvInt("THREADCLASS_HASH_DIM", 1024),
			TokenizerPath: getenv("THREADCLASS_TOKENIZER_PATH", "models/vocab.txt"),
			Device:        getenv("THREADCLASS_DEVICE", "auto"),
			Workers:       getenvInt("THREADCLASS_WORKERS", 0),
			CacheSize:     getenvInt("THREADCLASS_CACHE_SIZE", 100000),
		},
		Output: OutputConfig{
			Dir:           getenv("THREADCLASS_OUTPUT_DIR", "hf_out"),
			CheckpointDir: getenv("THREADCLASS_CHECKPOINT_DIR", "hf_out_checkpoints"),
			LogFile:       getenv("THREADCLASS_LOG_FILE", "hf_out_logs/trainer_log.jsonl"),
			LogMaxSize:    int64(getenvInt("THREADCLASS_LOG_MAX_SIZE", 0)),
			Stdout:        getenvBool("THREADCLASS_LOG_STDOUT", false),
			Webhook:       os.Getenv("THREADCLASS_LOG_WEBHOOK"),
		},
		Publish: PublishConfig{
			Target:    os.Getenv("THREADCLASS_PUBLISH"),
			LocalPath: os.Getenv("THREADCLASS_PUBLISH_PATH"),
			Bucket:    os.Getenv("AWS_S3_BUCKET"),
			Region:    getenv("AWS_REGION", "us-east-1"),
			Prefix:    os.Getenv("THREADCLASS_PUBLISH_PREFIX"),
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		Log: LogConfig{
			Level:  getenv("THREADCLASS_LOG_LEVEL", "info"),
			Format: getenv("THREADCLASS_LOG_FORMAT", "text"),
		},
	}
}

// Validate checks the configuration for errors. It returns all problems found,
// joined into a single error.
func (c Config) Validate() error {
	var errs []error

	if len(c.Data.Sources) == 0 {
		errs = append(errs, errors.New("at least one corpus source is required (THREADCLASS_SOURCES)"))
	}
	for _, src := range c.Data.Sources {
		if _, err := os.Stat(src); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src, err))
		}
	}
	if c.Data.MinTextLength < 0 {
		errs = append(errs, fmt.Errorf("min text length must be >= 0, got %d", c.Data.MinTextLength))
	}
	ratios := partition.Ratios{Train: c.Data.TrainRatio, Val: c.Data.ValRatio, Test: c.Data.TestRatio}
	if err := ratios.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Data.SplitPolicy {
	case PolicyKeepInTrain, PolicyStrict:
	default:
		errs = append(errs, fmt.Errorf("invalid split policy %q (must be %s or %s)", c.Data.SplitPolicy, PolicyKeepInTrain, PolicyStrict))
	}

	if c.Run.MaxLength < 2 {
		errs = append(errs, fmt.Errorf("max length must be >= 2, got %d", c.Run.MaxLength))
	}
	if c.Run.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be >= 1, got %d", c.Run.BatchSize))
	}
	if c.Run.Epochs < 1 {
		errs = append(errs, fmt.Errorf("epochs must be >= 1, got %d", c.Run.Epochs))
	}
	if c.Run.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be > 0, got %v", c.Run.LearningRate))
	}
	if c.Run.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("weight decay must be >= 0, got %v", c.Run.WeightDecay))
	}
	if c.Run.Patience < 1 {
		errs = append(errs, fmt.Errorf("patience must be >= 1, got %d", c.Run.Patience))
	}
	if c.Run.CheckpointLimit < 0 {
		errs = append(errs, fmt.Errorf("checkpoint limit must be >= 0, got %d", c.Run.CheckpointLimit))
	}
	if !metrics.Valid(c.Run.MetricForBest) {
		errs = append(errs, fmt.Errorf("invalid metric for best %q (must be one of %s)", c.Run.MetricForBest, strings.Join(metrics.Names(), ", ")))
	}
	if c.Run.LoggingSteps < 0 {
		errs = append(errs, fmt.Errorf("logging steps must be >= 0, got %d", c.Run.LoggingSteps))
	}

	switch c.Model.Encoder {
	case "onnx":
		if _, err := os.Stat(c.Model.EncoderPath); err != nil {
			errs = append(errs, fmt.Errorf("encoder model %s: %w", c.Model.EncoderPath, err))
		}
	case "hashed":
		if c.Model.HashDim < 1 {
			errs = append(errs, fmt.Errorf("hash dim must be >= 1, got %d", c.Model.HashDim))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid encoder %q (must be onnx or hashed)", c.Model.Encoder))
	}
	switch c.Model.Pooling {
	case "mean", "cls":
	default:
		errs = append(errs, fmt.Errorf("invalid pooling %q (must be mean or cls)", c.Model.Pooling))
	}
	switch c.Model.Device {
	case "auto", "cpu", "cuda":
	default:
		errs = append(errs, fmt.Errorf("invalid device %q (must be auto, cpu or cuda)", c.Model.Device))
	}
	if _, err := os.Stat(c.Model.TokenizerPath); err != nil {
		errs = append(errs, fmt.Errorf("tokenizer %s: %w", c.Model.TokenizerPath, err))
	}
	if c.Model.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Model.Workers))
	}

	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output dir is required (THREADCLASS_OUTPUT_DIR)"))
	}
	if w := c.Output.Webhook; w != "" && !strings.HasPrefix(w, "http://") && !strings.HasPrefix(w, "https://") {
		errs = append(errs, fmt.Errorf("log webhook must be an http(s) URL, got %q", w))
	}

	switch c.Publish.Target {
	case "":
	case "local":
		if c.Publish.LocalPath == "" {
			errs = append(errs, errors.New("THREADCLASS_PUBLISH_PATH is required when publishing locally"))
		}
	case "s3":
		if c.Publish.Bucket == "" {
			errs = append(errs, errors.New("AWS_S3_BUCKET is required when publishing to s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid publish target %q (must be local or s3)", c.Publish.Target))
	}

	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getenvList splits a comma-separated variable, dropping empty entries.
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
