package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/partition"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"THREADCLASS_SOURCES", "THREADCLASS_MAX_LENGTH", "THREADCLASS_BATCH_SIZE",
		"THREADCLASS_EPOCHS", "THREADCLASS_LEARNING_RATE", "THREADCLASS_SEED",
		"THREADCLASS_PATIENCE", "THREADCLASS_CHECKPOINT_LIMIT",
		"THREADCLASS_METRIC_FOR_BEST", "THREADCLASS_SPLIT_POLICY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Empty(t, cfg.Data.Sources)
	assert.Equal(t, 20, cfg.Data.MinTextLength)
	assert.InDelta(t, 1.0, cfg.Data.TrainRatio+cfg.Data.ValRatio+cfg.Data.TestRatio, 1e-9)
	assert.Equal(t, PolicyKeepInTrain, cfg.Data.SplitPolicy)
	assert.Equal(t, 256, cfg.Run.MaxLength)
	assert.Equal(t, 16, cfg.Run.BatchSize)
	assert.Equal(t, 5, cfg.Run.Epochs)
	assert.Equal(t, 2e-5, cfg.Run.LearningRate)
	assert.Equal(t, int64(42), cfg.Run.Seed)
	assert.Equal(t, 5, cfg.Run.Patience)
	assert.Equal(t, 2, cfg.Run.CheckpointLimit)
	assert.Equal(t, "f1_macro", cfg.Run.MetricForBest)
}

func TestLoad_Sources(t *testing.T) {
	t.Setenv("THREADCLASS_SOURCES", "a.csv, b.csv,,c.jsonl ")

	cfg := Load()

	assert.Equal(t, []string{"a.csv", "b.csv", "c.jsonl"}, cfg.Data.Sources)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("THREADCLASS_EPOCHS", "12")
	t.Setenv("THREADCLASS_LEARNING_RATE", "0.001")
	t.Setenv("THREADCLASS_PATIENCE", "not-a-number")
	t.Setenv("THREADCLASS_LOG_STDOUT", "true")

	cfg := Load()

	assert.Equal(t, 12, cfg.Run.Epochs)
	assert.Equal(t, 0.001, cfg.Run.LearningRate)
	assert.Equal(t, 5, cfg.Run.Patience, "unparsable value falls back to default")
	assert.True(t, cfg.Output.Stdout)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "vocab.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	cfg := Load()
	cfg.Data.Sources = []string{filepath.Join(dir, "a.csv")}
	cfg.Data.SplitPolicy = PolicyKeepInTrain
	cfg.Model.Encoder = "hashed"
	cfg.Model.HashDim = 64
	cfg.Model.Pooling = "mean"
	cfg.Model.Device = "cpu"
	cfg.Model.TokenizerPath = filepath.Join(dir, "vocab.txt")
	cfg.Run.MetricForBest = "f1_macro"
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Webhook = ""
	cfg.Publish = PublishConfig{}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no sources", func(c *Config) { c.Data.Sources = nil }, "THREADCLASS_SOURCES"},
		{"missing source", func(c *Config) { c.Data.Sources = []string{"/nonexistent.csv"} }, "nonexistent.csv"},
		{"ratios sum", func(c *Config) { c.Data.TestRatio = 0.5 }, "sum to 1"},
		{"zero train ratio", func(c *Config) { c.Data.TrainRatio, c.Data.ValRatio = 0, 0.8 }, "train > 0"},
		{"split policy", func(c *Config) { c.Data.SplitPolicy = "lenient" }, "split policy"},
		{"batch size", func(c *Config) { c.Run.BatchSize = 0 }, "batch size"},
		{"epochs", func(c *Config) { c.Run.Epochs = 0 }, "epochs"},
		{"learning rate", func(c *Config) { c.Run.LearningRate = 0 }, "learning rate"},
		{"patience", func(c *Config) { c.Run.Patience = 0 }, "patience"},
		{"metric", func(c *Config) { c.Run.MetricForBest = "loss" }, "metric for best"},
		{"encoder", func(c *Config) { c.Model.Encoder = "bert" }, "encoder"},
		{"onnx model missing", func(c *Config) {
			c.Model.Encoder = "onnx"
			c.Model.EncoderPath = "/nonexistent/model.onnx"
		}, "encoder model"},
		{"pooling", func(c *Config) { c.Model.Pooling = "max" }, "pooling"},
		{"device", func(c *Config) { c.Model.Device = "tpu" }, "device"},
		{"tokenizer", func(c *Config) { c.Model.TokenizerPath = "/nonexistent/vocab.txt" }, "tokenizer"},
		{"webhook url", func(c *Config) { c.Output.Webhook = "hooks.example.com/run" }, "log webhook"},
		{"s3 bucket", func(c *Config) { c.Publish.Target = "s3" }, "AWS_S3_BUCKET"},
		{"publish target", func(c *Config) { c.Publish.Target = "ftp" }, "publish target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RatiosAgreeWithPartition(t *testing.T) {
	for _, r := range []partition.Ratios{
		{Train: 0.5, Val: 0.3, Test: 0.3},
		{Train: 0, Val: 0.5, Test: 0.5},
		{Train: 0.8, Val: -0.1, Test: 0.3},
	} {
		cfg := validConfig(t)
		cfg.Data.TrainRatio, cfg.Data.ValRatio, cfg.Data.TestRatio = r.Train, r.Val, r.Test

		want := r.Validate()
		require.Error(t, want)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), want.Error())
	}

	cfg := validConfig(t)
	r := partition.DefaultRatios
	cfg.Data.TrainRatio, cfg.Data.ValRatio, cfg.Data.TestRatio = r.Train, r.Val, r.Test
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Run.BatchSize = 0
	cfg.Run.Epochs = -1
	cfg.Model.Pooling = "max"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batch size", "epochs", "pooling"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int
		want     int
	}{
		{"empty uses fallback", "", 1000, 1000},
		{"valid int", "500", 1000, 500},
		{"zero", "0", 1000, 0},
		{"invalid falls back", "abc", 1000, 1000},
		{"negative", "-1", 1000, -1},
	}

	const key = "THREADCLASS_TEST_GETENVINT"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(key, tt.envVal)
			assert.Equal(t, tt.want, getenvInt(key, tt.fallback))
		})
	}
}
