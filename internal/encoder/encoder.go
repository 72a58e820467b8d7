// Package encoder turns padded token batches into fixed-size feature vectors.
// Encoders are frozen: they hold no trainable parameters.
package encoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/features"
)

// Encoder kinds.
const (
	KindONNX   = "onnx"
	KindHashed = "hashed"
)

// Pooling strategies for token-level encoder outputs.
const (
	PoolMean = "mean"
	PoolCLS  = "cls"
)

// Encoder produces one vector of length Dim per batch row.
type Encoder interface {
	Encode(ctx context.Context, b features.Batch) ([][]float32, error)
	Dim() int
	Config() Config
	// Save writes whatever files Open needs to rebuild the encoder into dir.
	Save(dir string) error
	Close() error
}

// Config describes a saved encoder.
type Config struct {
	Type    string `json:"type"`
	Dim     int    `json:"dim"`
	Pooling string `json:"pooling,omitempty"`
	File    string `json:"file,omitempty"`
}

// Options carries process-level settings that are not part of a saved Config.
type Options struct {
	Compute compute.Context
	ORTLib  string // ONNX Runtime shared library; empty = next to the model
}

// Open rebuilds an encoder from cfg, resolving files relative to dir.
func Open(cfg Config, dir string, opts Options) (Encoder, error) {
	switch cfg.Type {
	case KindHashed:
		return NewHashed(cfg.Dim, opts.Compute)
	case KindONNX:
		return NewONNX(filepath.Join(dir, cfg.File), cfg.Pooling, opts)
	}
	return nil, fmt.Errorf("encoder: unknown type %q", cfg.Type)
}

// copyFile copies src to dst.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
