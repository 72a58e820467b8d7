// Package features turns raw text into bounded token-id sequences and
// assembles them into padded batches.
package features

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigFile is the transformer configuration written by Save.
const ConfigFile = "tokenizer_config.json"

// Transformer kinds recorded in ConfigFile.
const (
	KindWordPiece   = "wordpiece"
	KindHuggingFace = "huggingface"
)

// Transformer maps text to token ids. Encode is deterministic, adds the
// model's special tokens and truncates to MaxLength. It never pads; padding is
// done per batch by Collate. Text that cannot be encoded is an error, never an
// empty sequence.
type Transformer interface {
	Encode(text string) ([]int64, error)
	PadID() int64
	MaxLength() int
	Save(dir string) error
}

// Config is the on-disk description of a saved transformer.
type Config struct {
	Type        string `json:"type"`
	VocabFile   string `json:"vocab_file"`
	MaxLength   int    `json:"max_length"`
	DoLowerCase bool   `json:"do_lower_case"`
	PadTokenID  int64  `json:"pad_token_id"`
}

// Open builds a transformer from a vocabulary file, choosing the kind by
// name: tokenizer.json (or any .json) is a HuggingFace tokenizer, anything
// else a WordPiece vocab.txt.
func Open(path string, maxLength int) (Transformer, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewHF(path, maxLength)
	}
	return NewWordPiece(path, maxLength, true)
}

// Load rebuilds a transformer saved into dir.
func Load(dir string) (Transformer, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("features: parse %s: %w", ConfigFile, err)
	}
	vocabPath := filepath.Join(dir, cfg.VocabFile)
	switch cfg.Type {
	case KindWordPiece:
		return NewWordPiece(vocabPath, cfg.MaxLength, cfg.DoLowerCase)
	case KindHuggingFace:
		return NewHF(vocabPath, cfg.MaxLength)
	}
	return nil, fmt.Errorf("features: unknown transformer type %q", cfg.Type)
}

func writeConfig(dir string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("features: encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644); err != nil {
		return fmt.Errorf("features: write config: %w", err)
	}
	return nil
}

// truncate bounds ids to max while keeping the trailing special token.
func truncate(ids []int64, max int) []int64 {
	if len(ids) <= max || max < 2 {
		return ids
	}
	last := ids[len(ids)-1]
	ids = ids[:max]
	ids[max-1] = last
	return ids
}
