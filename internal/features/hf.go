package features

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HF wraps a HuggingFace tokenizer.json. Special tokens are those the
// tokenizer's post-processor adds.
type HF struct {
	tk        *tokenizer.Tokenizer
	path      string
	maxLength int
	pad       int64
}

// NewHF loads a tokenizer.json.
func NewHF(path string, maxLength int) (*HF, error) {
	if maxLength < 2 {
		return nil, fmt.Errorf("features: max length must be >= 2, got %d", maxLength)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("features: load %s: %w", path, err)
	}
	h := &HF{tk: tk, path: path, maxLength: maxLength}
	for _, name := range []string{"[PAD]", "<pad>"} {
		if id, ok := tk.TokenToId(name); ok {
			h.pad = int64(id)
			break
		}
	}
	return h, nil
}

// Encode implements Transformer.
func (h *HF) Encode(text string) ([]int64, error) {
	enc, err := h.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("features: tokenize: %w", err)
	}
	if len(enc.Ids) == 0 {
		return nil, errors.New("features: tokenize: no tokens produced")
	}
	ids := make([]int64, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int64(id)
	}
	return truncate(ids, h.maxLength), nil
}

// PadID implements Transformer.
func (h *HF) PadID() int64 { return h.pad }

// MaxLength implements Transformer.
func (h *HF) MaxLength() int { return h.maxLength }

// Save copies tokenizer.json into dir and writes the transformer config.
func (h *HF) Save(dir string) error {
	src, err := os.Open(h.path)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("features: copy tokenizer: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	return writeConfig(dir, Config{
		Type:       KindHuggingFace,
		VocabFile:  "tokenizer.json",
		MaxLength:  h.maxLength,
		PadTokenID: h.pad,
	})
}
