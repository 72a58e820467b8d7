package features

import (
	"fmt"
	"os"
	"path/filepath"
)

// maxWordRunes is the longest basic token WordPiece will try to split; longer
// ones map straight to [UNK].
const maxWordRunes = 200

// WordPiece is a BERT-style transformer over a vocab.txt.
type WordPiece struct {
	vocab     *vocab
	maxLength int
	lower     bool
}

// NewWordPiece loads a vocab.txt. maxLength counts the [CLS] and [SEP] tokens.
func NewWordPiece(vocabPath string, maxLength int, lower bool) (*WordPiece, error) {
	if maxLength < 2 {
		return nil, fmt.Errorf("features: max length must be >= 2, got %d", maxLength)
	}
	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return &WordPiece{vocab: v, maxLength: maxLength, lower: lower}, nil
}

// Encode returns [CLS] pieces... [SEP], truncated to the max length. It never
// fails: unknown words map to [UNK].
func (w *WordPiece) Encode(text string) ([]int64, error) {
	pieces := w.Tokens(text)
	if n := w.maxLength - 2; len(pieces) > n {
		pieces = pieces[:n]
	}
	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, w.vocab.cls)
	for _, p := range pieces {
		ids = append(ids, w.vocab.id(p))
	}
	return append(ids, w.vocab.sep), nil
}

// Tokens returns the WordPiece segmentation of text without special tokens.
func (w *WordPiece) Tokens(text string) []string {
	var out []string
	for _, word := range basicTokens(text, w.lower) {
		out = append(out, w.split(word)...)
	}
	return out
}

// split greedily matches the longest vocabulary prefix, continuing with
// "##"-prefixed pieces. A word with any unmatched remainder becomes [UNK].
func (w *WordPiece) split(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{"[UNK]"}
	}
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var match string
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = "##" + cand
			}
			if w.vocab.has(cand) {
				match = cand
				break
			}
		}
		if match == "" {
			return []string{"[UNK]"}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// PadID implements Transformer.
func (w *WordPiece) PadID() int64 { return w.vocab.pad }

// MaxLength implements Transformer.
func (w *WordPiece) MaxLength() int { return w.maxLength }

// VocabSize returns the number of vocabulary entries.
func (w *WordPiece) VocabSize() int { return len(w.vocab.tokens) }

// Save writes vocab.txt and the transformer config into dir.
func (w *WordPiece) Save(dir string) error {
	f, err := os.Create(filepath.Join(dir, "vocab.txt"))
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := w.vocab.write(f); err != nil {
		f.Close()
		return fmt.Errorf("features: write vocab: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	return writeConfig(dir, Config{
		Type:        KindWordPiece,
		VocabFile:   "vocab.txt",
		MaxLength:   w.maxLength,
		DoLowerCase: w.lower,
		PadTokenID:  w.vocab.pad,
	})
}
