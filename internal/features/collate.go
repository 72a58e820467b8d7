package features

import (
	"context"
	"fmt"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/model"
)

// Encoded is one example after transformation.
type Encoded struct {
	IDs   []int64
	Label int
}

// Batch is a padded mini-batch. The flat slices are [BatchSize * SeqLen],
// row-major; Sequences keeps the unpadded inputs.
type Batch struct {
	Sequences     [][]int64
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	BatchSize     int
	SeqLen        int
	PadID         int64
}

// Collate pads seqs to the longest sequence among them.
func Collate(seqs [][]int64, padID int64) Batch {
	b := Batch{Sequences: seqs, BatchSize: len(seqs), PadID: padID}
	for _, s := range seqs {
		b.SeqLen = max(b.SeqLen, len(s))
	}
	total := b.BatchSize * b.SeqLen
	b.InputIDs = make([]int64, total)
	b.AttentionMask = make([]int64, total)
	b.TokenTypeIDs = make([]int64, total)
	for i, s := range seqs {
		row := b.InputIDs[i*b.SeqLen : (i+1)*b.SeqLen]
		mask := b.AttentionMask[i*b.SeqLen : (i+1)*b.SeqLen]
		n := copy(row, s)
		for j := range row {
			if j < n {
				mask[j] = 1
			} else {
				row[j] = padID
			}
		}
	}
	return b
}

// CollateEncoded collates a slice of encoded examples and returns their
// labels alongside.
func CollateEncoded(items []Encoded, padID int64) (Batch, []int) {
	seqs := make([][]int64, len(items))
	labels := make([]int, len(items))
	for i, it := range items {
		seqs[i] = it.IDs
		labels[i] = it.Label
	}
	return Collate(seqs, padID), labels
}

// Lengths returns the unpadded length of every row.
func (b Batch) Lengths() []int {
	out := make([]int, len(b.Sequences))
	for i, s := range b.Sequences {
		out[i] = len(s)
	}
	return out
}

// EncodeAll transforms examples in parallel, preserving order. The first
// example that fails to encode aborts the whole call.
func EncodeAll(ctx context.Context, t Transformer, examples []model.Example, cc compute.Context) ([]Encoded, error) {
	out := make([]Encoded, len(examples))
	chunks := compute.Chunks(len(examples), 256)
	err := cc.ForEach(ctx, len(chunks), func(_ context.Context, c int) error {
		for i := chunks[c][0]; i < chunks[c][1]; i++ {
			ids, err := t.Encode(examples[i].Text)
			if err != nil {
				return fmt.Errorf("example %d: %w", i, err)
			}
			out[i] = Encoded{IDs: ids, Label: examples[i].LabelID}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("features: encode: %w", err)
	}
	return out, nil
}

// EncodeTexts transforms unlabelled texts, preserving order.
func EncodeTexts(t Transformer, texts []string) ([][]int64, error) {
	out := make([][]int64, len(texts))
	for i, text := range texts {
		ids, err := t.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("features: encode text %d: %w", i, err)
		}
		out[i] = ids
	}
	return out, nil
}
