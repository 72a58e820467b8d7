package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	spooky "github.com/dgryski/go-spooky"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/features"
)

// Hashed is a signed feature-hashing encoder over token unigrams and
// bigrams. It needs no model file, so it serves CPU-only runs and tests.
// Output vectors are L2-normalised.
type Hashed struct {
	dim int
	cc  compute.Context
}

// NewHashed returns a hashed encoder producing dim-sized vectors.
func NewHashed(dim int, cc compute.Context) (*Hashed, error) {
	if dim < 1 {
		return nil, fmt.Errorf("encoder: hash dim must be >= 1, got %d", dim)
	}
	return &Hashed{dim: dim, cc: cc}, nil
}

// Encode implements Encoder. Only the unpadded sequences are read.
func (h *Hashed) Encode(ctx context.Context, b features.Batch) ([][]float32, error) {
	out := make([][]float32, len(b.Sequences))
	err := h.cc.ForEach(ctx, len(b.Sequences), func(_ context.Context, i int) error {
		out[i] = h.vector(b.Sequences[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Hashed) vector(ids []int64) []float32 {
	v := make([]float32, h.dim)
	var key [16]byte
	for i, id := range ids {
		binary.LittleEndian.PutUint64(key[:8], uint64(id))
		h.add(v, spooky.Hash64(key[:8]))
		if i+1 < len(ids) {
			binary.LittleEndian.PutUint64(key[8:], uint64(ids[i+1]))
			h.add(v, spooky.Hash64(key[:]))
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

// add folds one hashed feature into v: the low bits pick the slot and the top
// bit the sign.
func (h *Hashed) add(v []float32, hash uint64) {
	slot := (hash & (1<<63 - 1)) % uint64(h.dim)
	if hash>>63 == 1 {
		v[slot]--
	} else {
		v[slot]++
	}
}

// Dim implements Encoder.
func (h *Hashed) Dim() int { return h.dim }

// Config implements Encoder.
func (h *Hashed) Config() Config { return Config{Type: KindHashed, Dim: h.dim} }

// Save is a no-op; the config alone rebuilds the encoder.
func (h *Hashed) Save(string) error { return nil }

// Close is a no-op.
func (h *Hashed) Close() error { return nil }
