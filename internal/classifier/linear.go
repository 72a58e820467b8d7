package classifier

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	spooky "github.com/dgryski/go-spooky"
	lru "github.com/hashicorp/golang-lru"
	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/threadclass/internal/encoder"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/optim"
	"github.com/crimson-sun/threadclass/internal/safetensors"
)

// File names inside a saved model directory.
const (
	WeightsFile = "model.safetensors"
	ConfigFile  = "config.json"
)

// Parameter names.
const (
	weightName = "classifier.weight"
	biasName   = "classifier.bias"
)

const architecture = "LinearHead"

// initStd matches the usual transformer head initialisation.
const initStd = 0.02

// LinearHead is a dense layer over the pooled output of a frozen encoder:
// logits = X·Wᵀ + b. Encoder outputs are cached by token sequence, so epochs
// after the first only pay for the head.
type LinearHead struct {
	enc    encoder.Encoder
	k, dim int
	weight *optim.Param // [k × dim]
	bias   *optim.Param // [k]
	cache  *lru.Cache

	lastX *mat.Dense // inputs of the last Train-mode forward
}

// Config is the saved model description.
type Config struct {
	Architecture string         `json:"architecture"`
	NumLabels    int            `json:"num_labels"`
	HiddenSize   int            `json:"hidden_size"`
	Encoder      encoder.Config `json:"encoder"`
}

// NewLinearHead returns a head with k outputs over enc. Weights are drawn
// from N(0, 0.02²) with a generator seeded by seed; biases start at zero.
// cacheSize <= 0 disables the feature cache.
func NewLinearHead(enc encoder.Encoder, k, cacheSize int, seed int64) (*LinearHead, error) {
	if k < 1 {
		return nil, fmt.Errorf("classifier: need at least one label, got %d", k)
	}
	h := &LinearHead{
		enc:    enc,
		k:      k,
		dim:    enc.Dim(),
		weight: optim.NewParam(weightName, false, k, enc.Dim()),
		bias:   optim.NewParam(biasName, true, k),
	}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("classifier: cache: %w", err)
		}
		h.cache = c
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(k)))
	for i := range h.weight.Data {
		h.weight.Data[i] = rng.NormFloat64() * initStd
	}
	return h, nil
}

// Forward implements Model.
func (h *LinearHead) Forward(ctx context.Context, b features.Batch, mode Mode) (*mat.Dense, error) {
	if b.BatchSize == 0 {
		return nil, errors.New("classifier: empty batch")
	}
	x, err := h.features(ctx, b)
	if err != nil {
		return nil, err
	}

	w := mat.NewDense(h.k, h.dim, h.weight.Data)
	logits := mat.NewDense(b.BatchSize, h.k, nil)
	logits.Mul(x, w.T())
	for i := 0; i < b.BatchSize; i++ {
		row := logits.RawRowView(i)
		for j, bj := range h.bias.Data {
			row[j] += bj
		}
	}

	if mode == Train {
		h.lastX = x
	}
	return logits, nil
}

// features returns the encoder outputs for b as a [BatchSize × dim] matrix,
// encoding only the rows not already cached.
func (h *LinearHead) features(ctx context.Context, b features.Batch) (*mat.Dense, error) {
	x := mat.NewDense(b.BatchSize, h.dim, nil)
	keys := make([]uint64, b.BatchSize)
	var missing []int
	for i, seq := range b.Sequences {
		keys[i] = seqKey(seq)
		if h.cache != nil {
			if v, ok := h.cache.Get(keys[i]); ok {
				setRow(x, i, v.([]float32))
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return x, nil
	}

	sub := b
	if len(missing) < b.BatchSize {
		seqs := make([][]int64, len(missing))
		for j, i := range missing {
			seqs[j] = b.Sequences[i]
		}
		sub = features.Collate(seqs, b.PadID)
	}
	vecs, err := h.enc.Encode(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("classifier: encode: %w", err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("classifier: encoder returned %d vectors for %d rows", len(vecs), len(missing))
	}
	for j, i := range missing {
		if len(vecs[j]) != h.dim {
			return nil, fmt.Errorf("classifier: encoder returned %d-dim vector, want %d", len(vecs[j]), h.dim)
		}
		setRow(x, i, vecs[j])
		if h.cache != nil {
			h.cache.Add(keys[i], vecs[j])
		}
	}
	return x, nil
}

func setRow(x *mat.Dense, i int, v []float32) {
	row := x.RawRowView(i)
	for j, f := range v {
		row[j] = float64(f)
	}
}

func seqKey(ids []int64) uint64 {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return spooky.Hash64(buf)
}

// Backward implements Model.
func (h *LinearHead) Backward(dLogits *mat.Dense) error {
	if h.lastX == nil {
		return errors.New("classifier: backward without a training forward pass")
	}
	r, c := dLogits.Dims()
	if xr, _ := h.lastX.Dims(); r != xr || c != h.k {
		return fmt.Errorf("classifier: gradient shape %dx%d, want %dx%d", r, c, xr, h.k)
	}

	var dW mat.Dense
	dW.Mul(dLogits.T(), h.lastX)
	gw := mat.NewDense(h.k, h.dim, h.weight.Grad)
	gw.Add(gw, &dW)

	for i := 0; i < r; i++ {
		for j, g := range dLogits.RawRowView(i) {
			h.bias.Grad[j] += g
		}
	}
	h.lastX = nil
	return nil
}

// Parameters implements Model.
func (h *LinearHead) Parameters() []*optim.Param {
	return []*optim.Param{h.weight, h.bias}
}

// NumLabels implements Model.
func (h *LinearHead) NumLabels() int { return h.k }

// Encoder returns the frozen encoder under the head.
func (h *LinearHead) Encoder() encoder.Encoder { return h.enc }

// State implements Model.
func (h *LinearHead) State() State { return StateOf(h.Parameters()) }

// Restore implements Model.
func (h *LinearHead) Restore(s State) error { return RestoreParams(h.Parameters(), s) }

// Save writes model.safetensors, config.json and the encoder's files into
// dir.
func (h *LinearHead) Save(dir string) error {
	f := &safetensors.File{
		Tensors:  h.State(),
		Metadata: map[string]string{"format": "threadclass"},
	}
	if err := safetensors.WriteFile(filepath.Join(dir, WeightsFile), f, safetensors.F32); err != nil {
		return fmt.Errorf("classifier: save weights: %w", err)
	}
	cfg := Config{
		Architecture: architecture,
		NumLabels:    h.k,
		HiddenSize:   h.dim,
		Encoder:      h.enc.Config(),
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("classifier: encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644); err != nil {
		return fmt.Errorf("classifier: save config: %w", err)
	}
	if err := h.enc.Save(dir); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}

// Close releases the encoder.
func (h *LinearHead) Close() error { return h.enc.Close() }

// Load rebuilds a LinearHead saved by Save.
func Load(dir string, opts encoder.Options, cacheSize int) (*LinearHead, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("classifier: parse config: %w", err)
	}
	if cfg.Architecture != architecture {
		return nil, fmt.Errorf("classifier: unsupported architecture %q", cfg.Architecture)
	}

	weights, err := safetensors.ReadFile(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	enc, err := encoder.Open(cfg.Encoder, dir, opts)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if enc.Dim() != cfg.HiddenSize {
		enc.Close()
		return nil, fmt.Errorf("classifier: encoder dim %d != hidden size %d", enc.Dim(), cfg.HiddenSize)
	}
	h, err := NewLinearHead(enc, cfg.NumLabels, cacheSize, 0)
	if err != nil {
		enc.Close()
		return nil, err
	}
	if err := h.Restore(weights.Tensors); err != nil {
		enc.Close()
		return nil, err
	}
	return h, nil
}
