package encoder

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/features"
)

func TestMeanPool(t *testing.T) {
	// 1 row, seqLen 3, dim 2; the third token is padding.
	hidden := []float32{1, 2, 3, 4, 5, 6}
	mask := []int64{1, 1, 0}

	assert.InDeltaSlice(t, []float32{2, 3}, meanPool(hidden, mask, 1, 3, 2), 1e-6)
}

func TestMeanPool_Batch(t *testing.T) {
	hidden := []float32{10, 20, 30, 40, 5, 15, 0, 0}
	mask := []int64{1, 1, 1, 0}

	assert.InDeltaSlice(t, []float32{20, 30, 5, 15}, meanPool(hidden, mask, 2, 2, 2), 1e-6)
}

func TestMeanPool_AllPadding(t *testing.T) {
	out := meanPool([]float32{1, 2, 3, 4}, []int64{0, 0}, 1, 2, 2)
	assert.Equal(t, []float32{0, 0}, out)
}

func TestCLSPool(t *testing.T) {
	hidden := []float32{
		1, 2, 3, 4, // row 0: tokens [1 2] [3 4]
		5, 6, 7, 8, // row 1: tokens [5 6] [7 8]
	}
	assert.Equal(t, []float32{1, 2, 5, 6}, clsPool(hidden, 2, 2, 2))
}

func hashed(t *testing.T, dim int) *Hashed {
	t.Helper()
	h, err := NewHashed(dim, compute.Context{Device: compute.CPU, Workers: 2})
	require.NoError(t, err)
	return h
}

func TestHashed_UnitNormAndDeterministic(t *testing.T) {
	h := hashed(t, 64)
	b := features.Collate([][]int64{{2, 10, 11, 3}, {2, 12, 3}, {}}, 0)

	a, err := h.Encode(context.Background(), b)
	require.NoError(t, err)
	again, err := h.Encode(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	require.Len(t, a, 3)
	for _, v := range a[:2] {
		require.Len(t, v, 64)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1, math.Sqrt(norm), 1e-5)
	}
	assert.Equal(t, make([]float32, 64), a[2], "empty sequence encodes to zeros")
}

func TestHashed_IgnoresPadding(t *testing.T) {
	h := hashed(t, 32)
	short := features.Collate([][]int64{{2, 7, 3}}, 0)
	padded := features.Collate([][]int64{{2, 7, 3}, {2, 7, 8, 9, 10, 3}}, 0)

	a, err := h.Encode(context.Background(), short)
	require.NoError(t, err)
	b, err := h.Encode(context.Background(), padded)
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
}

func TestHashed_DifferentInputsDiffer(t *testing.T) {
	h := hashed(t, 256)
	b := features.Collate([][]int64{{2, 100, 101, 3}, {2, 500, 501, 3}}, 0)
	out, err := h.Encode(context.Background(), b)
	require.NoError(t, err)
	assert.NotEqual(t, out[0], out[1])
}

func TestHashed_Config(t *testing.T) {
	h := hashed(t, 16)
	assert.Equal(t, Config{Type: KindHashed, Dim: 16}, h.Config())

	e, err := Open(h.Config(), t.TempDir(), Options{Compute: compute.Default()})
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dim())

	_, err = NewHashed(0, compute.Default())
	assert.Error(t, err)

	_, err = Open(Config{Type: "word2vec"}, "", Options{})
	assert.Error(t, err)
}

const testModelPath = "../../models/encoder.onnx"

func TestONNX_Encode(t *testing.T) {
	if _, err := os.Stat(testModelPath); os.IsNotExist(err) {
		t.Skip("model files not found; place an ONNX encoder in models/")
	}
	e, err := NewONNX(testModelPath, PoolMean, Options{Compute: compute.Default()})
	require.NoError(t, err)
	defer e.Close()

	assert.Greater(t, e.Dim(), 0)

	// [CLS] hello [SEP] / [CLS] world [SEP] in the bert-base-uncased vocab.
	b := features.Collate([][]int64{{101, 7592, 102}, {101, 2088, 102}}, 0)
	out, err := e.Encode(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, out[0], e.Dim())

	allZero := true
	for _, v := range out[0] {
		if v != 0 {
			allZero = false
			break
		}
	}
	assert.False(t, allZero, "model produced an all-zero embedding")
}
