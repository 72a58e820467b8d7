package classweights

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/model"
)

func labelsFor(counts ...int) []int {
	var out []int
	for class, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, class)
		}
	}
	return out
}

func TestEstimate_Balanced(t *testing.T) {
	w, err := Estimate(labelsFor(10, 10, 10), 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, w, 1e-12)
}

func TestEstimate_InverseFrequency(t *testing.T) {
	// N=100, K=2: 90 and 10.
	w, err := Estimate(labelsFor(90, 10), 2)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/180.0, w[0], 1e-12)
	assert.InDelta(t, 5.0, w[1], 1e-12)
	assert.Greater(t, w[1], w[0])
}

func TestEstimate_WeightedCountIsTotal(t *testing.T) {
	distributions := [][]int{
		{1, 1},
		{500, 30, 7, 1},
		{3, 99, 12},
		{1000},
	}
	for _, counts := range distributions {
		labels := labelsFor(counts...)
		w, err := Estimate(labels, len(counts))
		require.NoError(t, err)

		var sum float64
		for i, c := range counts {
			assert.Greater(t, w[i], 0.0)
			sum += float64(c) * w[i]
		}
		assert.InDelta(t, float64(len(labels)), sum, 1e-9, "counts %v", counts)
	}
}

func TestEstimate_MissingClass(t *testing.T) {
	_, err := Estimate(labelsFor(5, 0, 5), 3)

	var dse *model.DegenerateSplitError
	require.True(t, errors.As(err, &dse))
	assert.Equal(t, 1, dse.ClassID)
	assert.Equal(t, model.SplitTrain, dse.Split)
}

func TestEstimate_OutOfRange(t *testing.T) {
	_, err := Estimate([]int{0, 3}, 2)
	var ule *model.UnknownLabelError
	assert.True(t, errors.As(err, &ule))

	_, err = Estimate(nil, 0)
	assert.Error(t, err)
}

func TestUniform(t *testing.T) {
	assert.Equal(t, Vector{1, 1, 1, 1}, Uniform(4))
}
