package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestWeightedCrossEntropy_UniformIsMean(t *testing.T) {
	logits := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		0, 0, 0,
	})
	got, _, err := WeightedCrossEntropy{}.Compute(logits, []int{2, 0})
	require.NoError(t, err)

	l0 := -math.Log(math.Exp(3) / (math.Exp(1) + math.Exp(2) + math.Exp(3)))
	l1 := math.Log(3)
	assert.InDelta(t, (l0+l1)/2, got, 1e-12)

	same, _, err := WeightedCrossEntropy{Weights: []float64{1, 1, 1}}.Compute(logits, []int{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, got, same, 1e-12)
}

func TestWeightedCrossEntropy_WeightedMean(t *testing.T) {
	logits := mat.NewDense(2, 2, []float64{
		0, 0,
		2, 0,
	})
	w := []float64{1, 3}
	got, _, err := WeightedCrossEntropy{Weights: w}.Compute(logits, []int{1, 0})
	require.NoError(t, err)

	l0 := math.Log(2)
	l1 := math.Log(1 + math.Exp(-2))
	assert.InDelta(t, (3*l0+1*l1)/(3+1), got, 1e-12)
}

func TestWeightedCrossEntropy_GradientMatchesFiniteDifference(t *testing.T) {
	data := []float64{
		0.3, -1.2, 0.8, 0.1,
		1.5, 0.2, -0.4, 0.0,
		-0.7, 0.9, 0.4, 2.1,
	}
	targets := []int{2, 0, 1}
	ce := WeightedCrossEntropy{Weights: []float64{0.5, 2, 1, 1.5}}

	_, grad, err := ce.Compute(mat.NewDense(3, 4, append([]float64(nil), data...)), targets)
	require.NoError(t, err)

	const h = 1e-6
	for i := range data {
		plus := append([]float64(nil), data...)
		minus := append([]float64(nil), data...)
		plus[i] += h
		minus[i] -= h
		lp, _, err := ce.Compute(mat.NewDense(3, 4, plus), targets)
		require.NoError(t, err)
		lm, _, err := ce.Compute(mat.NewDense(3, 4, minus), targets)
		require.NoError(t, err)

		numeric := (lp - lm) / (2 * h)
		assert.InDelta(t, numeric, grad.At(i/4, i%4), 1e-6, "element %d", i)
	}
}

func TestWeightedCrossEntropy_LargeLogitsStable(t *testing.T) {
	logits := mat.NewDense(1, 2, []float64{1000, -1000})
	got, grad, err := WeightedCrossEntropy{}.Compute(logits, []int{0})
	require.NoError(t, err)
	assert.True(t, Finite(got))
	assert.InDelta(t, 0, got, 1e-9)
	assert.True(t, Finite(grad.At(0, 1)))
}

func TestWeightedCrossEntropy_NaNPropagates(t *testing.T) {
	logits := mat.NewDense(1, 2, []float64{math.NaN(), 0})
	got, _, err := WeightedCrossEntropy{}.Compute(logits, []int{1})
	require.NoError(t, err)
	assert.False(t, Finite(got))
}

func TestWeightedCrossEntropy_Errors(t *testing.T) {
	logits := mat.NewDense(1, 2, []float64{0, 0})

	_, _, err := WeightedCrossEntropy{}.Compute(logits, []int{0, 1})
	assert.Error(t, err)

	_, _, err = WeightedCrossEntropy{Weights: []float64{1}}.Compute(logits, []int{0})
	assert.Error(t, err)

	_, _, err = WeightedCrossEntropy{}.Compute(logits, []int{2})
	assert.Error(t, err)
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	var sum float64
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, p[2], p[1])
	assert.Greater(t, p[1], p[0])
}

func TestFunc(t *testing.T) {
	var l Loss = Func(func(*mat.Dense, []int) (float64, *mat.Dense, error) { return 7, nil, nil })
	got, _, err := l.Compute(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
}
