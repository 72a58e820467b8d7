package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearSchedule(t *testing.T) {
	s := LinearSchedule{Base: 1, Total: 10}
	assert.Equal(t, 1.0, s.Rate(0))
	assert.InDelta(t, 0.5, s.Rate(5), 1e-12)
	assert.Equal(t, 0.0, s.Rate(10))
	assert.Equal(t, 0.0, s.Rate(12))

	w := LinearSchedule{Base: 1, Total: 10, Warmup: 2}
	assert.Equal(t, 0.0, w.Rate(0))
	assert.InDelta(t, 0.5, w.Rate(1), 1e-12)
	assert.InDelta(t, 1.0, w.Rate(2), 1e-12)
	assert.InDelta(t, 0.5, w.Rate(6), 1e-12)
}

func TestAdamW_MinimisesQuadratic(t *testing.T) {
	// f(x) = Σ (x_i - 3)^2
	p := NewParam("x", true, 2)
	opt := NewAdamW([]*Param{p}, Constant(0.1), 0)

	for i := 0; i < 500; i++ {
		for j := range p.Data {
			p.Grad[j] = 2 * (p.Data[j] - 3)
		}
		opt.Step()
		opt.ZeroGrad()
	}
	assert.InDelta(t, 3, p.Data[0], 1e-2)
	assert.InDelta(t, 3, p.Data[1], 1e-2)
	assert.Equal(t, 500, opt.Steps())
}

func TestAdamW_FirstStepSize(t *testing.T) {
	// With bias correction the first update is lr·sign(g).
	p := NewParam("w", true, 1)
	p.Grad[0] = 0.25
	opt := NewAdamW([]*Param{p}, Constant(0.01), 0)
	opt.Step()
	assert.InDelta(t, -0.01, p.Data[0], 1e-6)
}

func TestAdamW_WeightDecaySkipsNoDecay(t *testing.T) {
	w := NewParam("w", false, 1)
	b := NewParam("b", true, 1)
	w.Data[0], b.Data[0] = 1, 1

	opt := NewAdamW([]*Param{w, b}, Constant(0.1), 0.5)
	opt.Step()

	assert.InDelta(t, 0.95, w.Data[0], 1e-12)
	assert.Equal(t, 1.0, b.Data[0])
}

func TestAdamW_LearningRateFollowsSchedule(t *testing.T) {
	p := NewParam("w", false, 1)
	opt := NewAdamW([]*Param{p}, LinearSchedule{Base: 0.2, Total: 4}, 0)
	var rates []float64
	for i := 0; i < 4; i++ {
		rates = append(rates, opt.LearningRate())
		opt.Step()
	}
	assert.InDeltaSlice(t, []float64{0.2, 0.15, 0.1, 0.05}, rates, 1e-12)
}

func TestZeroGrad(t *testing.T) {
	p := NewParam("w", false, 2, 3)
	assert.Equal(t, []int{2, 3}, p.Shape)
	assert.Len(t, p.Data, 6)
	for i := range p.Grad {
		p.Grad[i] = math.Pi
	}
	NewAdamW([]*Param{p}, Constant(1), 0).ZeroGrad()
	assert.Equal(t, make([]float64, 6), p.Grad)
}
