// Package optim updates model parameters from their gradients.
package optim

import "math"

// Param is one trainable tensor, stored flat in row-major order. Grad has the
// same length as Data and is accumulated by the model's backward pass.
type Param struct {
	Name    string
	Shape   []int
	Data    []float64
	Grad    []float64
	NoDecay bool // excluded from weight decay (biases)
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, noDecay bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:    name,
		Shape:   append([]int(nil), shape...),
		Data:    make([]float64, n),
		Grad:    make([]float64, n),
		NoDecay: noDecay,
	}
}

// Optimizer applies one update per call to Step.
type Optimizer interface {
	Step()
	ZeroGrad()
	LearningRate() float64
}

// Schedule maps an optimizer step (0-based) to a learning rate.
type Schedule interface {
	Rate(step int) float64
}

// Constant is a fixed learning rate.
type Constant float64

// Rate implements Schedule.
func (c Constant) Rate(int) float64 { return float64(c) }

// LinearSchedule decays linearly from Base to zero over Total steps, with an
// optional linear warmup from zero over Warmup steps.
type LinearSchedule struct {
	Base   float64
	Total  int
	Warmup int
}

// Rate implements Schedule.
func (s LinearSchedule) Rate(step int) float64 {
	if s.Warmup > 0 && step < s.Warmup {
		return s.Base * float64(step) / float64(s.Warmup)
	}
	if s.Total <= s.Warmup {
		return s.Base
	}
	remaining := float64(s.Total-step) / float64(s.Total-s.Warmup)
	return s.Base * math.Max(0, remaining)
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	Params      []*Param
	Schedule    Schedule
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdamW returns an AdamW optimizer with β1 0.9, β2 0.999 and ε 1e-8.
func NewAdamW(params []*Param, schedule Schedule, weightDecay float64) *AdamW {
	a := &AdamW{
		Params:      params,
		Schedule:    schedule,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// LearningRate returns the rate the next Step will use.
func (a *AdamW) LearningRate() float64 {
	return a.Schedule.Rate(a.step)
}

// Steps returns the number of updates applied so far.
func (a *AdamW) Steps() int { return a.step }

// Step applies one update to every parameter.
func (a *AdamW) Step() {
	lr := a.Schedule.Rate(a.step)
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range a.Params {
		m, v := a.m[i], a.v[i]
		decay := !p.NoDecay && a.WeightDecay > 0
		for j, g := range p.Grad {
			if decay {
				p.Data[j] -= lr * a.WeightDecay * p.Data[j]
			}
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= lr * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}

// ZeroGrad clears every gradient.
func (a *AdamW) ZeroGrad() {
	for _, p := range a.Params {
		clear(p.Grad)
	}
}
