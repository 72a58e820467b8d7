// Package classifier defines the trainable model the trainer drives and a
// linear classification head over a frozen encoder.
package classifier

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/optim"
	"github.com/crimson-sun/threadclass/internal/safetensors"
)

// Mode selects training or inference behaviour for Forward.
type Mode int

const (
	// Train records what Backward needs.
	Train Mode = iota
	// Eval is read-only: no activations are recorded and parameters are
	// never touched.
	Eval
)

func (m Mode) String() string {
	if m == Eval {
		return "eval"
	}
	return "train"
}

// Model is the trainable collaborator of the training loop.
type Model interface {
	// Forward returns logits of shape [BatchSize × NumLabels].
	Forward(ctx context.Context, b features.Batch, mode Mode) (*mat.Dense, error)
	// Backward accumulates parameter gradients for the last Train-mode
	// Forward, given the gradient of the loss with respect to its logits.
	Backward(dLogits *mat.Dense) error
	Parameters() []*optim.Param
	NumLabels() int
	// State returns a deep copy of the trainable state.
	State() State
	Restore(State) error
	Save(dir string) error
}

// Tensor is a named entry of a State.
type Tensor = safetensors.Tensor

// State is a snapshot of a model's trainable parameters keyed by name.
type State map[string]Tensor

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for name, t := range s {
		out[name] = Tensor{
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
		}
	}
	return out
}

// StateOf snapshots params.
func StateOf(params []*optim.Param) State {
	s := make(State, len(params))
	for _, p := range params {
		s[p.Name] = Tensor{
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Data...),
		}
	}
	return s
}

// RestoreParams copies s into params in place, so optimizer references stay
// valid. Every parameter must be present with a matching size.
func RestoreParams(params []*optim.Param, s State) error {
	for _, p := range params {
		t, ok := s[p.Name]
		if !ok {
			return fmt.Errorf("classifier: state has no tensor %q", p.Name)
		}
		if len(t.Data) != len(p.Data) {
			return fmt.Errorf("classifier: tensor %q has %d values, want %d", p.Name, len(t.Data), len(p.Data))
		}
		copy(p.Data, t.Data)
	}
	return nil
}

// Argmax returns the index of the largest logit in every row.
func Argmax(logits *mat.Dense) []int {
	r, _ := logits.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return out
}
