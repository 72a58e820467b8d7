package model

import "time"

// Log entry phases.
const (
	PhaseTrain = "train"
	PhaseEval  = "eval"
	PhaseTest  = "test"
)

// LogEntry is one record of a run's log history: a periodic training-loss
// report or the result of an evaluation pass.
type LogEntry struct {
	RunID        string             `json:"run_id,omitempty"`
	Phase        string             `json:"phase"`
	Epoch        int                `json:"epoch"`
	Step         int                `json:"step"`
	Loss         float64            `json:"loss,omitempty"`
	LearningRate float64            `json:"learning_rate,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Improved     bool               `json:"improved,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}
