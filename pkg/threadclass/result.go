package threadclass

import "github.com/crimson-sun/threadclass/internal/engine"

// Result is the classification of one text.
// This is the stable public type; internal representations may evolve
// independently without breaking consumers.
type Result struct {
	Label      string             `json:"label"`            // Class name, or Unclassified
	Confidence float64            `json:"confidence"`       // Softmax probability of the top class
	Scores     map[string]float64 `json:"scores,omitempty"` // Every class, when WithScores is set
}

// Unclassified is the label of a Result whose confidence fell below the
// threshold set with WithConfidenceThreshold.
const Unclassified = engine.Unclassified
