package model

import "fmt"

// DataSourceError reports an unreadable or malformed corpus source. It is
// fatal: no partial corpus is trained on.
type DataSourceError struct {
	Source string
	Err    error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %v", e.Source, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// UnknownLabelError reports a label (or label id) outside the fitted label map.
type UnknownLabelError struct {
	Label string
	ID    int
}

func (e *UnknownLabelError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("unknown label %q", e.Label)
	}
	return fmt.Sprintf("unknown label id %d", e.ID)
}

// DegenerateSplitError reports a class that is absent from a split that
// requires it.
type DegenerateSplitError struct {
	Split   string
	ClassID int
	Label   string // filled in when the label map is known
}

func (e *DegenerateSplitError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("degenerate split: class %d (%q) has no examples in %s", e.ClassID, e.Label, e.Split)
	}
	return fmt.Sprintf("degenerate split: class %d has no examples in %s", e.ClassID, e.Split)
}

// NumericInstabilityError reports a non-finite loss. The run is aborted;
// checkpoints already written stay valid.
type NumericInstabilityError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability: loss=%v at epoch %d batch %d", e.Loss, e.Epoch, e.Batch)
}

// PersistenceError reports a failure to write the artifact set.
type PersistenceError struct {
	Artifact string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Artifact, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
