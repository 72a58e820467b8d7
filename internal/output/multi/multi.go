package multi

import (
	"context"
	"errors"

	"github.com/crimson-sun/threadclass/internal/model"
	"github.com/crimson-sun/threadclass/internal/output"
)

// Multi fans out log entries to several outputs in order. A failing output
// does not stop delivery to the rest.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi over outputs. Nil outputs are skipped.
func New(outputs ...output.Output) *Multi {
	m := &Multi{}
	for _, o := range outputs {
		if o != nil {
			m.outputs = append(m.outputs, o)
		}
	}
	return m
}

// Write delivers entry to every wrapped output and joins their errors.
func (m *Multi) Write(ctx context.Context, entry model.LogEntry) error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped output and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
