// Package output defines destinations for a run's log history. Concrete
// destinations live in subpackages.
package output

import (
	"context"
	"sync"

	"github.com/crimson-sun/threadclass/internal/model"
)

// Output receives log entries as training progresses.
type Output interface {
	Write(ctx context.Context, entry model.LogEntry) error
	Close() error
}

// Discard drops every entry.
var Discard Output = discard{}

type discard struct{}

func (discard) Write(context.Context, model.LogEntry) error { return nil }
func (discard) Close() error                                { return nil }

// History keeps every entry in memory, in write order.
type History struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

// Write implements Output.
func (h *History) Write(_ context.Context, entry model.LogEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

// Close implements Output.
func (h *History) Close() error { return nil }

// Entries returns a copy of the recorded entries.
func (h *History) Entries() []model.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.LogEntry(nil), h.entries...)
}
