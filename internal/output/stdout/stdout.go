package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/threadclass/internal/model"
)

// Output writes one JSON log entry per line to stdout.
type Output struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New creates a stdout Output, optionally pretty-printed.
func New(pretty bool) *Output {
	return NewWriter(os.Stdout, pretty)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, pretty bool) *Output {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc}
}

func (o *Output) Write(_ context.Context, entry model.LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(entry); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
