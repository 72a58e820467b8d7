// Package webhook posts run log entries to an HTTP endpoint, for example a
// training dashboard or a chat-ops relay.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/crimson-sun/threadclass/internal/model"
)

const (
	defaultBatchSize     = 20
	defaultFlushInterval = 10 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultBackoff       = time.Second
	maxRetries           = 3
)

// Payload is the JSON body of every POST.
type Payload struct {
	RunID   string           `json:"run_id,omitempty"`
	Entries []model.LogEntry `json:"entries"`
}

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets how many entries accumulate before a flush.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = max(n, 1) }
}

// WithFlushInterval sets the longest an entry waits in the buffer.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithBackoff sets the delay before the first retry. It doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(o *Output) { o.backoff = d }
}

// WithLogger sets the logger used for failed timer flushes.
func WithLogger(l *slog.Logger) Option {
	return func(o *Output) { o.logger = l }
}

// Output batches log entries and POSTs them as a Payload. A batch is sent
// when it is full, when the flush interval elapses, or on Close. 5xx
// responses are retried with exponential backoff.
type Output struct {
	client        *http.Client
	url           string
	headers       map[string]string
	batchSize     int
	flushInterval time.Duration
	backoff       time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	pending []model.LogEntry
	timer   *time.Timer
}

// New creates a webhook output targeting url.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:        &http.Client{Timeout: defaultTimeout},
		url:           url,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		backoff:       defaultBackoff,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Write buffers entry and flushes when the batch is full.
func (o *Output) Write(ctx context.Context, entry model.LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, entry)
	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}
	if o.timer == nil {
		o.timer = time.AfterFunc(o.flushInterval, o.flushOnTimer)
	}
	return nil
}

// Close sends whatever is buffered.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked(context.Background())
}

func (o *Output) flushOnTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timer = nil
	if err := o.flushLocked(context.Background()); err != nil {
		o.logger.Warn("webhook flush failed", "error", err)
	}
}

// flushLocked posts the pending batch. o.mu must be held.
func (o *Output) flushLocked(ctx context.Context) error {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) == 0 {
		return nil
	}
	batch := o.pending
	o.pending = nil

	body, err := json.Marshal(Payload{RunID: batch[0].RunID, Entries: batch})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return o.post(ctx, body)
}

func (o *Output) post(ctx context.Context, body []byte) error {
	var lastErr error
	delay := o.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w", ctx.Err())
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
