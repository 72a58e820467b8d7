// Package corpus reads labelled forum posts from CSV and JSONL sources and
// turns them into validated records.
package corpus

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/crimson-sun/threadclass/internal/model"
)

// Required column names.
const (
	ColLabel = "subreddit"
	ColBody  = "selftext"
	ColTitle = "title"
)

var requiredColumns = []string{ColLabel, ColBody, ColTitle}

// Source yields the raw rows of one corpus file.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]model.RawRecord, error)
}

// Constructor builds a Source reading path.
type Constructor func(path string) Source

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{}
	formats  = map[string]string{} // file extension -> format
)

// Register adds a source format and the file extensions that select it.
func Register(format string, ctor Constructor, exts ...string) {
	mu.Lock()
	defer mu.Unlock()
	registry[format] = ctor
	for _, ext := range exts {
		formats[strings.ToLower(ext)] = format
	}
}

// Get returns the constructor registered for format.
func Get(format string) (Constructor, error) {
	mu.RLock()
	defer mu.RUnlock()
	ctor, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("corpus: unknown source format %q", format)
	}
	return ctor, nil
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns a Source for path, choosing the format by file extension.
func Open(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mu.RLock()
	format, ok := formats[ext]
	mu.RUnlock()
	if !ok {
		return nil, &model.DataSourceError{Source: path, Err: fmt.Errorf("unsupported file extension %q (formats: %s)", ext, strings.Join(Formats(), ", "))}
	}
	ctor, err := Get(format)
	if err != nil {
		return nil, err
	}
	return ctor(path), nil
}

// OpenAll opens every path in order.
func OpenAll(paths []string) ([]Source, error) {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		src, err := Open(p)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}
