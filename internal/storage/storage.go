// Package storage publishes finished artifact sets to a local directory or an
// S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Storage is a flat key/value object store.
type Storage interface {
	// Put stores the contents of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Get opens the object stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Type selects a backend.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config describes a backend.
type Config struct {
	Type      Type
	LocalPath string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // S3-compatible endpoint; empty uses AWS
}

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("storage: object not found")

// New builds the backend cfg selects.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeLocal:
		return NewLocal(cfg.LocalPath)
	case TypeS3:
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// Key joins a prefix and a slash-separated relative path into an object key.
func Key(prefix, rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// ContentType guesses a MIME type for an artifact file.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
