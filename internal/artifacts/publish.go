package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crimson-sun/threadclass/internal/storage"
)

// Publish verifies the set at dir and uploads it under prefix. The manifest
// is uploaded last, so a reader that finds it can rely on every other file.
func Publish(ctx context.Context, dir string, store storage.Storage, prefix string) (*Manifest, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(m.Files)+1)
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	paths = append(paths, ManifestFile)

	for _, rel := range paths {
		if err := upload(ctx, store, filepath.Join(dir, filepath.FromSlash(rel)), storage.Key(prefix, rel)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func upload(ctx context.Context, store storage.Storage, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("artifacts: publish: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("artifacts: publish: %w", err)
	}
	if err := store.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("artifacts: publish: %w", err)
	}
	return nil
}
