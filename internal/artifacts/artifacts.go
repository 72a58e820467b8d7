// Package artifacts writes and verifies the on-disk artifact set of a
// finished run: model, tokenizer, label map and a manifest that is written
// last and makes the set valid.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/threadclass/internal/labels"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/model"
)

// Layout of an artifact set.
const (
	ManifestFile = "manifest.json"
	ModelDir     = "model"
	TokenizerDir = "tokenizer"

	manifestVersion = 1
)

// Saver writes its files into a directory.
type Saver interface {
	Save(dir string) error
}

// Set is everything a run persists.
type Set struct {
	RunID     string
	Model     Saver
	Tokenizer Saver
	Labels    *labels.Codec
	// Metrics holds final scores keyed by split, e.g. "val" and "test".
	Metrics map[string]map[string]float64
	// Extra files copied verbatim, keyed by relative slash path.
	Extra map[string][]byte
}

// File is one manifest entry.
type File struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest lists every file of a set with its checksum. A directory without
// a manifest is not a valid artifact set.
type Manifest struct {
	Version   int                           `json:"version"`
	RunID     string                        `json:"run_id"`
	CreatedAt time.Time                     `json:"created_at"`
	Classes   []string                      `json:"classes"`
	Metrics   map[string]map[string]float64 `json:"metrics,omitempty"`
	Files     []File                        `json:"files"`
}

// Writer persists artifact sets.
type Writer struct {
	logger *slog.Logger
	now    func() time.Time
	// retries is how many extra attempts a transient failure gets.
	retries int
}

// NewWriter returns a Writer that retries a transient failure once.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Writer{logger: logger, now: time.Now, retries: 1}
}

// Write persists set into dir. Files are staged in a sibling directory,
// the manifest is written last, and the staging directory then replaces dir
// by rename. On failure nothing is left at dir except what was there before,
// and the error is a *model.PersistenceError.
func (w *Writer) Write(dir string, set Set) (*Manifest, error) {
	if set.Model == nil || set.Tokenizer == nil || set.Labels == nil {
		return nil, &model.PersistenceError{Artifact: dir, Err: errors.New("model, tokenizer and labels are required")}
	}
	dir = filepath.Clean(dir)
	parent, base := filepath.Split(dir)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &model.PersistenceError{Artifact: dir, Err: err}
	}

	var m *Manifest
	staging := filepath.Join(parent, "."+base+".staging-"+uuid.NewString())
	err := w.retry("stage", func() error {
		os.RemoveAll(staging)
		var err error
		m, err = w.stage(staging, set)
		return err
	})
	if err != nil {
		os.RemoveAll(staging)
		return nil, err
	}

	if err := w.retry("swap", func() error { return swap(staging, dir) }); err != nil {
		os.RemoveAll(staging)
		return nil, err
	}
	w.logger.Info("artifacts written",
		logging.PathKey, dir,
		logging.RunIDKey, m.RunID,
		"artifact.files", len(m.Files),
	)
	return m, nil
}

func (w *Writer) retry(step string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *model.PersistenceError
		if !errors.As(err, &pe) {
			pe = &model.PersistenceError{Artifact: step, Err: err}
			err = pe
		}
		if !transient(pe.Err) || attempt == w.retries {
			return err
		}
		w.logger.Warn("artifact write failed, retrying", "step", step, "attempt", attempt+1, "error", err)
	}
	return err
}

// transient reports whether an I/O failure may succeed on a second attempt.
// Missing paths, permission problems and invalid arguments never do.
func transient(err error) bool {
	return !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid)
}

func (w *Writer) stage(staging string, set Set) (*Manifest, error) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{ModelDir, func() error { return saveInto(filepath.Join(staging, ModelDir), set.Model) }},
		{TokenizerDir, func() error { return saveInto(filepath.Join(staging, TokenizerDir), set.Tokenizer) }},
		{labels.FileName, func() error { return set.Labels.Save(staging) }},
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, &model.PersistenceError{Artifact: staging, Err: err}
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, &model.PersistenceError{Artifact: s.name, Err: err}
		}
	}
	for rel, data := range set.Extra {
		full := filepath.Join(staging, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, &model.PersistenceError{Artifact: rel, Err: err}
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return nil, &model.PersistenceError{Artifact: rel, Err: err}
		}
	}

	files, err := checksum(staging)
	if err != nil {
		return nil, &model.PersistenceError{Artifact: "checksums", Err: err}
	}
	m := &Manifest{
		Version:   manifestVersion,
		RunID:     set.RunID,
		CreatedAt: w.now().UTC(),
		Classes:   set.Labels.Classes(),
		Metrics:   set.Metrics,
		Files:     files,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, &model.PersistenceError{Artifact: ManifestFile, Err: err}
	}
	if err := writeSync(filepath.Join(staging, ManifestFile), data); err != nil {
		return nil, &model.PersistenceError{Artifact: ManifestFile, Err: err}
	}
	return m, nil
}

func saveInto(dir string, s Saver) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return s.Save(dir)
}

func writeSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// swap moves staging to dir, replacing any previous set. The previous set
// is restored if the final rename fails.
func swap(staging, dir string) error {
	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".old-"+uuid.NewString())
		if err := os.Rename(dir, old); err != nil {
			return &model.PersistenceError{Artifact: dir, Err: err}
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if old != "" {
			os.Rename(old, dir)
		}
		return &model.PersistenceError{Artifact: dir, Err: err}
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

// checksum lists every regular file under root except the manifest, sorted by
// path.
func checksum(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFile {
			return nil
		}
		sum, size, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Size: size, SHA256: sum})
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ReadManifest reads the manifest of the set at dir without verifying files.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifacts: %s is not a complete artifact set: no %s", dir, ManifestFile)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("artifacts: parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("artifacts: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// Load reads the manifest at dir and verifies the size and checksum of every
// listed file. A set that fails verification is refused.
func Load(dir string) (*Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range m.Files {
		sum, size, err := hashFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, fmt.Errorf("artifacts: verify %s: %w", f.Path, err)
		}
		if size != f.Size || sum != f.SHA256 {
			return nil, fmt.Errorf("artifacts: verify %s: checksum mismatch", f.Path)
		}
	}
	return m, nil
}
