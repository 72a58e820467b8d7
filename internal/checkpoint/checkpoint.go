// Package checkpoint keeps the model snapshots taken after each evaluation,
// bounding how many non-best snapshots are retained.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/safetensors"
)

// File names inside a checkpoint directory.
const (
	StateFile   = "model.safetensors"
	TrainerFile = "trainer_state.json"
	bestFile    = "BEST"
	dirPrefix   = "checkpoint-"
)

// Meta describes the training position a checkpoint was taken at.
type Meta struct {
	Epoch      int     `json:"epoch"`
	GlobalStep int     `json:"global_step"`
	MetricName string  `json:"metric_name"`
	Metric     float64 `json:"metric"`
}

// Checkpoint is one retained snapshot.
type Checkpoint struct {
	Meta
	State classifier.State
	Dir   string // empty for in-memory checkpoints
}

// Name returns the checkpoint's directory name.
func (c *Checkpoint) Name() string {
	return fmt.Sprintf("%s%d", dirPrefix, c.Epoch)
}

// Store holds the retained checkpoints in production order. When dir is set,
// every checkpoint is also written under it.
type Store struct {
	dir    string
	limit  int
	logger *slog.Logger

	retained []*Checkpoint
	best     *Checkpoint
}

// NewStore returns a store keeping at most limit non-best checkpoints. An
// empty dir keeps checkpoints in memory only. Checkpoints and the best marker
// left in dir by an earlier run are removed, so dir only ever holds this
// run's snapshots.
func NewStore(dir string, limit int, logger *slog.Logger) (*Store, error) {
	if limit < 0 {
		return nil, fmt.Errorf("checkpoint: limit must be >= 0, got %d", limit)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		if err := clearStale(dir, logger); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir, limit: limit, logger: logger}, nil
}

func clearStale(dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		stale := name == bestFile || name == bestFile+".tmp" ||
			(e.IsDir() && (strings.HasPrefix(name, dirPrefix) || strings.HasPrefix(name, ".tmp-"+dirPrefix)))
		if !stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("checkpoint: clear %s: %w", name, err)
		}
		logger.Debug("stale checkpoint removed", logging.CheckpointKey, name)
	}
	return nil
}

// Save snapshots state. The state is deep-copied, so the caller may keep
// mutating its model.
func (s *Store) Save(meta Meta, state classifier.State) (*Checkpoint, error) {
	cp := &Checkpoint{Meta: meta, State: state.Clone()}
	if s.dir != "" {
		dir, err := s.write(cp)
		if err != nil {
			return nil, err
		}
		cp.Dir = dir
	}
	s.retained = append(s.retained, cp)
	s.logger.Debug("checkpoint saved",
		logging.CheckpointKey, cp.Name(),
		logging.EpochKey, meta.Epoch,
		logging.MetricKey, meta.MetricName,
		logging.ValueKey, meta.Metric,
	)
	return cp, nil
}

// write stores cp under a temporary name and renames it into place, so a
// checkpoint directory is either complete or absent.
func (s *Store) write(cp *Checkpoint) (string, error) {
	final := filepath.Join(s.dir, cp.Name())
	tmp := filepath.Join(s.dir, ".tmp-"+cp.Name()+"-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	fail := func(err error) (string, error) {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("checkpoint: %s: %w", cp.Name(), err)
	}

	f := &safetensors.File{Tensors: cp.State}
	if err := safetensors.WriteFile(filepath.Join(tmp, StateFile), f, safetensors.F64); err != nil {
		return fail(err)
	}
	meta, err := json.MarshalIndent(cp.Meta, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(tmp, TrainerFile), meta, 0o644); err != nil {
		return fail(err)
	}
	if err := os.RemoveAll(final); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fail(err)
	}
	return final, nil
}

// MarkBest records cp as the best checkpoint so far.
func (s *Store) MarkBest(cp *Checkpoint) error {
	s.best = cp
	if s.dir == "" {
		return nil
	}
	tmp := filepath.Join(s.dir, bestFile+".tmp")
	if err := os.WriteFile(tmp, []byte(cp.Name()+"\n"), 0o644); err != nil {
		return fmt.Errorf("checkpoint: mark best: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, bestFile)); err != nil {
		return fmt.Errorf("checkpoint: mark best: %w", err)
	}
	return nil
}

// Best returns the best checkpoint, or nil before any was marked.
func (s *Store) Best() *Checkpoint { return s.best }

// Retained returns the retained checkpoints, oldest first.
func (s *Store) Retained() []*Checkpoint {
	return append([]*Checkpoint(nil), s.retained...)
}

// Prune evicts the oldest non-best checkpoints until at most limit remain.
// The best checkpoint is never evicted. It returns the evicted checkpoints.
func (s *Store) Prune() ([]*Checkpoint, error) {
	nonBest := 0
	for _, cp := range s.retained {
		if cp != s.best {
			nonBest++
		}
	}
	excess := nonBest - s.limit
	if excess <= 0 {
		return nil, nil
	}

	var evicted []*Checkpoint
	kept := s.retained[:0]
	for _, cp := range s.retained {
		if excess > 0 && cp != s.best {
			evicted = append(evicted, cp)
			excess--
			continue
		}
		kept = append(kept, cp)
	}
	s.retained = kept

	for _, cp := range evicted {
		if cp.Dir != "" {
			if err := os.RemoveAll(cp.Dir); err != nil {
				return evicted, fmt.Errorf("checkpoint: evict %s: %w", cp.Name(), err)
			}
		}
		s.logger.Debug("checkpoint evicted", logging.CheckpointKey, cp.Name())
	}
	return evicted, nil
}

// Open reads a checkpoint directory written by a Store.
func Open(dir string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, TrainerFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", TrainerFile, err)
	}
	f, err := safetensors.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return &Checkpoint{Meta: meta, State: f.Tensors, Dir: dir}, nil
}

// List returns the checkpoint directory names under dir and the name marked
// best, if any.
func List(dir string) (names []string, best string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) {
			names = append(names, e.Name())
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, bestFile)); err == nil {
		best = strings.TrimSpace(string(data))
	}
	return names, best, nil
}
