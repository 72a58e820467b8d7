package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/artifacts"
	"github.com/crimson-sun/threadclass/internal/checkpoint"
	"github.com/crimson-sun/threadclass/internal/config"
	"github.com/crimson-sun/threadclass/internal/engine"
	"github.com/crimson-sun/threadclass/internal/labels"
	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/model"
	"github.com/crimson-sun/threadclass/internal/output"
)

func TestRun_EndToEnd(t *testing.T) {
	cfg := writeFixture(t, 50)
	cfg.Publish = config.PublishConfig{Target: "local", LocalPath: filepath.Join(t.TempDir(), "published")}

	hist := &output.History{}
	var report bytes.Buffer
	sum, err := New(cfg,
		WithRunID("run-e2e"),
		WithOutput(hist),
		WithReport(&report),
		WithLogger(logging.Discard()),
	).Run(context.Background())
	require.NoError(t, err)

	// Corpus and split.
	assert.Equal(t, []string{"birds", "cats", "dogs"}, sum.Classes)
	assert.Equal(t, 150, sum.Corpus.Kept)
	assert.Equal(t, 1, sum.Corpus.DroppedMissing)
	assert.Equal(t, 1, sum.Corpus.DroppedShort)
	assert.Equal(t, 150, sum.SplitSizes[model.SplitTrain]+sum.SplitSizes[model.SplitVal]+sum.SplitSizes[model.SplitTest])
	for _, w := range sum.ClassWeights {
		assert.InDelta(t, 1.0, w, 1e-9, "balanced classes weigh 1")
	}

	// Quality.
	require.NotNil(t, sum.Test)
	assert.Greater(t, sum.Test.F1Macro, 0.8)
	assert.Greater(t, sum.Val.F1Macro, 0.8)
	assert.Equal(t, sum.Training.BestMetric, sum.Val.F1Macro, "model holds the best checkpoint's weights")
	assert.Contains(t, report.String(), "macro avg")
	assert.Contains(t, report.String(), "cats")

	// Artifacts.
	m, err := artifacts.Load(cfg.Output.Dir)
	require.NoError(t, err)
	assert.Equal(t, "run-e2e", m.RunID)
	assert.Contains(t, m.Metrics, "test")
	codec, err := labels.Load(cfg.Output.Dir)
	require.NoError(t, err)
	assert.Equal(t, sum.Classes, codec.Classes())

	// Checkpoints: best plus at most one other.
	names, best, err := checkpoint.List(cfg.Output.CheckpointDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(names), 2)
	assert.Contains(t, names, best)
	cp, err := checkpoint.Open(filepath.Join(cfg.Output.CheckpointDir, best))
	require.NoError(t, err)
	assert.Equal(t, sum.Training.Best.Epoch, cp.Epoch)

	// Run log.
	entries := readLog(t, cfg.Output.LogFile)
	require.NotEmpty(t, entries)
	phases := map[string]int{}
	for _, e := range entries {
		phases[e.Phase]++
		assert.Equal(t, "run-e2e", e.RunID)
	}
	assert.Equal(t, sum.Training.Epochs, phases[model.PhaseEval])
	assert.Equal(t, 1, phases[model.PhaseTest])
	assert.Positive(t, phases[model.PhaseTrain])
	assert.Len(t, hist.Entries(), len(entries))

	// Publishing.
	assert.FileExists(t, filepath.Join(sum.PublishedTo, artifacts.ManifestFile))

	// Reload and classify.
	p, err := engine.Open(cfg.Output.Dir, engine.Options{})
	require.NoError(t, err)
	defer p.Close()
	preds, err := p.Predict(context.Background(), []string{
		"my kitten keeps purring and meowing at the litter box",
		"the puppy will fetch the bone again",
	})
	require.NoError(t, err)
	assert.Equal(t, "cats", preds[0].Label)
	assert.Equal(t, "dogs", preds[1].Label)
}

func TestRun_Deterministic(t *testing.T) {
	cfg := writeFixture(t, 20)
	cfg.Run.Epochs = 3
	cfg.Output.CheckpointDir = ""
	cfg.Output.LogFile = ""

	a, err := New(cfg).Run(context.Background())
	require.NoError(t, err)

	cfg.Output.Dir = filepath.Join(t.TempDir(), "second")
	b, err := New(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.SplitSizes, b.SplitSizes)
	assert.Equal(t, a.Training.BestMetric, b.Training.BestMetric)
	assert.Equal(t, a.Val, b.Val)

	wa, err := os.ReadFile(filepath.Join(a.OutputDir, artifacts.ModelDir, "model.safetensors"))
	require.NoError(t, err)
	wb, err := os.ReadFile(filepath.Join(b.OutputDir, artifacts.ModelDir, "model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, wa, wb)
}

func TestRun_StrictSplitNamesClass(t *testing.T) {
	cfg := writeFixture(t, 20)
	cfg.Data.SplitPolicy = config.PolicyStrict

	// Append a singleton class.
	f, err := os.OpenFile(cfg.Data.Sources[0], os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("zebras,a single striped zebra post here,zebra\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = New(cfg).Run(context.Background())
	var dse *model.DegenerateSplitError
	require.True(t, errors.As(err, &dse), "got %v", err)
	assert.Equal(t, "zebras", dse.Label)
	assert.NoDirExists(t, cfg.Output.Dir)
}

func TestRun_BadSourceIsFatal(t *testing.T) {
	cfg := writeFixture(t, 20)
	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("subreddit,body\nx,y\n"), 0o644))
	cfg.Data.Sources = append(cfg.Data.Sources, bad)

	_, err := New(cfg).Run(context.Background())
	var dse *model.DataSourceError
	require.True(t, errors.As(err, &dse))
	assert.NoDirExists(t, cfg.Output.Dir)
}

func TestRun_Cancelled(t *testing.T) {
	cfg := writeFixture(t, 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, cfg.Output.Dir)
}

func readLog(t *testing.T, path string) []model.LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []model.LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e model.LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}
