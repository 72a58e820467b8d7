package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/model"
)

func testEntry(step int) model.LogEntry {
	return model.LogEntry{
		RunID:        "run-1",
		Phase:        model.PhaseTrain,
		Epoch:        1,
		Step:         step,
		Loss:         0.6931,
		LearningRate: 2e-5,
		Timestamp:    time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestWriteProducesValidNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trainer_log.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, out.Write(context.Background(), testEntry(i*50)))
	}
	require.NoError(t, out.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 5)
	for i, line := range lines {
		var e model.LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e), "line %d", i)
		assert.Equal(t, (i+1)*50, e.Step)
	}
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	for run := 0; run < 2; run++ {
		out, err := New(path)
		require.NoError(t, err)
		require.NoError(t, out.Write(context.Background(), testEntry(run)))
		require.NoError(t, out.Close())
	}
	assert.Len(t, readLines(t, path), 2)
}

func TestRotationTriggersAtMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")

	// Each line is well over 100 bytes, so every write after the first rotates.
	out, err := New(path, WithMaxSize(200))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, out.Write(context.Background(), testEntry(i)))
	}
	require.NoError(t, out.Close())

	assert.FileExists(t, path+".1")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size(), "current file is empty after rotation")
}

func TestFlushAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	require.NoError(t, out.Write(context.Background(), testEntry(1)))
	require.NoError(t, out.Flush())
	assert.Len(t, readLines(t, path), 1)

	require.NoError(t, out.Write(context.Background(), testEntry(2)))
	require.NoError(t, out.Close())
	assert.Len(t, readLines(t, path), 2)
}

func TestConcurrentWritesSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.Write(context.Background(), testEntry(i))
		}()
	}
	wg.Wait()
	require.NoError(t, out.Close())

	assert.Len(t, readLines(t, path), 50)
}
