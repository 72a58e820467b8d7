package stdout

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/model"
)

func testEntry() model.LogEntry {
	return model.LogEntry{
		RunID:     "run-1",
		Phase:     model.PhaseEval,
		Epoch:     2,
		Step:      40,
		Metrics:   map[string]float64{"f1_macro": 0.61},
		Improved:  true,
		Timestamp: time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC),
	}
}

// captureStdout redirects os.Stdout to capture output.
func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestOutputCompactJSON(t *testing.T) {
	result := captureStdout(func() {
		out := New(false)
		require.NoError(t, out.Write(context.Background(), testEntry()))
	})

	assert.Equal(t, 1, strings.Count(result, "\n"), "compact output is one line per entry")

	var got model.LogEntry
	require.NoError(t, json.Unmarshal([]byte(result), &got))
	assert.Equal(t, testEntry(), got)
}

func TestOutputPrettyJSON(t *testing.T) {
	var buf bytes.Buffer
	out := NewWriter(&buf, true)
	require.NoError(t, out.Write(context.Background(), testEntry()))
	require.NoError(t, out.Close())

	assert.Contains(t, buf.String(), "\n  \"phase\": \"eval\"")
}

func TestOutputOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	out := NewWriter(&buf, false)
	require.NoError(t, out.Write(context.Background(), model.LogEntry{Phase: model.PhaseTrain, Step: 1, Loss: 0.7}))

	s := buf.String()
	assert.Contains(t, s, `"loss":0.7`)
	assert.NotContains(t, s, "metrics")
	assert.NotContains(t, s, "improved")
}
