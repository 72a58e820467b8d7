package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/pkg/threadclass"
)

func TestTrainConfigOverrides(t *testing.T) {
	t.Setenv("THREADCLASS_SOURCES", "env.csv")
	t.Setenv("THREADCLASS_EPOCHS", "7")

	cfg := (&trainCmd{}).config()
	assert.Equal(t, []string{"env.csv"}, cfg.Data.Sources)
	assert.Equal(t, 7, cfg.Run.Epochs)

	seed := int64(9)
	cfg = (&trainCmd{
		Sources: []string{"a.csv", "b.jsonl"},
		Output:  "out",
		Epochs:  2,
		Seed:    &seed,
		Encoder: "hashed",
		Publish: "local",
	}).config()
	assert.Equal(t, []string{"a.csv", "b.jsonl"}, cfg.Data.Sources)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, 2, cfg.Run.Epochs)
	assert.Equal(t, int64(9), cfg.Run.Seed)
	assert.Equal(t, "hashed", cfg.Model.Encoder)
	assert.Equal(t, "local", cfg.Publish.Target)
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("first post\n\n  second post  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first post", "second post"}, lines)
}

func TestWriteNDJSON(t *testing.T) {
	var buf bytes.Buffer
	err := writeNDJSON(&buf, []string{"a", "b"}, []threadclass.Result{
		{Label: "adhd", Confidence: 0.9},
		{Label: threadclass.Unclassified, Confidence: 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"text":"a","label":"adhd","confidence":0.9}`+"\n"+
			`{"text":"b","label":"UNCLASSIFIED","confidence":0.3}`+"\n",
		buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
