package threadclass

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/artifacts"
	"github.com/crimson-sun/threadclass/internal/classifier"
	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/encoder"
	"github.com/crimson-sun/threadclass/internal/features"
	"github.com/crimson-sun/threadclass/internal/labels"
	"github.com/crimson-sun/threadclass/internal/logging"
)

// writeArtifacts saves an untrained hashed-encoder model so the public API can
// be exercised without a training run.
func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	vocab := filepath.Join(dir, "vocab.txt")
	words := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "focus", "keys", "worry", "panic", "sleep"}
	require.NoError(t, os.WriteFile(vocab, []byte(strings.Join(words, "\n")+"\n"), 0o644))

	wp, err := features.NewWordPiece(vocab, 32, true)
	require.NoError(t, err)
	enc, err := encoder.NewHashed(64, compute.Default())
	require.NoError(t, err)
	head, err := classifier.NewLinearHead(enc, 3, 0, 1)
	require.NoError(t, err)
	defer head.Close()
	codec, err := labels.New([]string{"adhd", "anxiety", "insomnia"})
	require.NoError(t, err)

	out := filepath.Join(dir, "hf_out")
	_, err = artifacts.NewWriter(logging.Discard()).Write(out, artifacts.Set{
		RunID: "pkg-test", Model: head, Tokenizer: wp, Labels: codec,
	})
	require.NoError(t, err)
	return out
}

func TestOpen(t *testing.T) {
	c, err := Open(writeArtifacts(t), WithCompute("cpu", 1))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"adhd", "anxiety", "insomnia"}, c.Labels())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "threadclass: "))

	_, err = Open(writeArtifacts(t), WithCompute("tpu", 0))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	c, err := Open(writeArtifacts(t), WithScores())
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Classify("cannot focus, lost my keys again")
	require.NoError(t, err)
	assert.Contains(t, c.Labels(), res.Label)
	assert.Greater(t, res.Confidence, 0.0)
	require.Len(t, res.Scores, 3)
	var sum float64
	for _, p := range res.Scores {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, res.Confidence, res.Scores[res.Label])
}

func TestClassifyBatch_MatchesSingle(t *testing.T) {
	c, err := Open(writeArtifacts(t), WithBatchSize(2))
	require.NoError(t, err)
	defer c.Close()

	texts := []string{"panic attack", "no sleep", "focus", "worry worry", "keys"}
	batch, err := c.ClassifyBatch(texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		one, err := c.Classify(text)
		require.NoError(t, err)
		assert.Equal(t, one.Label, batch[i].Label)
		assert.InDelta(t, one.Confidence, batch[i].Confidence, 1e-9)
		assert.Nil(t, batch[i].Scores)
	}
}

func TestConfidenceThreshold(t *testing.T) {
	// No distribution over three classes can put more than 1 on one class.
	c, err := Open(writeArtifacts(t), WithConfidenceThreshold(1.01))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Classify("panic")
	require.NoError(t, err)
	assert.Equal(t, Unclassified, res.Label)
}

func TestConcurrentClassify(t *testing.T) {
	c, err := Open(writeArtifacts(t), WithCacheSize(16))
	require.NoError(t, err)
	defer c.Close()

	want, err := c.Classify("worry and panic")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Classify("worry and panic")
			assert.NoError(t, err)
			assert.Equal(t, want.Label, got.Label)
		}()
	}
	wg.Wait()
}
