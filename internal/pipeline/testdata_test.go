package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/threadclass/internal/config"
)

// topics are disjoint word sets, so the classes are linearly separable
// under any bag-of-words encoder.
var topics = map[string][]string{
	"birds": {"bird", "feather", "wing", "nest", "chirp", "seed"},
	"cats":  {"cat", "kitten", "purr", "meow", "whiskers", "litter"},
	"dogs":  {"dog", "puppy", "bark", "fetch", "leash", "bone"},
}

var commonWords = []string{"my", "the", "and", "today", "again"}

// writeFixture writes a separable corpus with perClass rows per label and a
// matching vocab, and returns a config that trains on it with the hashed
// encoder.
func writeFixture(t *testing.T, perClass int) config.Config {
	t.Helper()
	dir := t.TempDir()

	var csv strings.Builder
	csv.WriteString("subreddit,selftext,title\n")
	for _, label := range []string{"birds", "cats", "dogs"} {
		w := topics[label]
		for i := 0; i < perClass; i++ {
			body := fmt.Sprintf("my %s and the %s %s today", w[i%6], w[(i+1)%6], w[(i+2)%6])
			title := w[(i+3)%6] + " again"
			fmt.Fprintf(&csv, "%s,%s,%s\n", label, body, title)
		}
	}
	// Rows the loader must drop.
	csv.WriteString("cats,,missing body\n")
	csv.WriteString("dogs,short,x\n")
	csvPath := filepath.Join(dir, "posts.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv.String()), 0o644))

	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]"}
	vocab = append(vocab, commonWords...)
	for _, label := range []string{"birds", "cats", "dogs"} {
		vocab = append(vocab, topics[label]...)
	}
	vocabPath := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte(strings.Join(vocab, "\n")+"\n"), 0o644))

	return config.Config{
		Data: config.DataConfig{
			Sources:       []string{csvPath},
			MinTextLength: 20,
			TrainRatio:    0.72,
			ValRatio:      0.08,
			TestRatio:     0.20,
			SplitPolicy:   config.PolicyKeepInTrain,
		},
		Run: config.RunConfig{
			MaxLength:       64,
			BatchSize:       8,
			Epochs:          10,
			LearningRate:    0.05,
			WeightDecay:     0.01,
			Seed:            42,
			Patience:        3,
			CheckpointLimit: 1,
			MetricForBest:   "f1_macro",
			LoggingSteps:    5,
		},
		Model: config.ModelConfig{
			Encoder:       "hashed",
			HashDim:       256,
			Pooling:       "mean",
			TokenizerPath: vocabPath,
			Device:        "cpu",
			Workers:       2,
			CacheSize:     1000,
		},
		Output: config.OutputConfig{
			Dir:           filepath.Join(dir, "hf_out"),
			CheckpointDir: filepath.Join(dir, "hf_out_checkpoints"),
			LogFile:       filepath.Join(dir, "hf_out_logs", "trainer_log.jsonl"),
		},
	}
}
