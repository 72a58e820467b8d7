package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/crimson-sun/threadclass/internal/config"
	"github.com/crimson-sun/threadclass/internal/pipeline"
)

// trainCmd overrides selected configuration values. Anything not given on the
// command line comes from THREADCLASS_* environment variables.
type trainCmd struct {
	Sources []string `arg:"positional" help:"CSV or JSONL corpus files (default: THREADCLASS_SOURCES)"`
	Output  string   `arg:"-o,--output" help:"artifact directory"`
	Epochs  int      `arg:"--epochs" help:"maximum number of epochs"`
	Seed    *int64   `arg:"--seed" help:"seed for splitting, shuffling and initialisation"`
	Encoder string   `arg:"--encoder" help:"onnx or hashed"`
	Publish string   `arg:"--publish" help:"also publish the artifacts: local or s3"`
	Quiet   bool     `arg:"-q,--quiet" help:"do not print classification reports"`
}

func (c *trainCmd) config() config.Config {
	cfg := config.Load()
	if len(c.Sources) > 0 {
		cfg.Data.Sources = c.Sources
	}
	if c.Output != "" {
		cfg.Output.Dir = c.Output
	}
	if c.Epochs > 0 {
		cfg.Run.Epochs = c.Epochs
	}
	if c.Seed != nil {
		cfg.Run.Seed = *c.Seed
	}
	if c.Encoder != "" {
		cfg.Model.Encoder = c.Encoder
	}
	if c.Publish != "" {
		cfg.Publish.Target = c.Publish
	}
	return cfg
}

func (c *trainCmd) run(ctx context.Context, logger *slog.Logger) error {
	cfg := c.config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if !c.Quiet {
		opts = append(opts, pipeline.WithReport(os.Stdout))
	}
	sum, err := pipeline.New(cfg, opts...).Run(ctx)
	if err != nil {
		return err
	}
	printSummary(sum)
	return nil
}

func printSummary(sum *pipeline.Summary) {
	fmt.Printf("\nrun %s finished in %s\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	fmt.Printf("corpus: %s rows read, %s kept (%s missing fields, %s too short)\n",
		humanize.Comma(int64(sum.Corpus.Read)),
		humanize.Comma(int64(sum.Corpus.Kept)),
		humanize.Comma(int64(sum.Corpus.DroppedMissing)),
		humanize.Comma(int64(sum.Corpus.DroppedShort)),
	)
	if len(sum.Corpus.ExcludedLabels) > 0 {
		fmt.Printf("labels excluded by filtering: %v\n", sum.Corpus.ExcludedLabels)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"class", "weight"})
	table.SetAutoFormatHeaders(false)
	for i, name := range sum.Classes {
		table.Append([]string{name, strconv.FormatFloat(sum.ClassWeights[i], 'f', 4, 64)})
	}
	table.Render()

	splits := make([]string, 0, len(sum.SplitSizes))
	for s := range sum.SplitSizes {
		splits = append(splits, s)
	}
	sort.Strings(splits)
	for _, s := range splits {
		fmt.Printf("%s: %s examples\n", s, humanize.Comma(int64(sum.SplitSizes[s])))
	}

	t := sum.Training
	fmt.Printf("trained %d epochs (%s steps)", t.Epochs, humanize.Comma(int64(t.GlobalStep)))
	if t.StoppedEarly {
		fmt.Print(", stopped early")
	}
	fmt.Println()
	if t.Best != nil {
		fmt.Printf("best checkpoint: epoch %d, %.4f\n", t.Best.Epoch, t.BestMetric)
	}
	if sum.Test != nil {
		fmt.Printf("test: accuracy %.4f, macro F1 %.4f\n", sum.Test.Accuracy, sum.Test.F1Macro)
	}
	fmt.Printf("artifacts: %s\n", sum.OutputDir)
	if sum.PublishedTo != "" {
		fmt.Printf("published: %s\n", sum.PublishedTo)
	}
}
