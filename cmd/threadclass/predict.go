package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/crimson-sun/threadclass/pkg/threadclass"
)

type predictCmd struct {
	Dir       string   `arg:"positional,required" help:"artifact directory"`
	Texts     []string `arg:"positional" help:"texts to classify; read one per line from stdin when omitted"`
	Threshold float64  `arg:"--threshold" help:"minimum confidence, below it the label is UNCLASSIFIED"`
	Scores    bool     `arg:"--scores" help:"include every class probability"`
	JSON      bool     `arg:"--json" help:"write NDJSON instead of a table"`
	BatchSize int      `arg:"--batch-size" default:"32"`
	Device    string   `arg:"--device,env:THREADCLASS_DEVICE" default:"auto"`
	ORTLib    string   `arg:"--ort-lib,env:THREADCLASS_ORT_LIB" help:"ONNX Runtime shared library"`
}

func (c *predictCmd) run(ctx context.Context, logger *slog.Logger) error {
	texts := c.Texts
	if len(texts) == 0 {
		var err error
		if texts, err = readLines(os.Stdin); err != nil {
			return err
		}
	}
	if len(texts) == 0 {
		return errors.New("no texts to classify")
	}

	opts := []threadclass.Option{
		threadclass.WithConfidenceThreshold(c.Threshold),
		threadclass.WithBatchSize(c.BatchSize),
		threadclass.WithCompute(c.Device, 0),
		threadclass.WithORTLibrary(c.ORTLib),
		threadclass.WithLogger(logger),
	}
	if c.Scores {
		opts = append(opts, threadclass.WithScores())
	}
	cls, err := threadclass.Open(c.Dir, opts...)
	if err != nil {
		return err
	}
	defer cls.Close()

	results, err := cls.ClassifyBatchContext(ctx, texts)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeNDJSON(os.Stdout, texts, results)
	}
	writeTable(os.Stdout, texts, results, cls.Labels(), c.Scores)
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func writeNDJSON(w io.Writer, texts []string, results []threadclass.Result) error {
	enc := json.NewEncoder(w)
	for i, r := range results {
		line := struct {
			Text string `json:"text"`
			threadclass.Result
		}{texts[i], r}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, texts []string, results []threadclass.Result, labels []string, scores bool) {
	header := []string{"text", "label", "confidence"}
	if scores {
		header = append(header, labels...)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for i, r := range results {
		row := []string{truncate(texts[i], 60), r.Label, fmt.Sprintf("%.4f", r.Confidence)}
		if scores {
			for _, l := range labels {
				row = append(row, fmt.Sprintf("%.4f", r.Scores[l]))
			}
		}
		table.Append(row)
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
