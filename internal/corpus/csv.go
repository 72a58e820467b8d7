package corpus

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/crimson-sun/threadclass/internal/model"
)

func init() {
	Register("csv", func(path string) Source { return &CSV{Path: path} }, ".csv")
}

// csvRow is one row of a subreddit export. Extra columns are ignored.
type csvRow struct {
	Subreddit string `csv:"subreddit"`
	Selftext  string `csv:"selftext"`
	Title     string `csv:"title"`
}

// CSV reads a comma-separated export with a header row.
type CSV struct {
	Path string
}

// Name implements Source.
func (c *CSV) Name() string { return c.Path }

// Read implements Source. A missing required column is a DataSourceError.
func (c *CSV) Read(ctx context.Context) ([]model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, &model.DataSourceError{Source: c.Path, Err: err}
	}
	return decodeCSV(c.Path, data)
}

func decodeCSV(name string, data []byte) ([]model.RawRecord, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, &model.DataSourceError{Source: name, Err: fmt.Errorf("read header: %w", err)}
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, &model.DataSourceError{Source: name, Err: fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}

	var rows []csvRow
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, &model.DataSourceError{Source: name, Err: err}
	}
	out := make([]model.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = model.RawRecord{
			Label:  r.Subreddit,
			Body:   r.Selftext,
			Title:  r.Title,
			Source: name,
			Row:    i + 1,
		}
	}
	return out, nil
}

func missingColumns(header []string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range requiredColumns {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	return missing
}
