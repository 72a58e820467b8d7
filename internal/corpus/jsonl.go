package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crimson-sun/threadclass/internal/model"
)

func init() {
	Register("jsonl", func(path string) Source { return &JSONL{Path: path} }, ".jsonl", ".ndjson")
}

// jsonRow uses pointers so an absent or null field reads as missing.
type jsonRow struct {
	Subreddit *string `json:"subreddit"`
	Selftext  *string `json:"selftext"`
	Title     *string `json:"title"`
}

// JSONL reads one JSON object per line. Blank lines are skipped.
type JSONL struct {
	Path string
}

// Name implements Source.
func (j *JSONL) Name() string { return j.Path }

// Read implements Source.
func (j *JSONL) Read(ctx context.Context) ([]model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(j.Path)
	if err != nil {
		return nil, &model.DataSourceError{Source: j.Path, Err: err}
	}
	defer f.Close()
	return decodeJSONL(j.Path, f)
}

func decodeJSONL(name string, r io.Reader) ([]model.RawRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var out []model.RawRecord
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row jsonRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, &model.DataSourceError{Source: name, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		out = append(out, model.RawRecord{
			Label:  deref(row.Subreddit),
			Body:   deref(row.Selftext),
			Title:  deref(row.Title),
			Source: name,
			Row:    len(out) + 1,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, &model.DataSourceError{Source: name, Err: err}
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
