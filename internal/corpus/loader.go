package corpus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/model"
)

// DefaultMinTextLength is the length a derived text must exceed, in runes.
const DefaultMinTextLength = 20

// Options controls validity filtering.
type Options struct {
	MinTextLength int
	Logger        *slog.Logger
}

// Stats describes what Load read and dropped.
type Stats struct {
	Sources        int
	Read           int
	DroppedMissing int
	DroppedShort   int
	Kept           int
	// ExcludedLabels lists labels that appeared in the input but lost every
	// row to filtering, so they are not part of the label space.
	ExcludedLabels []string
}

// Load reads every source in order and returns the valid records. A row is
// dropped when its label, body or title is blank, or when its derived text
// is not longer than MinTextLength runes. Any source error fails the whole
// load; no partial corpus is returned.
func Load(ctx context.Context, opts Options, sources ...Source) ([]model.Record, Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var raw []model.RawRecord
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, Stats{}, err
		}
		rows, err := src.Read(ctx)
		if err != nil {
			return nil, Stats{}, err
		}
		logger.Debug("source read", logging.SourceKey, src.Name(), logging.SamplesKey, len(rows))
		raw = append(raw, rows...)
	}

	records, stats := Filter(raw, opts.MinTextLength)
	stats.Sources = len(sources)

	logger.Info("corpus loaded",
		logging.SamplesKey, stats.Kept,
		logging.DroppedKey, stats.DroppedMissing+stats.DroppedShort,
		"data.dropped_missing", stats.DroppedMissing,
		"data.dropped_short", stats.DroppedShort,
	)
	if len(stats.ExcludedLabels) > 0 {
		logger.Warn("labels excluded: every row was filtered out",
			logging.ClassesKey, stats.ExcludedLabels,
		)
	}
	return records, stats, nil
}

// Filter applies the validity rules to raw rows, preserving order.
func Filter(raw []model.RawRecord, minTextLength int) ([]model.Record, Stats) {
	stats := Stats{Read: len(raw)}
	seen := make(map[string]bool)
	kept := make(map[string]bool)

	out := make([]model.Record, 0, len(raw))
	for _, r := range raw {
		if blank(r.Label) || blank(r.Body) || blank(r.Title) {
			stats.DroppedMissing++
			if !blank(r.Label) {
				seen[r.Label] = true
			}
			continue
		}
		seen[r.Label] = true
		text := DeriveText(r.Body, r.Title)
		if utf8.RuneCountInString(text) <= minTextLength {
			stats.DroppedShort++
			continue
		}
		kept[r.Label] = true
		out = append(out, model.Record{RawLabel: r.Label, Text: text})
	}
	stats.Kept = len(out)

	for label := range seen {
		if !kept[label] {
			stats.ExcludedLabels = append(stats.ExcludedLabels, label)
		}
	}
	sort.Strings(stats.ExcludedLabels)
	return out, stats
}

// DeriveText joins a post's body and title the way the classifier sees them.
func DeriveText(body, title string) string {
	return body + " " + title
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
