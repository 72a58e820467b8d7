package model

// RawRecord is one row as read by a corpus source, before validation.
type RawRecord struct {
	Label  string // subreddit
	Body   string // selftext
	Title  string
	Source string // source name, for diagnostics
	Row    int    // 1-based data row within the source
}

// Record is a validated, labelled document. Text is derived from the body
// and title of its RawRecord.
type Record struct {
	RawLabel string
	Text     string
}

// Example is the minimal trainable unit: one per Record.
type Example struct {
	Text    string
	LabelID int
}

// Partition holds the three disjoint splits of a corpus.
type Partition struct {
	Train []Example
	Val   []Example
	Test  []Example
}

// Split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Sizes returns the number of examples per split, keyed by split name.
func (p Partition) Sizes() map[string]int {
	return map[string]int{
		SplitTrain: len(p.Train),
		SplitVal:   len(p.Val),
		SplitTest:  len(p.Test),
	}
}

// LabelIDs returns the label id of every example, in order.
func LabelIDs(examples []Example) []int {
	ids := make([]int, len(examples))
	for i, ex := range examples {
		ids[i] = ex.LabelID
	}
	return ids
}
