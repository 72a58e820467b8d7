// Package labels maps raw string labels to contiguous integer class ids.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crimson-sun/threadclass/internal/model"
)

// FileName is the name of the persisted label map inside an artifact set.
const FileName = "labels.json"

// Codec is a fitted, immutable bijection between labels and ids 0..K-1.
// Ids are assigned in lexicographic order of the label strings.
type Codec struct {
	classes []string
	index   map[string]int
}

// Fit builds a codec from the distinct labels in records.
func Fit(records []model.Record) (*Codec, error) {
	if len(records) == 0 {
		return nil, errors.New("labels: cannot fit on an empty corpus")
	}
	seen := make(map[string]struct{})
	var classes []string
	for _, r := range records {
		if _, ok := seen[r.RawLabel]; ok {
			continue
		}
		seen[r.RawLabel] = struct{}{}
		classes = append(classes, r.RawLabel)
	}
	sort.Strings(classes)
	return New(classes)
}

// New builds a codec from an ordered class list. Position is the class id.
func New(classes []string) (*Codec, error) {
	if len(classes) == 0 {
		return nil, errors.New("labels: no classes")
	}
	c := &Codec{
		classes: make([]string, len(classes)),
		index:   make(map[string]int, len(classes)),
	}
	copy(c.classes, classes)
	for i, name := range c.classes {
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("labels: duplicate class %q", name)
		}
		c.index[name] = i
	}
	return c, nil
}

// Encode returns the id for label.
func (c *Codec) Encode(label string) (int, error) {
	id, ok := c.index[label]
	if !ok {
		return 0, &model.UnknownLabelError{Label: label}
	}
	return id, nil
}

// Decode returns the label for id.
func (c *Codec) Decode(id int) (string, error) {
	if id < 0 || id >= len(c.classes) {
		return "", &model.UnknownLabelError{ID: id}
	}
	return c.classes[id], nil
}

// Len returns the number of classes K.
func (c *Codec) Len() int { return len(c.classes) }

// Classes returns a copy of the class list ordered by id.
func (c *Codec) Classes() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

// Examples encodes every record into an Example.
func (c *Codec) Examples(records []model.Record) ([]model.Example, error) {
	out := make([]model.Example, len(records))
	for i, r := range records {
		id, err := c.Encode(r.RawLabel)
		if err != nil {
			return nil, err
		}
		out[i] = model.Example{Text: r.Text, LabelID: id}
	}
	return out, nil
}

type fileFormat struct {
	Classes []string `json:"classes"`
}

// MarshalJSON encodes the codec as {"classes": [...]}.
func (c *Codec) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileFormat{Classes: c.classes})
}

// UnmarshalJSON decodes {"classes": [...]}.
func (c *Codec) UnmarshalJSON(data []byte) error {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("labels: decode: %w", err)
	}
	decoded, err := New(f.Classes)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// Save writes labels.json into dir.
func (c *Codec) Save(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("labels: encode: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("labels: write: %w", err)
	}
	return nil
}

// Load reads labels.json from dir.
func Load(dir string) (*Codec, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("labels: read: %w", err)
	}
	var c Codec
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
