package features

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// vocab is a WordPiece vocabulary. Token ids are line numbers (0-based) of
// the vocab.txt it was read from.
type vocab struct {
	ids    map[string]int64
	tokens []string

	pad, unk, cls, sep int64
}

func loadVocab(path string) (*vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("features: vocab: %w", err)
	}
	defer f.Close()
	v, err := readVocab(f)
	if err != nil {
		return nil, fmt.Errorf("features: vocab %s: %w", path, err)
	}
	return v, nil
}

func readVocab(r io.Reader) (*vocab, error) {
	v := &vocab{ids: make(map[string]int64, 32000)}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		// First occurrence wins, as in the reference BERT loader.
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = int64(len(v.tokens))
		}
		v.tokens = append(v.tokens, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(v.tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}

	for _, s := range []struct {
		tok  string
		dest *int64
	}{
		{"[PAD]", &v.pad},
		{"[UNK]", &v.unk},
		{"[CLS]", &v.cls},
		{"[SEP]", &v.sep},
	} {
		id, ok := v.ids[s.tok]
		if !ok {
			return nil, fmt.Errorf("missing special token %s", s.tok)
		}
		*s.dest = id
	}
	return v, nil
}

func (v *vocab) id(tok string) int64 {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.unk
}

func (v *vocab) has(tok string) bool {
	_, ok := v.ids[tok]
	return ok
}

func (v *vocab) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, tok := range v.tokens {
		if _, err := bw.WriteString(tok); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
