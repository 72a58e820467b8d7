package features

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// basicTokens applies BERT basic tokenisation: drop control characters,
// isolate CJK ideographs, optionally lowercase and strip accents, then split
// on whitespace and punctuation.
func basicTokens(text string, lower bool) []string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	for _, r := range text {
		switch {
		case r == 0 || r == utf8.RuneError || isControl(r):
		case isSpace(r):
			b.WriteByte(' ')
		case isCJK(r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	text = b.String()
	if lower {
		text = stripAccents(strings.ToLower(text))
	}

	var out []string
	for _, word := range strings.Fields(text) {
		out = appendPunctSplit(out, word)
	}
	return out
}

func stripAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// appendPunctSplit appends word to out, with every punctuation rune as its
// own token.
func appendPunctSplit(out []string, word string) []string {
	start := 0
	for i, r := range word {
		if !isPunct(r) {
			continue
		}
		if i > start {
			out = append(out, word[start:i])
		}
		out = append(out, string(r))
		start = i + len(string(r))
	}
	if start < len(word) {
		out = append(out, word[start:])
	}
	return out
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}

// isPunct treats every non-alphanumeric ASCII symbol as punctuation, plus the
// Unicode P categories.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
