// Package textnorm folds Spanish chat text into a comparable form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("Cuánto está" -> "cuanto esta").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Words splits folded text on whitespace.
func Words(s string) []string {
	return strings.Fields(s)
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Clean folds s and replaces every character outside [a-z0-9] with a single
// space, trimming the result.
func Clean(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ContainsKeyword matches a keyword against folded text. A trailing "*"
// makes the keyword a stem ("financi*" matches "financiar"); otherwise it
// must match whole words.
func ContainsKeyword(text, keyword string) bool {
	if stem, ok := strings.CutSuffix(keyword, "*"); ok {
		return ContainsWordPrefix(text, stem)
	}
	return ContainsWord(text, keyword)
}

// ContainsWord reports whether phrase occurs in text delimited by word
// boundaries on both sides.
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); {
		idx := strings.Index(text[i:], phrase)
		if idx < 0 {
			return false
		}
		pos := i + idx
		end := pos + len(phrase)
		if (pos == 0 || !isWordByte(text[pos-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		i = pos + 1
	}
	return false
}

// ContainsWordPrefix reports whether phrase occurs in text starting at a word
// boundary. Both arguments are expected to be folded.
func ContainsWordPrefix(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); {
		idx := strings.Index(text[i:], phrase)
		if idx < 0 {
			return false
		}
		pos := i + idx
		if pos == 0 || !isWordByte(text[pos-1]) {
			return true
		}
		i = pos + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}
