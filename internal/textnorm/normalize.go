// Package textnorm repairs passage and query text so that lexical and dense
// matching see the same tokens.
//
// Ingested documents frequently arrive with words glued together
// ("sinhnăm1960", "bornIn1960"). Normalize splits those joins at case and
// letter/digit boundaries and collapses whitespace. The same function runs on
// indexed text and on queries.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of text.
//
// Steps, in order:
//   - control characters other than whitespace are dropped
//   - NFC composition, so decomposed diacritics equal precomposed ones
//   - a space is inserted at lower→Upper, letter→digit and digit→letter joins
//   - whitespace runs collapse to one space and the ends are trimmed
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	// Controls go before composition: one sitting between a letter and its
	// combining mark would otherwise block NFC on this pass only.
	composed := norm.NFC.String(strings.Map(dropControl, text))

	var b strings.Builder
	b.Grow(len(composed) + len(composed)/8)

	var prev rune
	pendingSpace := false
	wrote := false

	for _, r := range composed {
		if unicode.IsSpace(r) {
			pendingSpace = wrote
			prev = ' '
			continue
		}
		if wrote && (pendingSpace || needsBoundary(prev, r)) {
			b.WriteByte(' ')
		}
		pendingSpace = false

		b.WriteRune(r)
		wrote = true
		prev = r
	}

	return b.String()
}

func dropControl(r rune) rune {
	if unicode.IsControl(r) && !unicode.IsSpace(r) {
		return -1
	}
	return r
}

// NormalizeAll normalizes every element into a new slice.
func NormalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Normalize(t)
	}
	return out
}

// needsBoundary reports whether a space belongs between prev and next.
func needsBoundary(prev, next rune) bool {
	switch {
	case unicode.IsLower(prev) && unicode.IsUpper(next):
		return true
	case unicode.IsLetter(prev) && unicode.IsDigit(next):
		return true
	case unicode.IsDigit(prev) && unicode.IsLetter(next):
		return true
	default:
		return false
	}
}
