package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrank/internal/config"
)

// Keyword score weights.
const (
	ProperNounPoints = 3
	YearPoints       = 2
	TriggerPoints    = 1
	ImportantPoints  = 1
)

// yearPattern finds candidate years; word boundaries are checked separately
// because RE2's \b only knows ASCII.
var yearPattern = regexp.MustCompile(`(?:19|20)\d{2}`)

// KeywordBreakdown lists what contributed to a keyword score.
type KeywordBreakdown struct {
	ProperNouns []string `json:"proper_nouns,omitempty"`
	Years       []string `json:"years,omitempty"`
	Trigger     bool     `json:"trigger,omitempty"`
	Important   []string `json:"important,omitempty"`
	Total       int      `json:"total"`
}

// KeywordScorer is a heuristic relevance score that rewards candidates
// sharing names, years and domain keywords with the query. It is pure and
// safe for concurrent use.
type KeywordScorer struct {
	triggers       []string
	important      []string
	minProperNouns int
}

// NewKeywordScorer builds a scorer from the keyword lists. Empty lists fall
// back to the defaults.
func NewKeywordScorer(cfg config.KeywordsConfig) *KeywordScorer {
	triggers := cfg.TriggerWords
	if len(triggers) == 0 {
		triggers = config.DefaultTriggerWords
	}
	important := cfg.Important
	if len(important) == 0 {
		important = config.DefaultImportant
	}
	minWords := cfg.MinProperNounWords
	if minWords < 1 {
		minWords = config.DefaultMinProperNounWords
	}
	return &KeywordScorer{
		triggers:       lowerAll(triggers),
		important:      lowerAll(important),
		minProperNouns: minWords,
	}
}

// Score returns the keyword score of text for query. Always >= 0.
func (s *KeywordScorer) Score(query, text string) int {
	return s.Explain(query, text).Total
}

// Explain returns the score with the matches that produced it.
func (s *KeywordScorer) Explain(query, text string) KeywordBreakdown {
	var b KeywordBreakdown
	queryLower := strings.ToLower(query)
	textLower := strings.ToLower(text)

	for _, name := range properNouns(query, s.minProperNouns) {
		if strings.Contains(textLower, strings.ToLower(name)) {
			b.ProperNouns = append(b.ProperNouns, name)
			b.Total += ProperNounPoints
		}
	}

	for _, year := range years(query) {
		if strings.Contains(textLower, year) {
			b.Years = append(b.Years, year)
			b.Total += YearPoints
		}
	}

	if containsAny(queryLower, s.triggers) && containsAny(textLower, s.triggers) {
		b.Trigger = true
		b.Total += TriggerPoints
	}

	for _, kw := range s.important {
		if strings.Contains(queryLower, kw) && strings.Contains(textLower, kw) {
			b.Important = append(b.Important, kw)
			b.Total += ImportantPoints
		}
	}
	return b
}

// Normalized maps a keyword score into [0,1).
func Normalized(score int) float64 {
	if score <= 0 {
		return 0
	}
	return float64(score) / float64(score+1)
}

// properNouns returns every maximal run of capitalized words in text, in
// order of appearance. A capitalized word is an uppercase letter followed by
// one or more lowercase letters and must start at a word boundary. Runs
// shorter than minWords are skipped.
func properNouns(text string, minWords int) []string {
	var out []string
	prev := rune(-1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(prev) {
			if end, words := matchCapitalRun(text, i); words > 0 {
				if words >= minWords {
					out = append(out, text[i:end])
				}
				prev, _ = utf8.DecodeLastRuneInString(text[:end])
				i = end
				continue
			}
		}
		prev = r
		i += size
	}
	return out
}

// matchCapitalRun matches Word(\s+Word)* at start and returns the end
// offset and the number of words, or 0 words when nothing matches.
func matchCapitalRun(text string, start int) (end, words int) {
	end = matchCapitalWord(text, start)
	if end < 0 {
		return 0, 0
	}
	words = 1
	for {
		next := end
		for next < len(text) {
			r, size := utf8.DecodeRuneInString(text[next:])
			if !unicode.IsSpace(r) {
				break
			}
			next += size
		}
		if next == end {
			return end, words
		}
		wordEnd := matchCapitalWord(text, next)
		if wordEnd < 0 {
			return end, words
		}
		end = wordEnd
		words++
	}
}

// matchCapitalWord matches one uppercase rune and at least one lowercase
// rune, returning the end offset or -1.
func matchCapitalWord(text string, start int) int {
	if start >= len(text) {
		return -1
	}
	r, size := utf8.DecodeRuneInString(text[start:])
	if !unicode.IsUpper(r) {
		return -1
	}
	i := start + size
	lowers := 0
	for i < len(text) {
		r, size = utf8.DecodeRuneInString(text[i:])
		if !unicode.IsLower(r) {
			break
		}
		lowers++
		i += size
	}
	if lowers == 0 {
		return -1
	}
	return i
}

// years returns each word-bounded 19xx/20xx token in text.
func years(text string) []string {
	var out []string
	for _, loc := range yearPattern.FindAllStringIndex(text, -1) {
		before, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
		after, _ := utf8.DecodeRuneInString(text[loc[1]:])
		if loc[0] > 0 && isWordRune(before) {
			continue
		}
		if loc[1] < len(text) && isWordRune(after) {
			continue
		}
		out = append(out, text[loc[0]:loc[1]])
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}
