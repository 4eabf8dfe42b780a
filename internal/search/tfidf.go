package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-nlp/tfidf"
)

// maxTFIDFFeatures caps the vocabulary, keeping the most frequent terms.
const maxTFIDFFeatures = 5000

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// vietnameseStopwords are dropped before TF-IDF and keyword extraction.
var vietnameseStopwords = map[string]bool{
	"và": true, "của": true, "có": true, "được": true, "này": true, "đó": true,
	"một": true, "là": true, "trong": true, "với": true, "các": true, "không": true,
	"cho": true, "từ": true, "về": true, "như": true, "để": true, "khi": true,
	"hay": true, "hoặc": true, "nhưng": true, "nếu": true, "vì": true, "do": true,
	"bởi": true, "theo": true,
}

// cleanText strips HTML tags, turns punctuation into spaces, collapses
// whitespace and lowercases.
func cleanText(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// extractKeywords returns the non-stopword words of text longer than two
// runes.
func extractKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(cleanText(text)) {
		if !vietnameseStopwords[w] && utf8.RuneCountInString(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// tfidfTerms returns the unigrams and bigrams of cleaned text. Tokens
// shorter than two runes and stopwords are dropped before bigrams form.
func tfidfTerms(cleaned string) []string {
	var tokens []string
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) >= 2 && !vietnameseStopwords[w] {
			tokens = append(tokens, w)
		}
	}
	terms := make([]string, 0, 2*len(tokens))
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}

// termIDs is one document as vocabulary ids, in order and with repeats.
type termIDs []int

// IDs implements tfidf.Document.
func (d termIDs) IDs() []int { return d }

// tfidfSimilarity fits TF-IDF over the query and documents together and
// returns the cosine similarity of each document to the query. Term
// weights are raw counts times the fitted IDF, L2-normalized.
func tfidfSimilarity(query string, documents []string) []float64 {
	corpus := make([][]string, 0, len(documents)+1)
	corpus = append(corpus, tfidfTerms(query))
	for _, d := range documents {
		corpus = append(corpus, tfidfTerms(d))
	}

	vocab := buildVocabulary(corpus)
	ids := make(map[string]int, len(vocab))

	model := tfidf.New()
	encoded := make([]termIDs, len(corpus))
	for i, terms := range corpus {
		doc := make(termIDs, 0, len(terms))
		for _, t := range terms {
			if !vocab[t] {
				continue
			}
			id, ok := ids[t]
			if !ok {
				id = len(ids)
				ids[t] = id
			}
			doc = append(doc, id)
		}
		encoded[i] = doc
		model.Add(doc)
	}
	model.CalculateIDF()

	vectors := make([]map[int]float64, len(encoded))
	for i, doc := range encoded {
		vec := make(map[int]float64, len(doc))
		for _, id := range doc {
			vec[id]++
		}
		var norm float64
		for id, tf := range vec {
			w := tf * model.IDF[id]
			vec[id] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for id := range vec {
				vec[id] /= norm
			}
		}
		vectors[i] = vec
	}

	sims := make([]float64, len(documents))
	q := vectors[0]
	for i := range documents {
		var dot float64
		for id, w := range q {
			dot += w * vectors[i+1][id]
		}
		sims[i] = dot
	}
	return sims
}

// buildVocabulary keeps at most maxTFIDFFeatures terms by corpus frequency.
func buildVocabulary(corpus [][]string) map[string]bool {
	counts := make(map[string]int)
	for _, terms := range corpus {
		for _, t := range terms {
			counts[t]++
		}
	}

	vocab := make(map[string]bool, min(len(counts), maxTFIDFFeatures))
	if len(counts) <= maxTFIDFFeatures {
		for t := range counts {
			vocab[t] = true
		}
		return vocab
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	for _, t := range terms[:maxTFIDFFeatures] {
		vocab[t] = true
	}
	return vocab
}
