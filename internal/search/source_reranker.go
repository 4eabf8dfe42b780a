package search

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultSourceTopK is the result count of the source reranker.
const DefaultSourceTopK = 5

// WebResult is one web search result to rerank.
type WebResult struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	Source      string    `json:"source,omitempty"`
	Published   time.Time `json:"published,omitempty"`
}

// SourceRankedResult is a web result with its normalized signals.
type SourceRankedResult struct {
	Result        WebResult `json:"result"`
	Relevance     float64   `json:"relevance"`
	Quality       float64   `json:"quality"`
	Freshness     float64   `json:"freshness"`
	Authority     float64   `json:"authority"`
	CombinedScore float64   `json:"combined_score"`
	RankPosition  int       `json:"rank_position"`
}

// SourceWeights weights the four signals of the source reranker.
type SourceWeights struct {
	Relevance float64
	Quality   float64
	Freshness float64
	Authority float64
}

// DefaultSourceWeights returns 0.4 relevance, 0.3 quality, 0.1 freshness
// and 0.2 authority.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{Relevance: 0.4, Quality: 0.3, Freshness: 0.1, Authority: 0.2}
}

// domainAuthority is checked in order; the first substring of the URL
// that matches wins.
var domainAuthority = []struct {
	pattern string
	score   float64
}{
	{"wikipedia.org", 0.95},
	{"stackoverflow.com", 0.9},
	{"github.com", 0.9},
	{"medium.com", 0.85},
	{"towardsdatascience.com", 0.85},
	{"baidu.com", 0.9},
	{".qq.com", 0.97},
	{".edu", 0.9},
	{".wiki", 0.9},
	{".gov", 0.9},
	{".org", 0.8},
	{".com", 0.7},
	{".vn", 0.7},
	{".com.vn", 0.7},
}

var (
	spamWords          = []string{"click", "free", "buy", "sale"}
	suspiciousURLParts = []string{"bit.ly", "tinyurl", "short"}
)

// SourceReranker orders web results by relevance to the query and by
// source quality, freshness and domain authority.
type SourceReranker struct {
	weights SourceWeights
	now     func() time.Time
}

// NewSourceReranker creates a source reranker. Zero weights use the
// defaults.
func NewSourceReranker(weights SourceWeights) *SourceReranker {
	if weights == (SourceWeights{}) {
		weights = DefaultSourceWeights()
	}
	return &SourceReranker{weights: weights, now: time.Now}
}

// Rerank scores results and returns the best topK. topK <= 0 uses
// DefaultSourceTopK.
func (s *SourceReranker) Rerank(query string, results []WebResult, topK int) []SourceRankedResult {
	if len(results) == 0 {
		return []SourceRankedResult{}
	}
	if topK <= 0 {
		topK = DefaultSourceTopK
	}

	relevance := minMaxNormalize(s.relevanceScores(query, results))
	quality := make([]float64, len(results))
	freshness := make([]float64, len(results))
	authority := make([]float64, len(results))
	for i, r := range results {
		quality[i] = qualityScore(r)
		freshness[i] = s.freshnessScore(r)
		authority[i] = authorityScore(r)
	}
	quality = minMaxNormalize(quality)
	freshness = minMaxNormalize(freshness)
	authority = minMaxNormalize(authority)

	ranked := make([]SourceRankedResult, len(results))
	for i, r := range results {
		ranked[i] = SourceRankedResult{
			Result:    r,
			Relevance: relevance[i],
			Quality:   quality[i],
			Freshness: freshness[i],
			Authority: authority[i],
			CombinedScore: relevance[i]*s.weights.Relevance +
				quality[i]*s.weights.Quality +
				freshness[i]*s.weights.Freshness +
				authority[i]*s.weights.Authority,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CombinedScore > ranked[j].CombinedScore
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	for i := range ranked {
		ranked[i].RankPosition = i + 1
	}
	return ranked
}

// relevanceScores mixes TF-IDF cosine (0.6) with keyword overlap (0.4).
func (s *SourceReranker) relevanceScores(query string, results []WebResult) []float64 {
	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = cleanText(r.Title + " " + r.Description + " " + r.Content)
	}
	tfidf := tfidfSimilarity(cleanText(query), docs)

	queryKeywords := toSet(extractKeywords(query))
	scores := make([]float64, len(results))
	for i, r := range results {
		var overlap float64
		if len(queryKeywords) > 0 {
			docKeywords := toSet(extractKeywords(r.Title + " " + r.Description + " " + r.Content))
			shared := 0
			for k := range queryKeywords {
				if docKeywords[k] {
					shared++
				}
			}
			overlap = float64(shared) / float64(len(queryKeywords))
		}
		scores[i] = 0.6*tfidf[i] + 0.4*overlap
	}
	return scores
}

func qualityScore(r WebResult) float64 {
	score := 0.5

	if n := utf8.RuneCountInString(r.Content); n > 5000 {
		score += 0.2
	} else if n > 500 {
		score += 0.1
	}

	if r.Title != "" {
		if n := utf8.RuneCountInString(r.Title); n > 20 && n < 100 {
			score += 0.1
		}
		if !containsAny(strings.ToLower(r.Title), spamWords) {
			score += 0.1
		}
	}

	if r.URL != "" {
		if strings.HasPrefix(r.URL, "https://") {
			score += 0.05
		}
		if !containsAny(strings.ToLower(r.URL), suspiciousURLParts) {
			score += 0.05
		}
	}
	return min(score, 1.0)
}

// freshnessScore is 0.5 without a publish date, otherwise it decays from
// 1 to 0 over a year.
func (s *SourceReranker) freshnessScore(r WebResult) float64 {
	if r.Published.IsZero() {
		return 0.5
	}
	const year = 365 * 24 * time.Hour
	age := s.now().Sub(r.Published)
	if age <= 0 {
		return 1
	}
	return max(0, 1-float64(age)/float64(year))
}

func authorityScore(r WebResult) float64 {
	if r.URL == "" {
		return 0.3
	}
	u := strings.ToLower(r.URL)
	for _, d := range domainAuthority {
		if strings.Contains(u, d.pattern) {
			return d.score
		}
	}
	return 0.5
}

// minMaxNormalize maps scores into [0,1]; equal scores all become 0.5.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for i, s := range scores {
		if hi == lo {
			out[i] = 0.5
		} else {
			out[i] = (s - lo) / (hi - lo)
		}
	}
	return out
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
