// Package search turns a query into a short, relevance-ordered list of
// passages. Retrieval runs a hybrid kNN + lexical query against the index
// (falling back to kNN only), and ranking fuses a keyword heuristic with
// cross-encoder relevance.
package search

// Channel records which retrieval clause produced a candidate.
type Channel string

const (
	ChannelVector  Channel = "vector"
	ChannelLexical Channel = "lexical"
	ChannelPhrase  Channel = "phrase"
)

// Candidate is one retrieved passage. Text is normalized and unique within
// a single retrieval call.
type Candidate struct {
	Text     string  `json:"text"`
	RawScore float64 `json:"raw_score"`
	Channel  Channel `json:"channel"`

	// ChunkIndex and Length are zero when the fallback path produced the
	// candidate, which only asks the index for text.
	ChunkIndex int `json:"chunk_index,omitempty"`
	Length     int `json:"length,omitempty"`
}

// CrossScore is a cross-encoder relevance score. Computed is false when the
// model failed and ranking degraded to keywords only.
type CrossScore struct {
	Value    float64 `json:"value"`
	Computed bool    `json:"computed"`
}

// RankedResult is a candidate after fusion. Rank is 1-based.
type RankedResult struct {
	Candidate     Candidate  `json:"candidate"`
	KeywordScore  int        `json:"keyword_score"`
	Cross         CrossScore `json:"cross"`
	CombinedScore float64    `json:"combined_score"`
	Rank          int        `json:"rank"`
}
