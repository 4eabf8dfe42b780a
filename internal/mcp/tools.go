package mcp

// Tool names.
const (
	ToolRankPassages = "rank_passages"
	ToolIndexStatus  = "index_status"
)

// Limits for rank_passages top_k.
const (
	DefaultTopK = 10
	MaxTopK     = 50
)

// RankPassagesInput defines the input schema for the rank_passages tool.
type RankPassagesInput struct {
	Query string `json:"query" jsonschema:"the user question to find supporting passages for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of passages, default 10"`
}

// RankPassagesOutput defines the output schema for the rank_passages tool.
type RankPassagesOutput struct {
	Passages []string `json:"passages" jsonschema:"passages ordered by relevance, best first"`
	Message  string   `json:"message,omitempty" jsonschema:"answer to show when no passage was found"`
	Context  string   `json:"context,omitempty" jsonschema:"passages joined for use as prompt context"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Index    IndexInfo `json:"index"`
	Embedder ModelInfo `json:"embedder"`
	Reranker ModelInfo `json:"reranker"`
	Ready    bool      `json:"ready" jsonschema:"true when the index exists and the embedder is available"`
}

// IndexInfo describes the passage index.
type IndexInfo struct {
	Backend    string `json:"backend"`
	Exists     bool   `json:"exists"`
	Documents  int    `json:"documents"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model,omitempty"`
	Breaker    string `json:"breaker,omitempty"` // closed, half-open or open
	Error      string `json:"error,omitempty"`
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
}
