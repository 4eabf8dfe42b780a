package embed

import "time"

// OllamaConfig configures NewOllamaEmbedder. Zero values take the package
// defaults.
type OllamaConfig struct {
	Host       string   // default http://localhost:11434
	Models     []string // fallback list; the first installed one is used
	Dimensions int      // 0 detects from a first embedding
	BatchSize  int
	Timeout    time.Duration // per attempt
	MaxRetries int
	MaxConns   int // idle connections kept to the host, default 4

	// SkipHealthCheck trusts Models[0] and Dimensions as given.
	SkipHealthCheck bool
}

func (c *OllamaConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	c.BatchSize = min(c.BatchSize, MaxBatchSize)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
}

// Wire shapes of the two Ollama endpoints in use. /api/embed takes a bare
// string for one input and an array for a batch.
type (
	embedBody struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}
	embedReply struct {
		Model      string      `json:"model"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	tagsReply struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
)
