// Package embed turns passages and queries into dense vectors.
//
// Providers are tried through an ordered model fallback list at construction
// time; the first model that loads wins. When none loads, construction fails
// with a fatal configuration error, since neither retrieval channel can run
// without query embeddings.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

// Common embedding constants
const (
	// MaxBatchSize caps a single embedding request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultDiscoveryTimeout bounds model discovery at construction. Cold
	// model loads can take tens of seconds.
	DefaultDiscoveryTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of attempts per request.
	DefaultMaxRetries = 3

	// DefaultStaticDimensions matches the MiniLM family the index is built with.
	DefaultStaticDimensions = 384
)

// ErrClosed is returned by embedders used after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
// Implementations are safe for concurrent use.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
