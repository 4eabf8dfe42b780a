// Package index is the passage index behind retrieval. It defines the
// Searcher, Writer and Stater contracts and ships two backends: a remote
// OpenSearch index spoken to over REST, and a local on-disk index built from
// bleve (lexical clauses), coder/hnsw (kNN) and SQLite (passages and meta).
package index

import (
	"context"
	"io"
)

// Document fields. The OpenSearch mapping and the local backend use the same
// names so hits can be decoded the same way.
const (
	FieldID         = "id"
	FieldText       = "text"
	FieldEmbedding  = "embedding"
	FieldChunkIndex = "chunk_index"
	FieldLength     = "length"
)

// Clause names a query clause a hit matched.
type Clause string

const (
	ClauseKNN    Clause = "knn"
	ClauseMatch  Clause = "match"
	ClausePhrase Clause = "match_phrase"
)

// Default query parameters.
const (
	DefaultMatchBoost  = 0.5
	DefaultPhraseBoost = 1.0
	DefaultBulkSize    = 50
)

// HybridSource and VectorSource are the _source fields requested by the two
// query shapes.
var (
	HybridSource = []string{FieldText, FieldChunkIndex, FieldLength}
	VectorSource = []string{FieldText}
)

// HybridQuery is a disjunction of a kNN clause, a loose match clause and a
// phrase clause over the same text. A document must match at least one.
type HybridQuery struct {
	Vector []float32
	Text   string
	// K is the neighbour count of the kNN clause.
	K int
	// Size is the maximum number of hits returned.
	Size        int
	MatchBoost  float64
	PhraseBoost float64
	Source      []string
}

// VectorQuery is a pure kNN request.
type VectorQuery struct {
	Vector []float32
	K      int
	Size   int
	Source []string
}

// NewHybridQuery builds the default hybrid query: k and size both topK,
// boosts 0.5 and 1.0.
func NewHybridQuery(text string, vector []float32, topK int) HybridQuery {
	return HybridQuery{
		Vector:      vector,
		Text:        text,
		K:           topK,
		Size:        topK,
		MatchBoost:  DefaultMatchBoost,
		PhraseBoost: DefaultPhraseBoost,
		Source:      HybridSource,
	}
}

// NewVectorQuery builds the kNN-only query used by the fallback path.
func NewVectorQuery(vector []float32, topK int) VectorQuery {
	return VectorQuery{Vector: vector, K: topK, Size: topK, Source: VectorSource}
}

// Hit is one search result. Hits are returned in backend order, which is
// score descending for both backends.
type Hit struct {
	ID         string
	Text       string
	Score      float64
	ChunkIndex int
	Length     int
	// Matched lists the clauses that matched. Only the local backend can
	// report it; OpenSearch hits leave it empty.
	Matched []Clause
}

// MatchedClause reports whether c is among the matched clauses.
func (h Hit) MatchedClause(c Clause) bool {
	for _, m := range h.Matched {
		if m == c {
			return true
		}
	}
	return false
}

// Document is one passage to index.
type Document struct {
	ID         string
	Text       string
	Embedding  []float32
	ChunkIndex int
	Length     int
}

// Stater reports on the index.
type Stater interface {
	Exists(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
	// Dimensions is the embedding dimension the index was created with.
	Dimensions(ctx context.Context) (int, error)
	// Model is the embedding model recorded at creation, "" if unknown.
	Model(ctx context.Context) (string, error)
}

// Searcher runs queries against the index.
type Searcher interface {
	Search(ctx context.Context, q HybridQuery) ([]Hit, error)
	SearchVector(ctx context.Context, q VectorQuery) ([]Hit, error)
	Stater
	io.Closer
}

// Writer creates and fills the index.
type Writer interface {
	CreateIndex(ctx context.Context, dims int, model string) error
	DeleteIndex(ctx context.Context) error
	Bulk(ctx context.Context, docs []Document) error
}

// Backend is a full index: searchable and writable.
type Backend interface {
	Searcher
	Writer
}
