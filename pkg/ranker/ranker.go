package ranker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanrank/internal/config"
	"github.com/Aman-CERP/amanrank/internal/embed"
	"github.com/Aman-CERP/amanrank/internal/index"
	"github.com/Aman-CERP/amanrank/internal/search"
)

// NoResultsMessage is the answer given when nothing relevant is found.
const NoResultsMessage = "Xin lỗi, tôi không tìm thấy thông tin liên quan trong dữ liệu."

// ContextSeparator joins passages in the prompt context.
const ContextSeparator = "\n---\n"

// Option overrides a dependency built by New.
type Option func(*options)

type options struct {
	backend        index.Backend
	embedder       embed.Embedder
	crossEncoder   search.CrossEncoder
	skipIndexCheck bool
}

// WithBackend uses b instead of opening the configured index.
func WithBackend(b index.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithEmbedder uses e instead of loading the configured embedder.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCrossEncoder uses ce instead of the configured reranker.
func WithCrossEncoder(ce search.CrossEncoder) Option {
	return func(o *options) { o.crossEncoder = ce }
}

// WithoutIndexCheck skips the embedder/index compatibility check. The
// loader runs its own check, and --recreate must be able to replace an
// incompatible index.
func WithoutIndexCheck() Option {
	return func(o *options) { o.skipIndexCheck = true }
}

// Ranker answers queries with ranked passages.
type Ranker struct {
	cfg      *config.Config
	backend  index.Backend
	embedder embed.Embedder
	ce       search.CrossEncoder
	pipeline *search.Pipeline
	sources  *search.SourceReranker
}

// New builds every dependency once. A missing embedding model or an index
// built with a different model is a fatal error.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Ranker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Ranker{cfg: cfg, backend: o.backend, embedder: o.embedder, ce: o.crossEncoder}

	if r.embedder == nil {
		e, err := embed.NewEmbedder(ctx, embed.Options{
			Provider:   embed.ProviderType(cfg.Embeddings.Provider),
			Endpoint:   cfg.Embeddings.Endpoint,
			Models:     cfg.Embeddings.Models,
			APIKey:     cfg.Embeddings.APIKey,
			Timeout:    cfg.Embeddings.Timeout,
			BatchSize:  cfg.Embeddings.BatchSize,
			Dimensions: cfg.Embeddings.Dimensions,
			CacheSize:  cfg.Embeddings.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		r.embedder = e
	}

	if r.backend == nil {
		b, err := index.Open(ctx, cfg)
		if err != nil {
			_ = r.embedder.Close()
			return nil, err
		}
		r.backend = b
	}

	if !o.skipIndexCheck {
		if err := r.checkIndex(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	if r.ce == nil {
		r.ce = newCrossEncoder(ctx, cfg.Reranker)
	}

	r.pipeline = search.NewPipeline(
		search.NewRetriever(r.backend, r.embedder, search.RetrieverConfig{
			EmbedTimeout: cfg.Embeddings.Timeout,
			MatchBoost:   cfg.Search.MatchBoost,
			PhraseBoost:  cfg.Search.PhraseBoost,
		}),
		search.NewFuser(search.NewKeywordScorer(cfg.Keywords), r.ce, search.FuserConfig{
			KeywordPool:      cfg.Search.KeywordPool,
			ZeroPool:         cfg.Search.ZeroPool,
			CrossWeight:      cfg.Search.CrossWeight,
			KeywordWeight:    cfg.Search.KeywordWeight,
			NormalizeKeyword: cfg.Search.NormalizeKeywordScore,
			RerankTimeout:    cfg.Reranker.Timeout,
		}),
	)
	r.sources = search.NewSourceReranker(search.SourceWeights{})
	return r, nil
}

// checkIndex compares an existing index with the embedder. An unreachable
// or missing index is only logged; queries degrade to empty results.
func (r *Ranker) checkIndex(ctx context.Context) error {
	exists, err := r.backend.Exists(ctx)
	if err != nil {
		slog.Warn("index_check_skipped", slog.String("error", err.Error()))
		return nil
	}
	if !exists {
		slog.Warn("index_missing", slog.String("backend", r.cfg.Index.Backend))
		return nil
	}
	return index.CheckCompatible(ctx, r.backend, r.embedder)
}

// newCrossEncoder builds the configured cross-encoder. When it cannot be
// loaded ranking falls back to keywords only.
func newCrossEncoder(ctx context.Context, cfg config.RerankerConfig) search.CrossEncoder {
	if strings.EqualFold(cfg.Provider, config.RerankerNone) {
		return search.NoOpCrossEncoder{}
	}
	ce, err := search.NewHTTPCrossEncoder(ctx, search.HTTPCrossEncoderConfig{
		Endpoint: cfg.Endpoint,
		Models:   cfg.Models,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		slog.Warn("reranker_unavailable",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("error", err.Error()))
		return search.NoOpCrossEncoder{}
	}
	return ce
}

// Rank returns up to topK passages for query, best first. topK <= 0 uses
// search.top_k. An empty result is not an error; show NoResultsMessage.
func (r *Ranker) Rank(ctx context.Context, query string, topK int) ([]string, error) {
	results, err := r.RankDetailed(ctx, query, r.cfg.Search.RetrieveTopK, topK)
	if err != nil {
		return nil, err
	}
	return search.Passages(results), nil
}

// RankDetailed is Rank with explicit retrieval depth and per-result scores.
func (r *Ranker) RankDetailed(ctx context.Context, query string, retrieveK, topK int) ([]search.RankedResult, error) {
	if retrieveK <= 0 {
		retrieveK = r.cfg.Search.RetrieveTopK
	}
	if topK <= 0 {
		topK = r.cfg.Search.TopK
	}
	return r.pipeline.Rank(ctx, query, retrieveK, topK)
}

// Retrieve returns retrieval candidates without reranking.
func (r *Ranker) Retrieve(ctx context.Context, query string, topK int, vectorOnly bool) []search.Candidate {
	if topK <= 0 {
		topK = r.cfg.Search.SearchTopK
	}
	if vectorOnly {
		return r.pipeline.Retriever().RetrieveVectorOnly(ctx, query, topK)
	}
	return r.pipeline.Retriever().Retrieve(ctx, query, topK)
}

// RerankWeb orders web search results by relevance and source quality.
// topK <= 0 uses search.rerank_top_k.
func (r *Ranker) RerankWeb(query string, results []search.WebResult, topK int) []search.SourceRankedResult {
	if topK <= 0 {
		topK = r.cfg.Search.RerankTopK
	}
	return r.sources.Rerank(query, results, topK)
}

// Context joins passages into the context block of an answer prompt.
func (r *Ranker) Context(passages []string) string {
	return strings.Join(passages, ContextSeparator)
}

// Index embeds passages and writes them to the index.
func (r *Ranker) Index(ctx context.Context, passages []string, cfg index.LoaderConfig) (*index.LoadResult, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = r.cfg.Index.BulkSize
	}
	return index.NewLoader(r.backend, r.embedder).Load(ctx, passages, cfg)
}

// Close releases the index client, embedder and cross-encoder.
func (r *Ranker) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{r.ce, r.embedder, r.backend} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status describes the index and the models behind a Ranker.
type Status struct {
	Backend           string `json:"backend"`
	IndexExists       bool   `json:"index_exists"`
	Documents         int    `json:"documents"`
	Dimensions        int    `json:"dimensions"`
	IndexModel        string `json:"index_model,omitempty"`
	Embedder          string `json:"embedder"`
	EmbedderAvailable bool   `json:"embedder_available"`
	Reranker          string `json:"reranker"`
	RerankerAvailable bool   `json:"reranker_available"`
	Breaker           string `json:"breaker,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Status reports index and model health. Index errors are recorded in
// Status.Error rather than returned.
func (r *Ranker) Status(ctx context.Context) Status {
	st := Status{
		Backend:           r.cfg.Index.Backend,
		Embedder:          r.embedder.ModelName(),
		EmbedderAvailable: r.embedder.Available(ctx),
		Reranker:          r.ce.ModelName(),
		RerankerAvailable: r.ce.Available(ctx),
	}
	if bb, ok := r.backend.(*index.BreakerBackend); ok {
		st.Breaker = bb.State()
	}

	exists, err := r.backend.Exists(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.IndexExists = exists
	if !exists {
		return st
	}
	if st.Documents, err = r.backend.Count(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	if st.Dimensions, err = r.backend.Dimensions(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	if st.IndexModel, err = r.backend.Model(ctx); err != nil {
		st.Error = err.Error()
	}
	return st
}
