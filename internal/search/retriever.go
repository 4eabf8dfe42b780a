package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/amanrank/internal/embed"
	"github.com/Aman-CERP/amanrank/internal/index"
	"github.com/Aman-CERP/amanrank/internal/textnorm"
)

// DefaultEmbedTimeout bounds query embedding when no timeout is configured.
const DefaultEmbedTimeout = 30 * time.Second

// RetrieverConfig configures the retriever.
type RetrieverConfig struct {
	// EmbedTimeout bounds the query embedding call.
	EmbedTimeout time.Duration
	// MatchBoost and PhraseBoost weight the lexical clauses of the hybrid
	// query. Zero uses the index defaults.
	MatchBoost  float64
	PhraseBoost float64
}

// Retriever gets candidate passages from the index. It never fails: index
// errors degrade to the kNN-only path and then to no candidates.
type Retriever struct {
	searcher index.Searcher
	embedder embed.Embedder
	cfg      RetrieverConfig
}

// NewRetriever creates a retriever.
func NewRetriever(searcher index.Searcher, embedder embed.Embedder, cfg RetrieverConfig) *Retriever {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.MatchBoost <= 0 {
		cfg.MatchBoost = index.DefaultMatchBoost
	}
	if cfg.PhraseBoost <= 0 {
		cfg.PhraseBoost = index.DefaultPhraseBoost
	}
	return &Retriever{searcher: searcher, embedder: embedder, cfg: cfg}
}

// Retrieve runs the hybrid kNN + match + phrase query. On any index error
// it returns what RetrieveVectorOnly would.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) []Candidate {
	normalized := textnorm.Normalize(query)
	vec, ok := r.embedQuery(ctx, normalized)
	if !ok || topK <= 0 {
		return []Candidate{}
	}

	q := index.NewHybridQuery(normalized, vec, topK)
	q.MatchBoost = r.cfg.MatchBoost
	q.PhraseBoost = r.cfg.PhraseBoost

	start := time.Now()
	hits, err := r.searcher.Search(ctx, q)
	if err != nil {
		logger(ctx).Warn("retrieve_degraded",
			slog.String("error", err.Error()),
			slog.Int("top_k", topK))
		return r.vectorOnly(ctx, vec, topK)
	}

	candidates := toCandidates(hits, hybridChannel)
	logger(ctx).Debug("retrieve_complete",
		slog.Int("hits", len(hits)),
		slog.Int("candidates", len(candidates)),
		slog.Duration("duration", time.Since(start)))
	return candidates
}

// RetrieveVectorOnly runs a pure kNN query.
func (r *Retriever) RetrieveVectorOnly(ctx context.Context, query string, topK int) []Candidate {
	vec, ok := r.embedQuery(ctx, textnorm.Normalize(query))
	if !ok || topK <= 0 {
		return []Candidate{}
	}
	return r.vectorOnly(ctx, vec, topK)
}

func (r *Retriever) vectorOnly(ctx context.Context, vec []float32, topK int) []Candidate {
	hits, err := r.searcher.SearchVector(ctx, index.NewVectorQuery(vec, topK))
	if err != nil {
		logger(ctx).Error("retrieve_fallback_failed",
			slog.String("error", err.Error()),
			slog.Int("top_k", topK))
		return []Candidate{}
	}
	return toCandidates(hits, func(index.Hit) Channel { return ChannelVector })
}

// embedQuery embeds the normalized query. Without a vector neither channel
// can run, so a failure ends retrieval.
func (r *Retriever) embedQuery(ctx context.Context, normalized string) ([]float32, bool) {
	if normalized == "" {
		return nil, false
	}
	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(embedCtx, normalized)
	if err != nil {
		logger(ctx).Error("retrieve_embed_failed",
			slog.String("model", r.embedder.ModelName()),
			slog.String("error", err.Error()))
		return nil, false
	}
	return vec, true
}

// hybridChannel labels a hybrid hit by the strongest clause it matched.
// Backends that cannot tell report no clauses and the hit counts as lexical.
func hybridChannel(h index.Hit) Channel {
	switch {
	case h.MatchedClause(index.ClausePhrase):
		return ChannelPhrase
	case h.MatchedClause(index.ClauseMatch):
		return ChannelLexical
	case h.MatchedClause(index.ClauseKNN):
		return ChannelVector
	default:
		return ChannelLexical
	}
}

// toCandidates orders hits by score, normalizes their text and keeps the
// first (highest scoring) of any duplicate texts.
func toCandidates(hits []index.Hit, channel func(index.Hit) Channel) []Candidate {
	sorted := make([]index.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	seen := make(map[string]bool, len(sorted))
	out := make([]Candidate, 0, len(sorted))
	for _, h := range sorted {
		text := textnorm.Normalize(h.Text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, Candidate{
			Text:       text,
			RawScore:   h.Score,
			Channel:    channel(h),
			ChunkIndex: h.ChunkIndex,
			Length:     h.Length,
		})
	}
	return out
}
