package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/amanrank/internal/textnorm"
)

// Fusion defaults.
const (
	DefaultKeywordPool   = 15
	DefaultZeroPool      = 10
	DefaultCrossWeight   = 0.7
	DefaultKeywordWeight = 0.3
)

// FuserConfig configures pool selection and score fusion.
type FuserConfig struct {
	// KeywordPool is the number of keyword-positive candidates reranked.
	KeywordPool int
	// ZeroPool is the number of keyword-zero candidates reranked.
	ZeroPool int

	CrossWeight   float64
	KeywordWeight float64

	// NormalizeKeyword maps keyword scores into [0,1) before weighting.
	NormalizeKeyword bool

	// RerankTimeout bounds the cross-encoder call. Zero means no bound
	// beyond the caller's context.
	RerankTimeout time.Duration
}

// DefaultFuserConfig returns the default fusion settings.
func DefaultFuserConfig() FuserConfig {
	return FuserConfig{
		KeywordPool:   DefaultKeywordPool,
		ZeroPool:      DefaultZeroPool,
		CrossWeight:   DefaultCrossWeight,
		KeywordWeight: DefaultKeywordWeight,
	}
}

// Fuser reranks retrieved candidates.
//
// Algorithm:
//
//	pool     = top KeywordPool keyword-positive + first ZeroPool keyword-zero
//	combined = CrossWeight * cross + KeywordWeight * keyword
//
// If the cross-encoder fails the pool is ranked by keyword score alone.
type Fuser struct {
	scorer *KeywordScorer
	ce     CrossEncoder
	cfg    FuserConfig
}

// NewFuser creates a fuser. A nil cross-encoder ranks by keywords only.
func NewFuser(scorer *KeywordScorer, ce CrossEncoder, cfg FuserConfig) *Fuser {
	if ce == nil {
		ce = NoOpCrossEncoder{}
	}
	if cfg.KeywordPool < 0 {
		cfg.KeywordPool = 0
	}
	if cfg.ZeroPool < 0 {
		cfg.ZeroPool = 0
	}
	return &Fuser{scorer: scorer, ce: ce, cfg: cfg}
}

// scoredCandidate pairs a candidate with its keyword score.
type scoredCandidate struct {
	candidate Candidate
	keyword   int
	// pos is the retrieval position, the final tie-break.
	pos int
}

type rankedEntry struct {
	result RankedResult
	pos    int
}

// Rank returns at most topK results, ranks 1..N with non-increasing
// combined score. Ties keep retrieval order. topK <= 0 returns the whole
// pool. The query is normalized like the candidate texts before scoring.
func (f *Fuser) Rank(ctx context.Context, query string, candidates []Candidate, topK int) []RankedResult {
	if len(candidates) == 0 {
		return []RankedResult{}
	}
	query = textnorm.Normalize(query)

	pool := f.selectPool(query, candidates)

	texts := make([]string, len(pool))
	for i, p := range pool {
		texts[i] = p.candidate.Text
	}

	start := time.Now()
	cross, err := f.predict(ctx, query, texts)
	if err != nil {
		logger(ctx).Warn("rerank_degraded",
			slog.String("model", f.ce.ModelName()),
			slog.Int("pool", len(pool)),
			slog.String("error", err.Error()))
		return finalize(keywordOnly(pool), topK)
	}

	entries := make([]rankedEntry, len(pool))
	for i, p := range pool {
		entries[i] = rankedEntry{pos: p.pos, result: RankedResult{
			Candidate:     p.candidate,
			KeywordScore:  p.keyword,
			Cross:         CrossScore{Value: cross[i], Computed: true},
			CombinedScore: f.cfg.CrossWeight*cross[i] + f.cfg.KeywordWeight*f.keywordTerm(p.keyword),
		}}
	}

	logger(ctx).Debug("rerank_complete",
		slog.String("model", f.ce.ModelName()),
		slog.Int("candidates", len(candidates)),
		slog.Int("pool", len(pool)),
		slog.Duration("duration", time.Since(start)))
	return finalize(entries, topK)
}

// selectPool scores every candidate and picks the rerank pool.
func (f *Fuser) selectPool(query string, candidates []Candidate) []scoredCandidate {
	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = scoredCandidate{candidate: c, keyword: f.scorer.Score(query, c.Text), pos: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].keyword > scored[j].keyword
	})

	var pool []scoredCandidate
	for _, s := range scored[:min(f.cfg.KeywordPool, len(scored))] {
		if s.keyword > 0 {
			pool = append(pool, s)
		}
	}
	zeros := 0
	for _, s := range scored {
		if zeros == f.cfg.ZeroPool {
			break
		}
		if s.keyword == 0 {
			pool = append(pool, s)
			zeros++
		}
	}

	if len(pool) == 0 {
		for i, c := range candidates[:min(DefaultKeywordPool, len(candidates))] {
			pool = append(pool, scoredCandidate{candidate: c, keyword: f.scorer.Score(query, c.Text), pos: i})
		}
	}
	return pool
}

// predict runs one batch under the rerank timeout and checks its length.
func (f *Fuser) predict(ctx context.Context, query string, texts []string) ([]float64, error) {
	if f.cfg.RerankTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.RerankTimeout)
		defer cancel()
	}
	scores, err := f.ce.PredictBatch(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(texts) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d pairs", len(scores), len(texts))
	}
	return scores, nil
}

func (f *Fuser) keywordTerm(score int) float64 {
	if f.cfg.NormalizeKeyword {
		return Normalized(score)
	}
	return float64(score)
}

// keywordOnly ranks the pool by raw keyword score.
func keywordOnly(pool []scoredCandidate) []rankedEntry {
	entries := make([]rankedEntry, len(pool))
	for i, p := range pool {
		entries[i] = rankedEntry{pos: p.pos, result: RankedResult{
			Candidate:     p.candidate,
			KeywordScore:  p.keyword,
			CombinedScore: float64(p.keyword),
		}}
	}
	return entries
}

// finalize sorts by combined score, then retrieval position, assigns ranks
// and truncates.
func finalize(entries []rankedEntry, topK int) []RankedResult {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.result.CombinedScore != b.result.CombinedScore {
			return a.result.CombinedScore > b.result.CombinedScore
		}
		return a.pos < b.pos
	})
	if topK > 0 && len(entries) > topK {
		entries = entries[:topK]
	}
	results := make([]RankedResult, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Rank = i + 1
	}
	return results
}
