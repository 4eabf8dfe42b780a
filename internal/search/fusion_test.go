package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrank/internal/config"
)

// alphaScorer gives +1 to texts containing "alpha" when the query does.
func alphaScorer() *KeywordScorer {
	return NewKeywordScorer(config.KeywordsConfig{
		TriggerWords: []string{"zzz"},
		Important:    []string{"alpha"},
	})
}

func assertRankInvariants(t *testing.T, results []RankedResult) {
	t.Helper()
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.CombinedScore, results[i-1].CombinedScore)
		}
	}
}

// ============================================================================
// Fusion
// ============================================================================

func TestFuser_EmptyCandidates(t *testing.T) {
	ce := &mockCrossEncoder{}
	f := NewFuser(defaultScorer(), ce, DefaultFuserConfig())

	results := f.Rank(context.Background(), "q", nil, 5)

	require.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, ce.calls)
}

func TestFuser_ProperNameBoostWinsOverCross(t *testing.T) {
	// Given: one passage names the person but has a mediocre cross score
	target := "Ông Trần Bá Dương là người sáng lập tập đoàn"
	ce := &mockCrossEncoder{scores: map[string]float64{
		"Tập đoàn ô tô lớn nhất miền Trung": 0.9,
		"Doanh nhân tiêu biểu của năm":      0.8,
		target:                              0.2,
		"Lịch sử ngành ô tô Việt Nam":       0.7,
		"Tin tức kinh tế trong tuần":        0.6,
	}}
	f := NewFuser(defaultScorer(), ce, DefaultFuserConfig())
	cands := candidates(
		"Tập đoàn ô tô lớn nhất miền Trung",
		"Doanh nhân tiêu biểu của năm",
		"Lịch sử ngành ô tô Việt Nam",
		"Tin tức kinh tế trong tuần",
		target,
	)

	// When: ranking
	results := f.Rank(context.Background(), "Trần Bá Dương", cands, 3)

	// Then: the named passage is in the top 3
	require.Len(t, results, 3)
	assert.Contains(t, texts(results), target)
	assert.Equal(t, target, results[0].Candidate.Text)
	assert.Equal(t, 3, results[0].KeywordScore)
	assert.InDelta(t, 0.7*0.2+0.3*3, results[0].CombinedScore, 1e-9)
	assert.True(t, results[0].Cross.Computed)
	assertRankInvariants(t, results)
}

func TestFuser_ScoresNormalizedQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  int
	}{
		// year 2 + trigger 1, once the query is split at letter/digit joins
		{name: "glued words", query: "sinhnăm1960", text: "sinh năm 1960", want: 3},
		// decomposed diacritics compose before the capital run is matched
		{name: "decomposed name", query: "Tra\u0302\u0300n Ba\u0301 Du\u031bo\u031bng", text: "ông trần bá dương", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a keyword-only fuser
			f := NewFuser(defaultScorer(), &mockCrossEncoder{err: errors.New("down")}, DefaultFuserConfig())

			// When: ranking with an unnormalized query
			results := f.Rank(context.Background(), tt.query, candidates(tt.text), 1)

			// Then: the keyword score matches the normalized spelling
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].KeywordScore)
		})
	}
}

func TestFuser_PoolSelection(t *testing.T) {
	// Given: 20 keyword-positive and 20 keyword-zero candidates, interleaved
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands,
			Candidate{Text: fmt.Sprintf("zero %02d", i)},
			Candidate{Text: fmt.Sprintf("alpha %02d", i)})
	}
	ce := &mockCrossEncoder{}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())

	// When: ranking
	f.Rank(context.Background(), "alpha", cands, 5)

	// Then: 15 positives then the first 10 zeros, in retrieval order
	require.Len(t, ce.lastTexts, 25)
	for i := 0; i < 15; i++ {
		assert.Equal(t, fmt.Sprintf("alpha %02d", i), ce.lastTexts[i])
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("zero %02d", i), ce.lastTexts[15+i])
	}
}

func TestFuser_PoolSizesConfigurable(t *testing.T) {
	cands := candidates("alpha 1", "zero 1", "alpha 2", "zero 2", "alpha 3")
	ce := &mockCrossEncoder{}
	cfg := DefaultFuserConfig()
	cfg.KeywordPool = 2
	cfg.ZeroPool = 1
	f := NewFuser(alphaScorer(), ce, cfg)

	f.Rank(context.Background(), "alpha", cands, 10)

	assert.Equal(t, []string{"alpha 1", "alpha 2", "zero 1"}, ce.lastTexts)
}

func TestFuser_EmptyPoolFallsBackToHead(t *testing.T) {
	// Given: no zero slots and no keyword matches
	cands := candidates("a", "b", "c")
	ce := &mockCrossEncoder{scores: map[string]float64{"c": 1}}
	cfg := DefaultFuserConfig()
	cfg.ZeroPool = 0
	f := NewFuser(alphaScorer(), ce, cfg)

	results := f.Rank(context.Background(), "alpha", cands, 10)

	assert.Equal(t, []string{"a", "b", "c"}, ce.lastTexts)
	assert.Equal(t, "c", results[0].Candidate.Text)
}

func TestFuser_CombinedScore(t *testing.T) {
	ce := &mockCrossEncoder{scores: map[string]float64{"alpha x": 0.5, "y": 0.9}}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())

	results := f.Rank(context.Background(), "alpha", candidates("y", "alpha x"), 5)

	require.Len(t, results, 2)
	// 0.7*0.5 + 0.3*1 = 0.65 vs 0.7*0.9 = 0.63
	assert.Equal(t, "alpha x", results[0].Candidate.Text)
	assert.InDelta(t, 0.65, results[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.63, results[1].CombinedScore, 1e-9)
	assert.InDelta(t, 0.9, results[1].Cross.Value, 1e-9)
}

func TestFuser_NormalizedKeywordTerm(t *testing.T) {
	ce := &mockCrossEncoder{scores: map[string]float64{"alpha x": 0.5}}
	cfg := DefaultFuserConfig()
	cfg.NormalizeKeyword = true
	f := NewFuser(alphaScorer(), ce, cfg)

	results := f.Rank(context.Background(), "alpha", candidates("alpha x"), 5)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.7*0.5+0.3*0.5, results[0].CombinedScore, 1e-9)
	assert.Equal(t, 1, results[0].KeywordScore)
}

func TestFuser_TiesKeepRetrievalOrder(t *testing.T) {
	// Given: equal cross and keyword scores for every candidate
	ce := &mockCrossEncoder{}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())

	results := f.Rank(context.Background(), "q", candidates("c1", "c2", "c3", "c4"), 10)

	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, texts(results))
}

func TestFuser_TruncatesToTopK(t *testing.T) {
	ce := &mockCrossEncoder{}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())
	cands := candidates("a", "b", "c", "d", "e")

	assert.Len(t, f.Rank(context.Background(), "q", cands, 2), 2)
	assert.Len(t, f.Rank(context.Background(), "q", cands, 0), 5)
}

func TestFuser_DoesNotMutateInput(t *testing.T) {
	ce := &mockCrossEncoder{scores: map[string]float64{"b": 1}}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())
	cands := candidates("a", "b", "alpha c")
	before := append([]Candidate(nil), cands...)

	f.Rank(context.Background(), "alpha", cands, 3)

	assert.Equal(t, before, cands)
}

func TestFuser_RankInvariants(t *testing.T) {
	scores := make(map[string]float64)
	var cands []Candidate
	for i := 0; i < 30; i++ {
		text := fmt.Sprintf("passage %d", i)
		if i%3 == 0 {
			text = fmt.Sprintf("alpha passage %d", i)
		}
		scores[text] = float64((i*7)%11) / 10
		cands = append(cands, Candidate{Text: text})
	}
	f := NewFuser(alphaScorer(), &mockCrossEncoder{scores: scores}, DefaultFuserConfig())

	results := f.Rank(context.Background(), "alpha", cands, 10)

	require.Len(t, results, 10)
	assertRankInvariants(t, results)
}

// ============================================================================
// Degradation
// ============================================================================

func TestFuser_CrossEncoderErrorFallsBackToKeywords(t *testing.T) {
	// Given: a failing cross-encoder
	ce := &mockCrossEncoder{err: errModelDown}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())
	cands := candidates("zero a", "alpha b", "zero c", "alpha d")

	// When: ranking
	results := f.Rank(context.Background(), "alpha", cands, 3)

	// Then: keyword-only ranking of the pool, ties in retrieval order
	assert.Equal(t, []string{"alpha b", "alpha d", "zero a"}, texts(results))
	for _, r := range results {
		assert.False(t, r.Cross.Computed)
		assert.Equal(t, float64(r.KeywordScore), r.CombinedScore)
	}
	assertRankInvariants(t, results)
}

func TestFuser_ShortResponseDegrades(t *testing.T) {
	ce := &mockCrossEncoder{short: true, scores: map[string]float64{"zero a": 5}}
	f := NewFuser(alphaScorer(), ce, DefaultFuserConfig())

	results := f.Rank(context.Background(), "alpha", candidates("zero a", "alpha b"), 2)

	assert.Equal(t, []string{"alpha b", "zero a"}, texts(results))
	assert.False(t, results[0].Cross.Computed)
}

func TestFuser_NilCrossEncoderIsKeywordOnly(t *testing.T) {
	f := NewFuser(alphaScorer(), nil, DefaultFuserConfig())

	results := f.Rank(context.Background(), "alpha", candidates("x", "alpha y"), 2)

	assert.Equal(t, []string{"alpha y", "x"}, texts(results))
}

func TestFuser_RerankTimeoutDegrades(t *testing.T) {
	ce := &mockCrossEncoder{block: true}
	cfg := DefaultFuserConfig()
	cfg.RerankTimeout = 20 * time.Millisecond
	f := NewFuser(alphaScorer(), ce, cfg)

	start := time.Now()
	results := f.Rank(context.Background(), "alpha", candidates("x", "alpha y"), 2)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"alpha y", "x"}, texts(results))
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkFuser_Rank(b *testing.B) {
	scores := make(map[string]float64)
	var cands []Candidate
	for i := 0; i < 50; i++ {
		text := fmt.Sprintf("Ông Nguyễn Văn %d sinh năm %d, giám đốc chi nhánh", i, 1950+i)
		scores[text] = float64(i%10) / 10
		cands = append(cands, Candidate{Text: text})
	}
	f := NewFuser(defaultScorer(), &mockCrossEncoder{scores: scores}, DefaultFuserConfig())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Rank(ctx, "giám đốc sinh năm 1975", cands, 10)
	}
}
