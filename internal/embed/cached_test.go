package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double that counts calls
type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	dimensions int
	modelName  string
	err        error
	closed     atomic.Bool
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims, modelName: "mock-model"}
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	vec[len(text)%m.dimensions] = 1
	return vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                  { return m.dimensions }
func (m *mockEmbedder) ModelName() string                { return m.modelName }
func (m *mockEmbedder) Available(_ context.Context) bool { return !m.closed.Load() }
func (m *mockEmbedder) Close() error                     { m.closed.Store(true); return nil }

// ============================================================================
// Cache hits and misses
// ============================================================================

func TestCachedEmbedder_CacheHit_ReturnsWithoutCallingInner(t *testing.T) {
	// Given: a cached embedder
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	// When: I embed the same query twice
	result1, err1 := cached.Embed(ctx, "ông Nguyễn Văn A sinh năm 1960")
	result2, err2 := cached.Embed(ctx, "ông Nguyễn Văn A sinh năm 1960")

	// Then: inner embedder is called only once
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, result1, result2)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	// Given: two caches over different models
	a := newMockEmbedder(8)
	b := newMockEmbedder(8)
	b.modelName = "other-model"

	// Then: the same text gets different keys
	assert.NotEqual(t,
		NewCachedEmbedder(a, 10).cacheKey("text"),
		NewCachedEmbedder(b, 10).cacheKey("text"))
}

func TestCachedEmbedder_ErrorIsNotCached(t *testing.T) {
	// Given: an inner embedder that fails
	inner := newMockEmbedder(8)
	inner.err = errors.New("connection refused")
	cached := NewCachedEmbedder(inner, 10)

	// When: embedding fails
	_, err := cached.Embed(context.Background(), "q")

	// Then: nothing is cached
	require.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlySendsMisses(t *testing.T) {
	// Given: a cache holding one of three texts
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "b")
	require.NoError(t, err)

	// When: embedding a batch
	vecs, err := cached.EmbedBatch(ctx, []string{"a", "b", "ccc"})

	// Then: only misses reach the inner batch, results keep input order
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []int{2}, inner.batchSizes)
	assert.Equal(t, inner.vector("ccc"), vecs[2])
	assert.Equal(t, inner.vector("b"), vecs[1])

	// And: a later Embed is a cache hit
	inner.embedCalls.Store(0)
	_, _ = cached.Embed(ctx, "ccc")
	assert.Equal(t, int64(0), inner.embedCalls.Load())
}

func TestCachedEmbedder_EmbedBatch_AllCached(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()
	_, _ = cached.EmbedBatch(ctx, []string{"x", "y"})

	_, err := cached.EmbedBatch(ctx, []string{"y", "x"})

	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_CacheEviction_OldestEvictedFirst(t *testing.T) {
	// Given: a cache of 3 entries
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 3)
	ctx := context.Background()

	// When: 4 texts are embedded
	for _, text := range []string{"text1", "text2", "text3", "text4"} {
		_, _ = cached.Embed(ctx, text)
	}
	inner.embedCalls.Store(0)

	// Then: the oldest is evicted
	_, _ = cached.Embed(ctx, "text1")
	assert.Equal(t, int64(1), inner.embedCalls.Load())

	inner.embedCalls.Store(0)
	_, _ = cached.Embed(ctx, "text4")
	assert.Equal(t, int64(0), inner.embedCalls.Load())
}

// ============================================================================
// Passthrough
// ============================================================================

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(384)
	inner.modelName = "all-MiniLM-L6-v2"
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 384, cached.Dimensions())
	assert.Equal(t, "all-MiniLM-L6-v2", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())

	require.NoError(t, cached.Close())
	assert.False(t, cached.Available(context.Background()))
}

func TestCachedEmbedder_ConcurrentAccess_NoRace(t *testing.T) {
	cached := NewCachedEmbedder(NewStaticEmbedder(16), 4)
	ctx := context.Background()
	texts := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = cached.Embed(ctx, texts[j%len(texts)])
			}
		}()
	}
	wg.Wait()
}
