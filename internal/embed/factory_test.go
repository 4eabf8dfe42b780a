package embed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// ============================================================================
// Provider selection
// ============================================================================

func TestNewEmbedder_Static(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic, Dimensions: 64})

	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimensions())
	assert.Equal(t, StaticModelName, e.ModelName())
	_, isCached := e.(*CachedEmbedder)
	assert.False(t, isCached)
}

func TestNewEmbedder_ProviderIsCaseInsensitive(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: "STATIC"})

	require.NoError(t, err)
	assert.Equal(t, DefaultStaticDimensions, e.Dimensions())
}

func TestNewEmbedder_WrapsInCache(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic, CacheSize: 10})

	require.NoError(t, err)
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Options{Provider: "word2vec"})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
	assert.True(t, amerrors.IsFatal(err))
}

// ============================================================================
// No model available
// ============================================================================

func TestNewEmbedder_NoModelIsFatal(t *testing.T) {
	// Given: an Ollama with none of the configured models
	fake := &fakeOllama{installed: []string{"llama3:8b"}, dims: 4}
	srv := newFakeOllama(t, fake)

	// When: building the embedder
	_, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderOllama,
		Endpoint: srv.URL,
		Models:   []string{"bge-m3", "multilingual-e5-large"},
	})

	// Then: the error is the fatal no-model error
	require.Error(t, err)
	assert.True(t, errors.Is(err, amerrors.ErrNoEmbeddingModel))
	assert.Equal(t, amerrors.ErrCodeNoEmbeddingModel, amerrors.GetCode(err))
	assert.True(t, amerrors.IsFatal(err))
}

func TestNewEmbedder_OpenAIUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderOpenAI,
		Endpoint: url,
		Models:   []string{"BAAI/bge-m3"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrNoEmbeddingModel)
}

func TestNewEmbedder_OllamaSelectsFallback(t *testing.T) {
	fake := &fakeOllama{installed: []string{"multilingual-e5-large:latest"}, dims: 8}
	srv := newFakeOllama(t, fake)

	e, err := NewEmbedder(context.Background(), Options{
		Provider:  ProviderOllama,
		Endpoint:  srv.URL,
		Models:    []string{"bge-m3", "multilingual-e5-large"},
		CacheSize: 5,
	})

	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "multilingual-e5-large:latest", e.ModelName())
	assert.Equal(t, 8, e.Dimensions())
}
