package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama's /api/embed.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible /v1/embeddings service.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline, tests).
	ProviderStatic ProviderType = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider ProviderType
	Endpoint string
	// Models is the ordered fallback list.
	Models     []string
	APIKey     string
	Timeout    time.Duration
	BatchSize  int
	Dimensions int
	// CacheSize > 0 wraps the embedder in an LRU cache.
	CacheSize int
}

// NewEmbedder builds the configured embedder, walking the model fallback
// list. If no model can be loaded the error is a fatal
// ERR_104_NO_EMBEDDING_MODEL; the process cannot retrieve anything
// without query embeddings.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch ProviderType(strings.ToLower(string(opts.Provider))) {
	case ProviderStatic:
		embedder = NewStaticEmbedder(opts.Dimensions)

	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(ctx, OpenAIConfig{
			BaseURL:   opts.Endpoint,
			APIKey:    opts.APIKey,
			Models:    opts.Models,
			BatchSize: opts.BatchSize,
		})

	case ProviderOllama, "":
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:      opts.Endpoint,
			Models:    opts.Models,
			BatchSize: opts.BatchSize,
			Timeout:   opts.Timeout,
		})

	default:
		return nil, amerrors.ConfigError("unknown embeddings provider "+string(opts.Provider), nil)
	}

	if err != nil {
		slog.Error("embedder_unavailable",
			slog.String("provider", string(opts.Provider)),
			slog.Any("models", opts.Models),
			slog.String("error", err.Error()))
		return nil, amerrors.NoEmbeddingModelError(opts.Models, err).
			WithDetail("provider", string(opts.Provider)).
			WithDetail("endpoint", opts.Endpoint)
	}

	slog.Info("embedder_ready",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
