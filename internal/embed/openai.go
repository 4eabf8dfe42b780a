package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an embedder for any OpenAI-compatible embeddings
// endpoint (OpenAI, TEI, Infinity, vLLM serving sentence-transformers).
type OpenAIConfig struct {
	// BaseURL of the service. "/v1" is appended when missing.
	BaseURL string
	// APIKey may be empty for self-hosted services.
	APIKey string
	// Models is the ordered fallback list, tried in order at construction.
	Models    []string
	BatchSize int
	// SkipModelCheck uses Models[0] and Dimensions without a test request (for testing)
	SkipModelCheck bool
	Dimensions     int
}

// OpenAIEmbedder generates embeddings through go-openai.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dims      int
	batchSize int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder tries each configured model in order with a one-text
// request and keeps the first that answers.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no embedding models configured")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// Self-hosted services ignore the key but the client requires one.
		apiKey = "dummy-key"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		base := strings.TrimRight(cfg.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		clientConfig.BaseURL = base
	}

	e := &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Models[0],
		dims:      cfg.Dimensions,
		batchSize: cfg.BatchSize,
	}
	if e.batchSize <= 0 || e.batchSize > MaxBatchSize {
		e.batchSize = DefaultBatchSize
	}

	if cfg.SkipModelCheck {
		if e.dims == 0 {
			e.dims = DefaultStaticDimensions
		}
		return e, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, DefaultDiscoveryTimeout)
	defer cancel()

	var lastErr error
	for _, model := range cfg.Models {
		vecs, err := e.create(checkCtx, model, []string{"dimension detection"})
		if err != nil {
			lastErr = err
			slog.Debug("embedding_model_unavailable",
				slog.String("model", model),
				slog.String("error", err.Error()))
			continue
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			lastErr = fmt.Errorf("empty embedding returned by %s", model)
			continue
		}
		e.model = model
		e.dims = len(vecs[0])
		slog.Debug("openai_embedder_created",
			slog.String("base_url", clientConfig.BaseURL),
			slog.String("model", model),
			slog.Int("dimensions", e.dims))
		return e, nil
	}

	return nil, fmt.Errorf("none of %v could be loaded: %w", cfg.Models, lastErr)
}

// create sends one embeddings request and returns vectors in input order.
func (e *OpenAIEmbedder) create(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = normalizeVector(d.Embedding)
	}
	return out, nil
}

func (e *OpenAIEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Embed generates embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in chunks of the configured batch size.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	results := make([][]float32, len(texts))
	var idx []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			idx = append(idx, i)
		}
	}

	for start := 0; start < len(idx); start += e.batchSize {
		end := min(start+e.batchSize, len(idx))
		batch := make([]string, 0, end-start)
		for _, i := range idx[start:end] {
			batch = append(batch, texts[i])
		}

		vecs, err := e.create(ctx, e.model, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		for j, v := range vecs {
			results[idx[start+j]] = v
		}
	}
	return results, nil
}

// Dimensions returns the embedding dimension
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available lists the service's models and looks for ours. Services without
// a /models route get a one-text embedding request instead.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	list, err := e.client.ListModels(ctx)
	if err != nil {
		_, embErr := e.create(ctx, e.model, []string{"ping"})
		return embErr == nil
	}
	for _, m := range list.Models {
		if m.ID == e.model {
			return true
		}
	}
	return false
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
