package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// HTTP cross-encoder defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:8081"
	DefaultRerankerTimeout  = 10 * time.Second
	discoveryTimeout        = 10 * time.Second
)

// HTTPCrossEncoderConfig configures a cross-encoder served over HTTP, such
// as a sentence-transformers CrossEncoder behind TEI or Infinity.
type HTTPCrossEncoderConfig struct {
	// Endpoint is the server base URL.
	Endpoint string

	// Models is the ordered fallback list. The first model the server
	// accepts is used.
	Models []string

	// Timeout bounds every rerank request.
	Timeout time.Duration

	// SkipModelCheck uses Models[0] without asking the server (for testing).
	SkipModelCheck bool

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// HTTPCrossEncoder calls POST /rerank on a cross-encoder server.
type HTTPCrossEncoder struct {
	client   *http.Client
	endpoint string
	model    string
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder tries the configured models in order and returns a
// client bound to the first one that answers a rerank request.
func NewHTTPCrossEncoder(ctx context.Context, cfg HTTPCrossEncoderConfig) (*HTTPCrossEncoder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}
	if len(cfg.Models) == 0 {
		return nil, amerrors.ConfigError("reranker.models must list at least one model", nil)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	ce := &HTTPCrossEncoder{
		client:   client,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
	}

	if cfg.SkipModelCheck {
		ce.model = cfg.Models[0]
		return ce, nil
	}

	var lastErr error
	for _, model := range cfg.Models {
		checkCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		_, err := ce.rerank(checkCtx, model, "ping", []string{"ping"})
		cancel()
		if err == nil {
			ce.model = model
			slog.Debug("cross_encoder_loaded",
				slog.String("endpoint", cfg.Endpoint),
				slog.String("model", model),
				slog.Duration("timeout", cfg.Timeout))
			return ce, nil
		}
		slog.Debug("cross_encoder_model_unavailable",
			slog.String("model", model),
			slog.String("error", err.Error()))
		lastErr = err
	}

	return nil, amerrors.New(amerrors.ErrCodeRerankFailed,
		fmt.Sprintf("none of %v could be loaded from %s", cfg.Models, cfg.Endpoint), lastErr).
		WithSuggestion("Start the reranker service or set reranker.provider to none")
}

// rerankRequest is the JSON request to the /rerank endpoint
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

// rerankResponse is the JSON response from the /rerank endpoint
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// PredictBatch scores texts against query, preserving input order.
func (c *HTTPCrossEncoder) PredictBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	if len(texts) == 0 {
		return []float64{}, nil
	}

	start := time.Now()
	scores, err := c.rerank(ctx, c.model, query, texts)
	if err != nil {
		return nil, err
	}

	slog.Debug("cross_encoder_predict",
		slog.Int("pairs", len(texts)),
		slog.Duration("duration", time.Since(start)))
	return scores, nil
}

// rerank sends one request and maps results back to input positions.
func (c *HTTPCrossEncoder) rerank(ctx context.Context, model, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: texts,
		Model:     model,
		TopK:      len(texts),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return nil, amerrors.New(amerrors.ErrCodeNetworkTimeout, "rerank request timed out", err)
		}
		return nil, amerrors.NetworkError("rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, amerrors.New(amerrors.ErrCodeRerankFailed,
			fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, bytes.TrimSpace(snippet)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank response has out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response is missing index %d of %d", i, len(texts))
		}
	}
	return scores, nil
}

// ModelName returns the model picked at construction.
func (c *HTTPCrossEncoder) ModelName() string {
	return c.model
}

// Available checks GET /health.
func (c *HTTPCrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
