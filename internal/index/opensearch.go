package index

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// OpenSearchConfig configures the remote index client.
type OpenSearchConfig struct {
	URL      string
	Index    string
	Username string
	Password string

	InsecureSkipVerify bool
	// Timeout bounds every request, retries included.
	Timeout  time.Duration
	BulkSize int

	// Retry is the policy for idempotent reads. Zero value uses
	// errors.DefaultRetryConfig.
	Retry amerrors.RetryConfig

	// Transport overrides the transport built from the settings above.
	Transport http.RoundTripper
}

// OpenSearch is a Backend talking to an OpenSearch cluster with the k-NN
// plugin enabled.
type OpenSearch struct {
	index     string
	timeout   time.Duration
	bulkSize  int
	retry     amerrors.RetryConfig
	client    *opensearch.Client
	transport http.RoundTripper
}

var _ Backend = (*OpenSearch)(nil)

// NewOpenSearch creates the client. It does not contact the cluster.
func NewOpenSearch(cfg OpenSearchConfig) (*OpenSearch, error) {
	if cfg.URL == "" {
		return nil, amerrors.ConfigError("index.url is required for the opensearch backend", nil)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, amerrors.ConfigError("invalid index.url "+cfg.URL, err)
	}
	if cfg.Index == "" {
		return nil, amerrors.ConfigError("index.name is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = DefaultBulkSize
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = amerrors.DefaultRetryConfig()
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = amerrors.IsRetryable
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev clusters
		}
		transport = t
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{strings.TrimRight(cfg.URL, "/")},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
		// Reads are retried by cfg.Retry with error classification; writes
		// are not idempotent across a partial _bulk.
		DisableRetry: true,
	})
	if err != nil {
		return nil, amerrors.ConfigError("invalid opensearch client settings", err)
	}

	return &OpenSearch{
		index:     cfg.Index,
		timeout:   cfg.Timeout,
		bulkSize:  cfg.BulkSize,
		retry:     cfg.Retry,
		client:    client,
		transport: transport,
	}, nil
}

// searchResponse is the subset of the _search response we read.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Text       string `json:"text"`
				ChunkIndex int    `json:"chunk_index"`
				Length     int    `json:"length"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func knnClause(vector []float32, k int) map[string]any {
	return map[string]any{
		"knn": map[string]any{
			FieldEmbedding: map[string]any{
				"vector": vector,
				"k":      k,
			},
		},
	}
}

// hybridBody renders the bool/should request.
func hybridBody(q HybridQuery) map[string]any {
	return map[string]any{
		"size": q.Size,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					knnClause(q.Vector, q.K),
					map[string]any{"match": map[string]any{
						FieldText: map[string]any{"query": q.Text, "boost": q.MatchBoost},
					}},
					map[string]any{"match_phrase": map[string]any{
						FieldText: map[string]any{"query": q.Text, "boost": q.PhraseBoost},
					}},
				},
				"minimum_should_match": 1,
			},
		},
		"_source": q.Source,
	}
}

func vectorBody(q VectorQuery) map[string]any {
	return map[string]any{
		"size":    q.Size,
		"query":   knnClause(q.Vector, q.K),
		"_source": q.Source,
	}
}

// Search runs the hybrid query.
func (o *OpenSearch) Search(ctx context.Context, q HybridQuery) ([]Hit, error) {
	return o.search(ctx, hybridBody(q))
}

// SearchVector runs the kNN-only query.
func (o *OpenSearch) SearchVector(ctx context.Context, q VectorQuery) ([]Hit, error) {
	return o.search(ctx, vectorBody(q))
}

func (o *OpenSearch) search(ctx context.Context, body map[string]any) ([]Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, amerrors.InternalError("failed to encode search request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := amerrors.RetryWithResult(ctx, o.retry, func() (*searchResponse, error) {
		var out searchResponse
		req := &opensearchapi.SearchReq{Indices: []string{o.index}, Body: bytes.NewReader(payload)}
		if err := o.do(ctx, "search", req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, Hit{
			ID:         h.ID,
			Text:       h.Source.Text,
			Score:      h.Score,
			ChunkIndex: h.Source.ChunkIndex,
			Length:     h.Source.Length,
		})
	}
	return hits, nil
}

// Exists reports whether the index is present (HEAD /{index}).
func (o *OpenSearch) Exists(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return amerrors.RetryWithResult(ctx, o.retry, func() (bool, error) {
		err := o.do(ctx, "exists", &opensearchapi.IndicesExistsReq{Indices: []string{o.index}}, nil)
		if errors.Is(err, amerrors.ErrIndexNotFound) {
			return false, nil
		}
		return err == nil, err
	})
}

// Count returns the document count.
func (o *OpenSearch) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return amerrors.RetryWithResult(ctx, o.retry, func() (int, error) {
		var out struct {
			Count int `json:"count"`
		}
		if err := o.do(ctx, "count", &opensearchapi.IndicesCountReq{Indices: []string{o.index}}, &out); err != nil {
			return 0, err
		}
		return out.Count, nil
	})
}

// mappingResponse is keyed by the concrete index name, which differs from
// o.index when o.index is an alias.
type mappingResponse map[string]struct {
	Mappings struct {
		Meta       map[string]any `json:"_meta"`
		Properties map[string]struct {
			Type      string `json:"type"`
			Dimension int    `json:"dimension"`
		} `json:"properties"`
	} `json:"mappings"`
}

func (o *OpenSearch) mapping(ctx context.Context) (mappingResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return amerrors.RetryWithResult(ctx, o.retry, func() (mappingResponse, error) {
		var out mappingResponse
		if err := o.do(ctx, "mapping", &opensearchapi.MappingGetReq{Indices: []string{o.index}}, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Dimensions reads the knn_vector dimension from the mapping.
func (o *OpenSearch) Dimensions(ctx context.Context) (int, error) {
	m, err := o.mapping(ctx)
	if err != nil {
		return 0, err
	}
	for _, idx := range m {
		if p, ok := idx.Mappings.Properties[FieldEmbedding]; ok {
			return p.Dimension, nil
		}
	}
	return 0, amerrors.New(amerrors.ErrCodeCorruptIndex,
		fmt.Sprintf("index %s has no %s field", o.index, FieldEmbedding), nil)
}

// Model reads the embedding model recorded in the mapping's _meta. Indexes
// created by other tools have none and return "".
func (o *OpenSearch) Model(ctx context.Context) (string, error) {
	m, err := o.mapping(ctx)
	if err != nil {
		return "", err
	}
	for _, idx := range m {
		if model, ok := idx.Mappings.Meta["embedding_model"].(string); ok {
			return model, nil
		}
	}
	return "", nil
}

// CreateIndex creates the index with a knn_vector field of dims dimensions.
func (o *OpenSearch) CreateIndex(ctx context.Context, dims int, model string) error {
	if dims <= 0 {
		return amerrors.ValidationError(fmt.Sprintf("invalid embedding dimension %d", dims), nil)
	}
	body := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
				"knn":                true,
			},
		},
		"mappings": map[string]any{
			"_meta": map[string]any{"embedding_model": model},
			"properties": map[string]any{
				FieldID:         map[string]any{"type": "keyword"},
				FieldText:       map[string]any{"type": "text"},
				FieldEmbedding:  map[string]any{"type": "knn_vector", "dimension": dims},
				FieldChunkIndex: map[string]any{"type": "integer"},
				FieldLength:     map[string]any{"type": "integer"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return amerrors.InternalError("failed to encode index settings", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	req := &opensearchapi.IndicesCreateReq{Index: o.index, Body: bytes.NewReader(payload)}
	if err := o.do(ctx, "create index", req, nil); err != nil {
		return err
	}

	slog.Info("index_created",
		slog.String("index", o.index),
		slog.Int("dimensions", dims),
		slog.String("model", model))
	return nil
}

// DeleteIndex removes the index. A missing index is not an error.
func (o *OpenSearch) DeleteIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err := o.do(ctx, "delete index", &opensearchapi.IndicesDeleteReq{Indices: []string{o.index}}, nil)
	if errors.Is(err, amerrors.ErrIndexNotFound) {
		return nil
	}
	if err == nil {
		slog.Info("index_deleted", slog.String("index", o.index))
	}
	return err
}

// bulkResponse is the subset of the _bulk response we read.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk indexes docs in NDJSON _bulk requests of BulkSize documents.
func (o *OpenSearch) Bulk(ctx context.Context, docs []Document) error {
	for start := 0; start < len(docs); start += o.bulkSize {
		end := min(start+o.bulkSize, len(docs))
		if err := o.bulkChunk(ctx, docs[start:end]); err != nil {
			return fmt.Errorf("bulk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (o *OpenSearch) bulkChunk(ctx context.Context, docs []Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		action := map[string]any{"index": map[string]any{"_index": o.index, "_id": d.ID}}
		source := map[string]any{
			FieldID:         d.ID,
			FieldText:       d.Text,
			FieldEmbedding:  d.Embedding,
			FieldChunkIndex: d.ChunkIndex,
			FieldLength:     d.Length,
		}
		if err := enc.Encode(action); err != nil {
			return amerrors.InternalError("failed to encode bulk action", err)
		}
		if err := enc.Encode(source); err != nil {
			return amerrors.InternalError("failed to encode bulk document", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var out bulkResponse
	if err := o.do(ctx, "bulk", &opensearchapi.BulkReq{Body: bytes.NewReader(buf.Bytes())}, &out); err != nil {
		return err
	}
	if !out.Errors {
		return nil
	}

	var failed []string
	for _, item := range out.Items {
		for _, res := range item {
			if res.Error != nil {
				failed = append(failed, res.ID+": "+res.Error.Reason)
			}
		}
	}
	slog.Warn("bulk_partial_failure",
		slog.Int("documents", len(docs)),
		slog.Int("failed", len(failed)))
	return amerrors.New(amerrors.ErrCodeIndexFailed,
		fmt.Sprintf("%d of %d documents failed", len(failed), len(docs)), nil).
		WithDetail("first_failure", failed[0])
}

// Close releases idle connections.
func (o *OpenSearch) Close() error {
	if t, ok := o.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// do performs one request and decodes a JSON response into out (when
// non-nil). Errors are classified so that RetryWithResult retries only
// transient ones.
func (o *OpenSearch) do(ctx context.Context, op string, req opensearch.Request, out any) error {
	resp, err := o.client.Do(ctx, req, out)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil && !resp.IsError() {
			return amerrors.New(amerrors.ErrCodeSearchFailed, op+": failed to decode response", err)
		}
		return classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return amerrors.New(amerrors.ErrCodeIndexNotFound,
			fmt.Sprintf("index %s not found", o.index), nil).
			WithSuggestion("Create and load it with 'amanrank index <file>'")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return amerrors.New(amerrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode, readSnippet(resp.Body)), nil)
	case resp.StatusCode >= 400:
		return amerrors.New(amerrors.ErrCodeServiceRejected,
			fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode, readSnippet(resp.Body)), nil)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return amerrors.New(amerrors.ErrCodeNetworkTimeout, "index request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return amerrors.NetworkError("index unreachable", err)
}

// readSnippet returns the first line of an error body, capped at 512 bytes.
func readSnippet(r io.Reader) string {
	line, _ := bufio.NewReader(io.LimitReader(r, 512)).ReadString('\n')
	return strings.TrimSpace(line)
}
