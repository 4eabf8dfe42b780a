package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// fakeRerankServer scores documents by length and answers in reverse
// order so callers must map results back by index.
type fakeRerankServer struct {
	models  map[string]bool
	drop    bool
	status  int
	delay   time.Duration
	calls   atomic.Int32
	healthy bool
}

func (f *fakeRerankServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !f.models[req.Model] {
			http.Error(w, "unknown model "+req.Model, http.StatusBadRequest)
			return
		}
		if f.status != 0 {
			http.Error(w, "failure", f.status)
			return
		}
		type result struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		var results []result
		for i := len(req.Documents) - 1; i >= 0; i-- {
			if f.drop && i == 0 {
				continue
			}
			results = append(results, result{Index: i, Score: float64(len(req.Documents[i]))})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	return mux
}

func newRerankServer(t *testing.T, f *fakeRerankServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

// ============================================================================
// Construction
// ============================================================================

func TestNewHTTPCrossEncoder_PicksFirstAcceptedModel(t *testing.T) {
	// Given: a server that only serves the second model
	f := &fakeRerankServer{models: map[string]bool{"small": true}}
	srv := newRerankServer(t, f)

	// When: creating with a fallback list
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL,
		Models:   []string{"large", "small"},
	})

	// Then: the second model is used
	require.NoError(t, err)
	defer func() { _ = ce.Close() }()
	assert.Equal(t, "small", ce.ModelName())
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestNewHTTPCrossEncoder_NoModelLoads(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{}})

	_, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL,
		Models:   []string{"a", "b"},
	})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeRerankFailed, amerrors.GetCode(err))
	assert.Contains(t, err.Error(), "[a b]")
}

func TestNewHTTPCrossEncoder_RequiresModels(t *testing.T) {
	_, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{Endpoint: "http://x"})

	require.Error(t, err)
	assert.True(t, amerrors.IsFatal(err))
}

// ============================================================================
// PredictBatch
// ============================================================================

func TestHTTPCrossEncoder_PreservesInputOrder(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	scores, err := ce.PredictBatch(context.Background(), "q", []string{"a", "bbb", "cc"})

	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2}, scores)
}

func TestHTTPCrossEncoder_Predict(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	score, err := Predict(context.Background(), ce, "q", "four")

	require.NoError(t, err)
	assert.Equal(t, 4.0, score)
}

func TestHTTPCrossEncoder_MissingIndexIsError(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}, drop: true})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	_, err = ce.PredictBatch(context.Background(), "q", []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing index 0")
}

func TestHTTPCrossEncoder_ServerError(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}, status: http.StatusInternalServerError})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	_, err = ce.PredictBatch(context.Background(), "q", []string{"a"})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeRerankFailed, amerrors.GetCode(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPCrossEncoder_Timeout(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}, delay: 200 * time.Millisecond})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true, Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = ce.PredictBatch(context.Background(), "q", []string{"a"})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNetworkTimeout, amerrors.GetCode(err))
}

func TestHTTPCrossEncoder_EmptyAndClosed(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}, healthy: true})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	scores, err := ce.PredictBatch(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.True(t, ce.Available(context.Background()))

	require.NoError(t, ce.Close())
	require.NoError(t, ce.Close())
	assert.False(t, ce.Available(context.Background()))
	_, err = ce.PredictBatch(context.Background(), "q", []string{"a"})
	assert.True(t, err != nil && strings.Contains(err.Error(), "closed"))
}

func TestHTTPCrossEncoder_Unhealthy(t *testing.T) {
	srv := newRerankServer(t, &fakeRerankServer{models: map[string]bool{"m": true}})
	ce, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Models: []string{"m"}, SkipModelCheck: true,
	})
	require.NoError(t, err)

	assert.False(t, ce.Available(context.Background()))
}

// ============================================================================
// NoOp
// ============================================================================

func TestNoOpCrossEncoder(t *testing.T) {
	ce := NoOpCrossEncoder{}

	_, err := ce.PredictBatch(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, ErrCrossEncoderUnavailable)
	_, err = Predict(context.Background(), ce, "q", "a")
	assert.ErrorIs(t, err, ErrCrossEncoderUnavailable)
	assert.False(t, ce.Available(context.Background()))
	assert.Equal(t, "none", ce.ModelName())
	assert.NoError(t, ce.Close())
}
