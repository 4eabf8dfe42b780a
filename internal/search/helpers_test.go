package search

import (
	"context"
	"errors"
	"sync"
)

// mockCrossEncoder scores texts from a map; unknown texts score 0.
type mockCrossEncoder struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	// short drops the last score to simulate a malformed response.
	short bool
	// block waits for the context to end.
	block bool

	calls     int
	lastTexts []string
}

func (m *mockCrossEncoder) PredictBatch(ctx context.Context, _ string, texts []string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	m.lastTexts = append([]string(nil), texts...)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = m.scores[t]
	}
	if m.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (m *mockCrossEncoder) ModelName() string             { return "mock-ce" }
func (m *mockCrossEncoder) Available(context.Context) bool { return m.err == nil }
func (m *mockCrossEncoder) Close() error                   { return nil }

var errModelDown = errors.New("model down")

func candidates(texts ...string) []Candidate {
	out := make([]Candidate, len(texts))
	for i, t := range texts {
		out[i] = Candidate{Text: t, RawScore: float64(len(texts) - i), Channel: ChannelLexical}
	}
	return out
}

func texts(results []RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Candidate.Text
	}
	return out
}
