package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrCrossEncoderUnavailable is returned when no cross-encoder is
// configured. Ranking then uses keyword scores only.
var ErrCrossEncoderUnavailable = errors.New("cross-encoder unavailable")

// CrossEncoder scores (query, passage) pairs jointly. Cross-encoders are
// more accurate than comparing embeddings but too slow to run over a whole
// index, so they only see the retrieved pool.
type CrossEncoder interface {
	// PredictBatch scores every text against query. The result has the
	// same length and order as texts.
	PredictBatch(ctx context.Context, query string, texts []string) ([]float64, error)

	// ModelName returns the loaded model.
	ModelName() string

	// Available checks if the model service responds.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Predict scores a single pair.
func Predict(ctx context.Context, ce CrossEncoder, query, text string) (float64, error) {
	scores, err := ce.PredictBatch(ctx, query, []string{text})
	if err != nil {
		return 0, err
	}
	if len(scores) != 1 {
		return 0, fmt.Errorf("cross-encoder returned %d scores for 1 pair", len(scores))
	}
	return scores[0], nil
}

// NoOpCrossEncoder stands in when reranking is disabled. Every prediction
// fails with ErrCrossEncoderUnavailable.
type NoOpCrossEncoder struct{}

// PredictBatch always fails.
func (NoOpCrossEncoder) PredictBatch(context.Context, string, []string) ([]float64, error) {
	return nil, ErrCrossEncoderUnavailable
}

// ModelName returns "none".
func (NoOpCrossEncoder) ModelName() string { return "none" }

// Available always returns false.
func (NoOpCrossEncoder) Available(context.Context) bool { return false }

// Close is a no-op.
func (NoOpCrossEncoder) Close() error { return nil }

// Verify interface implementation at compile time
var _ CrossEncoder = NoOpCrossEncoder{}
