package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/textnorm"
)

// Pipeline composes retrieval and fusion behind one handle. It holds no
// per-query state and is safe for concurrent use.
type Pipeline struct {
	retriever *Retriever
	fuser     *Fuser
}

// NewPipeline creates a pipeline.
func NewPipeline(retriever *Retriever, fuser *Fuser) *Pipeline {
	return &Pipeline{retriever: retriever, fuser: fuser}
}

// Retriever returns the retrieval stage.
func (p *Pipeline) Retriever() *Retriever {
	return p.retriever
}

// Rank retrieves retrieveK candidates and returns the topK best. Errors
// are only returned for invalid input; backend failures degrade to fewer
// or no results.
func (p *Pipeline) Rank(ctx context.Context, query string, retrieveK, topK int) ([]RankedResult, error) {
	if textnorm.Normalize(query) == "" {
		return nil, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if retrieveK <= 0 || topK <= 0 {
		return nil, amerrors.ValidationError(
			fmt.Sprintf("retrieve_k and top_k must be positive, got %d and %d", retrieveK, topK), nil)
	}

	requestID := uuid.NewString()
	log := logger(ctx).With(slog.String("request_id", requestID))
	ctx = withLogger(ctx, log)

	start := time.Now()
	candidates := p.retriever.Retrieve(ctx, query, retrieveK)
	results := p.fuser.Rank(ctx, query, candidates, topK)

	log.Info("rank_complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", len(results) > 0 && results[0].Cross.Computed),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// Passages returns the trimmed passage texts in rank order.
func Passages(results []RankedResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if text := strings.TrimSpace(r.Candidate.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
