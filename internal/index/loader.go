package index

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec // short content tag in document ids, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrank/internal/embed"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/textnorm"
)

// LoaderConfig configures a load run.
type LoaderConfig struct {
	// Recreate deletes the index before loading.
	Recreate bool
	// BatchSize is the number of passages embedded and written together.
	BatchSize int
	// Concurrency is the number of embedding batches in flight.
	Concurrency int
	// Progress, when set, is called after every written batch.
	Progress func(done, total int)
}

// LoadResult describes a finished load.
type LoadResult struct {
	Passages   int
	Skipped    int
	Dimensions int
	Model      string
	Duration   time.Duration
}

// passageLine is the JSONL input shape.
type passageLine struct {
	Text string `json:"text"`
}

// ReadPassages reads pre-chunked passages. A line starting with '{' is
// parsed as {"text": ...}; any other non-blank line is a passage. Text is
// normalized the same way queries are.
func ReadPassages(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		text := line
		if strings.HasPrefix(line, "{") {
			var pl passageLine
			if err := json.Unmarshal([]byte(line), &pl); err != nil {
				return nil, amerrors.ValidationError(fmt.Sprintf("line %d: invalid JSON passage", lineNo), err)
			}
			text = pl.Text
		}
		if text = textnorm.Normalize(text); text != "" {
			out = append(out, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, amerrors.IOError("failed to read passages", err)
	}
	return out, nil
}

// DocumentID is chunk_{i}_{first 8 hex chars of md5(text)}.
func DocumentID(i int, text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return fmt.Sprintf("chunk_%d_%s", i, hex.EncodeToString(sum[:])[:8])
}

// Loader embeds passages and writes them to a backend.
type Loader struct {
	backend  Backend
	embedder embed.Embedder
}

// NewLoader creates a loader.
func NewLoader(backend Backend, embedder embed.Embedder) *Loader {
	return &Loader{backend: backend, embedder: embedder}
}

// Load writes passages to the index, creating it when missing. An existing
// index built with different dimensions is a fatal mismatch unless
// cfg.Recreate is set.
func (l *Loader) Load(ctx context.Context, passages []string, cfg LoaderConfig) (*LoadResult, error) {
	start := time.Now()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBulkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	dims := l.embedder.Dimensions()
	model := l.embedder.ModelName()

	if err := l.prepare(ctx, dims, model, cfg.Recreate); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(passages))
	for i, text := range passages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, Document{
			ID:         DocumentID(i, text),
			Text:       text,
			ChunkIndex: i,
			Length:     utf8.RuneCountInString(text),
		})
	}
	result := &LoadResult{
		Skipped:    len(passages) - len(docs),
		Dimensions: dims,
		Model:      model,
	}

	// Batches are embedded concurrently; each writes itself once embedded
	// so memory stays bounded by the concurrency limit.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	written := make(chan int, (len(docs)+cfg.BatchSize-1)/cfg.BatchSize)

	for batchStart := 0; batchStart < len(docs); batchStart += cfg.BatchSize {
		batch := docs[batchStart:min(batchStart+cfg.BatchSize, len(docs))]
		from := batchStart
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Text
			}
			vecs, err := l.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return amerrors.New(amerrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("failed to embed passages %d-%d", from, from+len(batch)), err)
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			if err := l.backend.Bulk(gctx, batch); err != nil {
				return err
			}
			written <- len(batch)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range written {
			result.Passages += n
			if cfg.Progress != nil {
				cfg.Progress(result.Passages, len(docs))
			}
		}
	}()

	err := g.Wait()
	close(written)
	<-done
	if err != nil {
		slog.Error("index_load_failed",
			slog.Int("written", result.Passages),
			slog.Int("total", len(docs)),
			slog.String("error", err.Error()))
		return result, err
	}

	result.Duration = time.Since(start)
	slog.Info("index_load_complete",
		slog.Int("passages", result.Passages),
		slog.Int("skipped", result.Skipped),
		slog.String("model", model),
		slog.Int("dimensions", dims),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// prepare makes sure an index with the embedder's dimensions exists.
func (l *Loader) prepare(ctx context.Context, dims int, model string, recreate bool) error {
	exists, err := l.backend.Exists(ctx)
	if err != nil {
		return err
	}
	if exists && recreate {
		if err := l.backend.DeleteIndex(ctx); err != nil {
			return err
		}
		exists = false
	}
	if !exists {
		return l.backend.CreateIndex(ctx, dims, model)
	}
	return CheckCompatible(ctx, l.backend, l.embedder)
}

// CheckCompatible compares the index's recorded dimensions and model with
// the embedder. A mismatch is a fatal ERR_402_DIMENSION_MISMATCH: vectors
// from a different model cannot be compared with the indexed ones.
func CheckCompatible(ctx context.Context, st Stater, e embed.Embedder) error {
	dims, err := st.Dimensions(ctx)
	if err != nil {
		return err
	}
	if dims != e.Dimensions() {
		return amerrors.DimensionMismatchError(dims, e.Dimensions(), e.ModelName())
	}

	model, err := st.Model(ctx)
	if err != nil {
		return err
	}
	if model != "" && !strings.EqualFold(model, e.ModelName()) {
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with %s but the embedder is %s", model, e.ModelName()), nil).
			WithDetail("index_model", model).
			WithDetail("embedder_model", e.ModelName()).
			WithSuggestion("Put " + model + " first in embeddings.models, or rebuild with 'amanrank index --recreate'")
	}
	return nil
}
