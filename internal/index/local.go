package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// File names inside a local index directory.
const (
	PassageDBName  = "passages.db"
	LexicalDirName = "lexical.bleve"
)

// Local is a Backend stored on disk under one directory. Scores mirror the
// OpenSearch bool/should query: the kNN similarity when the document is
// among the K nearest neighbours, plus the boosted match and phrase scores.
type Local struct {
	mu  sync.RWMutex
	dir string

	meta    *metaStore
	lexical *lexicalIndex
	vectors *vectorIndex
	lock    *FileLock

	closed bool
}

var _ Backend = (*Local)(nil)

// OpenLocal opens the index in dir, creating the directory if needed. An
// empty dir opens a throwaway in-memory index.
func OpenLocal(ctx context.Context, dir string) (*Local, error) {
	var dbPath, lexPath string
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission, "cannot create index directory "+dir, err)
		}
		dbPath = filepath.Join(dir, PassageDBName)
		lexPath = filepath.Join(dir, LexicalDirName)
	}

	meta, err := openMetaStore(dbPath)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "cannot open passage store", err).
			WithSuggestion("Rebuild the index with 'amanrank index --recreate <file>'")
	}

	lexical, fresh, err := openLexicalIndex(lexPath)
	if err != nil {
		_ = meta.close()
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "cannot open lexical index", err)
	}

	l := &Local{dir: dir, meta: meta, lexical: lexical}
	if dir != "" {
		l.lock = NewFileLock(dir)
	}

	if err := l.load(ctx, fresh); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// load rebuilds the vector graph from stored embeddings. When the lexical
// index was just (re)created it is refilled from the passage store.
func (l *Local) load(ctx context.Context, refillLexical bool) error {
	dims, err := l.meta.dimensions(ctx)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeCorruptIndex, "cannot read index meta", err)
	}
	if dims == 0 {
		return nil
	}
	l.vectors = newVectorIndex(dims)

	var refill []Document
	err = l.meta.eachEmbedding(ctx, func(id string, vec []float32) error {
		if refillLexical {
			refill = append(refill, Document{ID: id})
		}
		return l.vectors.add(id, vec)
	})
	if err != nil {
		return amerrors.New(amerrors.ErrCodeCorruptIndex, "cannot load embeddings", err)
	}

	if len(refill) > 0 {
		ids := make([]string, len(refill))
		for i, d := range refill {
			ids[i] = d.ID
		}
		passages, err := l.meta.get(ctx, ids)
		if err != nil {
			return amerrors.New(amerrors.ErrCodeCorruptIndex, "cannot load passages", err)
		}
		for i := range refill {
			refill[i].Text = passages[refill[i].ID].Text
		}
		if err := l.lexical.add(refill); err != nil {
			return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot rebuild lexical index", err)
		}
		slog.Info("lexical_index_rebuilt", slog.Int("documents", len(refill)))
	}

	slog.Debug("local_index_loaded",
		slog.String("dir", l.dir),
		slog.Int("dimensions", dims),
		slog.Int("vectors", l.vectors.count()))
	return nil
}

func (l *Local) checkOpen() error {
	if l.closed {
		return amerrors.InternalError("local index is closed", nil)
	}
	return nil
}

func (l *Local) notFound() error {
	return amerrors.New(amerrors.ErrCodeIndexNotFound, "local index at "+l.dir+" has not been created", nil).
		WithSuggestion("Create and load it with 'amanrank index <file>'")
}

// scored accumulates one document's hybrid score.
type scored struct {
	id      string
	score   float64
	seq     int64
	matched []Clause
}

// Search runs the kNN and lexical channels in parallel and merges them.
func (l *Local) Search(ctx context.Context, q HybridQuery) ([]Hit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if l.vectors == nil {
		return nil, l.notFound()
	}

	var vecHits []vectorHit
	var lexHits []lexicalHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = l.vectors.search(q.Vector, q.K)
		return err
	})
	g.Go(func() error {
		var err error
		lexHits, err = l.lexical.search(gctx, q.Text, q.Size, q.MatchBoost, q.PhraseBoost)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "local search failed", err)
	}

	byID := make(map[string]*scored)
	get := func(id string) *scored {
		s, ok := byID[id]
		if !ok {
			s = &scored{id: id}
			byID[id] = s
		}
		return s
	}
	for _, h := range vecHits {
		s := get(h.ID)
		s.score += h.Score
		s.matched = append(s.matched, ClauseKNN)
	}
	for _, h := range lexHits {
		s := get(h.ID)
		s.score += h.Score
		if h.Match {
			s.matched = append(s.matched, ClauseMatch)
		}
		if h.Phrase {
			s.matched = append(s.matched, ClausePhrase)
		}
	}

	return l.materialize(ctx, byID, q.Size, q.Source)
}

// SearchVector runs the kNN channel only.
func (l *Local) SearchVector(ctx context.Context, q VectorQuery) ([]Hit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if l.vectors == nil {
		return nil, l.notFound()
	}

	vecHits, err := l.vectors.search(q.Vector, q.K)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "local kNN search failed", err)
	}
	byID := make(map[string]*scored, len(vecHits))
	for _, h := range vecHits {
		byID[h.ID] = &scored{id: h.ID, score: h.Score, matched: []Clause{ClauseKNN}}
	}
	return l.materialize(ctx, byID, q.Size, q.Source)
}

// materialize loads passages, orders by score descending (insertion order
// breaks ties) and trims to size. Only fields in source are filled.
func (l *Local) materialize(ctx context.Context, byID map[string]*scored, size int, source []string) ([]Hit, error) {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	passages, err := l.meta.get(ctx, ids)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "cannot load passages", err)
	}

	list := make([]*scored, 0, len(byID))
	for id, s := range byID {
		p, ok := passages[id]
		if !ok {
			continue
		}
		s.seq = p.Seq
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].seq < list[j].seq
	})
	if size > 0 && len(list) > size {
		list = list[:size]
	}

	want := make(map[string]bool, len(source))
	for _, f := range source {
		want[f] = true
	}

	hits := make([]Hit, 0, len(list))
	for _, s := range list {
		p := passages[s.id]
		h := Hit{ID: s.id, Score: s.score, Matched: s.matched}
		if want[FieldText] {
			h.Text = p.Text
		}
		if want[FieldChunkIndex] {
			h.ChunkIndex = p.ChunkIndex
		}
		if want[FieldLength] {
			h.Length = p.Length
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Exists reports whether CreateIndex has run.
func (l *Local) Exists(ctx context.Context) (bool, error) {
	dims, err := l.Dimensions(ctx)
	return dims > 0, err
}

// Count returns the number of stored passages.
func (l *Local) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return 0, err
	}
	return l.meta.count(ctx)
}

// Dimensions returns the recorded embedding dimension, 0 if not created.
func (l *Local) Dimensions(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return 0, err
	}
	return l.meta.dimensions(ctx)
}

// Model returns the recorded embedding model.
func (l *Local) Model(ctx context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkOpen(); err != nil {
		return "", err
	}
	return l.meta.getMeta(ctx, metaKeyModel)
}

// withWriteLock holds the in-process write lock and, on disk, the
// cross-process file lock.
func (l *Local) withWriteLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen(); err != nil {
		return err
	}
	if l.lock != nil {
		if err := l.lock.TryLock(); err != nil {
			return err
		}
		defer func() {
			if err := l.lock.Unlock(); err != nil {
				slog.Warn("index_unlock_failed", slog.String("error", err.Error()))
			}
		}()
	}
	return fn()
}

// CreateIndex records dims and model. Creating an existing index is an
// error, as it is for OpenSearch; delete it first.
func (l *Local) CreateIndex(ctx context.Context, dims int, model string) error {
	if dims <= 0 {
		return amerrors.ValidationError(fmt.Sprintf("invalid embedding dimension %d", dims), nil)
	}
	return l.withWriteLock(func() error {
		existing, err := l.meta.dimensions(ctx)
		if err != nil {
			return err
		}
		if existing > 0 {
			return amerrors.New(amerrors.ErrCodeServiceRejected, "index already exists at "+l.dir, nil).
				WithSuggestion("Use --recreate to rebuild it")
		}
		if err := l.meta.setMeta(ctx, metaKeyDimensions, strconv.Itoa(dims)); err != nil {
			return err
		}
		if err := l.meta.setMeta(ctx, metaKeyModel, model); err != nil {
			return err
		}
		l.vectors = newVectorIndex(dims)
		slog.Info("index_created",
			slog.String("dir", l.dir),
			slog.Int("dimensions", dims),
			slog.String("model", model))
		return nil
	})
}

// DeleteIndex drops every passage and the meta.
func (l *Local) DeleteIndex(ctx context.Context) error {
	return l.withWriteLock(func() error {
		if err := l.meta.reset(ctx); err != nil {
			return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot clear passage store", err)
		}
		if err := l.lexical.reset(); err != nil {
			return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot clear lexical index", err)
		}
		l.vectors = nil
		slog.Info("index_deleted", slog.String("dir", l.dir))
		return nil
	})
}

// Bulk stores passages in all three stores. Every embedding must match the
// index dimension.
func (l *Local) Bulk(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	return l.withWriteLock(func() error {
		if l.vectors == nil {
			return l.notFound()
		}
		for _, d := range docs {
			if len(d.Embedding) != l.vectors.dims {
				return amerrors.DimensionMismatchError(l.vectors.dims, len(d.Embedding), "of document "+d.ID)
			}
		}

		if _, err := l.meta.put(ctx, docs); err != nil {
			return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot store passages", err)
		}
		if err := l.lexical.add(docs); err != nil {
			return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot index passages", err)
		}
		for _, d := range docs {
			if err := l.vectors.add(d.ID, d.Embedding); err != nil {
				return amerrors.New(amerrors.ErrCodeIndexFailed, "cannot add vector", err)
			}
		}
		return nil
	})
}

// Close releases the stores. It is safe to call more than once.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if err := l.lexical.close(); err != nil {
		firstErr = err
	}
	if err := l.meta.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	l.vectors = nil
	return firstErr
}
