package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// PassageAnalyzerName splits on Unicode word boundaries and lowercases, with
// no stemming or stop words: Vietnamese syllables are short and a stop list
// built for English would drop real terms.
const PassageAnalyzerName = "passage_analyzer"

// lexicalDoc is the document shape indexed by bleve.
type lexicalDoc struct {
	Text string `json:"text"`
}

// lexicalHit is one clause result.
type lexicalHit struct {
	ID     string
	Score  float64
	Match  bool
	Phrase bool
}

// lexicalIndex runs the match and match_phrase clauses.
type lexicalIndex struct {
	index bleve.Index
	path  string
}

// validateLexicalIntegrity checks index_meta.json of an existing index.
func validateLexicalIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func lexicalMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(PassageAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	m.DefaultAnalyzer = PassageAnalyzerName
	return m, nil
}

// openLexicalIndex opens or creates the bleve index at path. An empty path
// creates an in-memory index. A corrupt index is cleared; the caller
// re-feeds it from the passage store.
func openLexicalIndex(path string) (*lexicalIndex, bool, error) {
	m, err := lexicalMapping()
	if err != nil {
		return nil, false, err
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create index: %w", err)
		}
		return &lexicalIndex{index: idx}, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}

	if validErr := validateLexicalIntegrity(path); validErr != nil {
		slog.Warn("lexical_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, false, fmt.Errorf("lexical index corrupted and cannot remove: %w (original error: %v)", err, validErr)
		}
	}

	created := false
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, m)
		created = true
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open lexical index: %w", err)
	}
	return &lexicalIndex{index: idx, path: path}, created, nil
}

// add indexes passages by id.
func (l *lexicalIndex) add(docs []Document) error {
	batch := l.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, lexicalDoc{Text: d.Text}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// search runs the match clause and the phrase clause and sums the scores
// of documents matching both. Hits are in no particular order.
func (l *lexicalIndex) search(ctx context.Context, text string, size int, matchBoost, phraseBoost float64) ([]lexicalHit, error) {
	if strings.TrimSpace(text) == "" || size <= 0 {
		return nil, nil
	}

	match := bleve.NewMatchQuery(text)
	match.SetField(FieldText)
	match.SetBoost(matchBoost)

	phrase := bleve.NewMatchPhraseQuery(text)
	phrase.SetField(FieldText)
	phrase.SetBoost(phraseBoost)

	byID := make(map[string]*lexicalHit)
	var order []string
	collect := func(res *bleve.SearchResult, isPhrase bool) {
		for _, h := range res.Hits {
			hit, ok := byID[h.ID]
			if !ok {
				hit = &lexicalHit{ID: h.ID}
				byID[h.ID] = hit
				order = append(order, h.ID)
			}
			hit.Score += h.Score
			if isPhrase {
				hit.Phrase = true
			} else {
				hit.Match = true
			}
		}
	}

	matchRes, err := l.index.SearchInContext(ctx, sizedRequest(match, size))
	if err != nil {
		return nil, fmt.Errorf("match query failed: %w", err)
	}
	collect(matchRes, false)

	phraseRes, err := l.index.SearchInContext(ctx, sizedRequest(phrase, size))
	if err != nil {
		return nil, fmt.Errorf("phrase query failed: %w", err)
	}
	collect(phraseRes, true)

	out := make([]lexicalHit, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func sizedRequest(q query.Query, size int) *bleve.SearchRequest {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	return req
}

// count returns the number of indexed documents.
func (l *lexicalIndex) count() (int, error) {
	n, err := l.index.DocCount()
	return int(n), err
}

// allIDs returns every indexed id.
func (l *lexicalIndex) allIDs() ([]string, error) {
	n, err := l.index.DocCount()
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(n)
	req.Fields = []string{}

	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// reset empties the index by recreating it.
func (l *lexicalIndex) reset() error {
	if err := l.index.Close(); err != nil {
		return err
	}
	m, err := lexicalMapping()
	if err != nil {
		return err
	}
	if l.path == "" {
		l.index, err = bleve.NewMemOnly(m)
		return err
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("failed to remove lexical index: %w", err)
	}
	l.index, err = bleve.New(l.path, m)
	return err
}

func (l *lexicalIndex) close() error {
	return l.index.Close()
}
