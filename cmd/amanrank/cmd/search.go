package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/internal/search"
	"github.com/Aman-CERP/amanrank/internal/textnorm"
	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

// Output formats of the search command.
const (
	formatText    = "text"
	formatJSON    = "json"
	formatContext = "context"
)

// wrapWidth is the column at which passage text wraps in text output.
const wrapWidth = 100

// searchOptions holds CLI flags for search.
type searchOptions struct {
	retrieveK int
	limit     int
	format    string
	explain   bool
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank the passages that best answer a question",
		Long: `Retrieve candidates with the hybrid kNN + lexical query and rank them by
cross-encoder and keyword scores.

Formats:
  text     numbered passages (with --explain, every score)
  json     ranked results with scores
  context  passages joined for use as prompt context

Examples:
  amanrank search "Ông Trần Bá Dương sinh năm nào?"
  amanrank search "chủ tịch Thaco" -n 3 --explain
  amanrank search "chủ tịch Thaco" --format context`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, a, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.retrieveK, "retrieve-k", "k", 0, "Candidates to retrieve (default search.search_top_k)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Passages to return (default search.top_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "Output format: text, json, context")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show cross-encoder, keyword and combined scores")

	return cmd
}

// searchResult is the JSON shape of one ranked passage.
type searchResult struct {
	Rank          int                      `json:"rank"`
	Text          string                   `json:"text"`
	Channel       search.Channel           `json:"channel"`
	CombinedScore float64                  `json:"combined_score"`
	CrossScore    *float64                 `json:"cross_score,omitempty"`
	KeywordScore  int                      `json:"keyword_score"`
	Keywords      *search.KeywordBreakdown `json:"keywords,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
	Message string         `json:"message,omitempty"`
}

func runSearch(cmd *cobra.Command, a *app, query string, opts searchOptions) error {
	switch opts.format {
	case formatText, formatJSON, formatContext:
	default:
		return fmt.Errorf("unknown format %q (supported: text, json, context)", opts.format)
	}

	ctx := cmd.Context()
	cfg, r, err := a.openRanker(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	retrieveK := opts.retrieveK
	if retrieveK <= 0 {
		retrieveK = cfg.Search.SearchTopK
	}
	results, err := r.RankDetailed(ctx, query, retrieveK, opts.limit)
	if err != nil {
		return err
	}
	slog.Debug("search_complete", slog.String("query", query), slog.Int("results", len(results)))

	w := cmd.OutOrStdout()
	switch opts.format {
	case formatJSON:
		scorer := search.NewKeywordScorer(cfg.Keywords)
		return writeSearchJSON(w, query, results, scorer, opts.explain)
	case formatContext:
		passages := search.Passages(results)
		if len(passages) == 0 {
			_, err := fmt.Fprintln(w, ranker.NoResultsMessage)
			return err
		}
		_, err := fmt.Fprintln(w, r.Context(passages))
		return err
	default:
		scorer := search.NewKeywordScorer(cfg.Keywords)
		writeSearchText(output.New(w), query, results, scorer, opts.explain)
		return nil
	}
}

func writeSearchJSON(w io.Writer, query string, results []search.RankedResult, scorer *search.KeywordScorer, explain bool) error {
	resp := searchResponse{Query: query, Results: make([]searchResult, 0, len(results))}
	for _, res := range results {
		sr := searchResult{
			Rank:          res.Rank,
			Text:          res.Candidate.Text,
			Channel:       res.Candidate.Channel,
			CombinedScore: res.CombinedScore,
			KeywordScore:  res.KeywordScore,
		}
		if res.Cross.Computed {
			v := res.Cross.Value
			sr.CrossScore = &v
		}
		if explain {
			b := scorer.Explain(textnorm.Normalize(query), res.Candidate.Text)
			sr.Keywords = &b
		}
		resp.Results = append(resp.Results, sr)
	}
	if len(results) == 0 {
		resp.Message = ranker.NoResultsMessage
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func writeSearchText(out *output.Writer, query string, results []search.RankedResult, scorer *search.KeywordScorer, explain bool) {
	if len(results) == 0 {
		out.Status("🔍", ranker.NoResultsMessage)
		return
	}

	out.Header(fmt.Sprintf("%d passages for %q", len(results), query))
	out.Newline()
	for _, res := range results {
		scores := ""
		if explain {
			scores = explainScores(res, scorer.Explain(textnorm.Normalize(query), res.Candidate.Text))
		}
		out.Passage(res.Rank, scores, res.Candidate.Text, wrapWidth)
	}
}

// explainScores renders the score line of --explain.
func explainScores(res search.RankedResult, b search.KeywordBreakdown) string {
	cross := "n/a"
	if res.Cross.Computed {
		cross = fmt.Sprintf("%.3f", res.Cross.Value)
	}
	parts := []string{
		fmt.Sprintf("combined=%.3f", res.CombinedScore),
		"cross=" + cross,
		fmt.Sprintf("keyword=%d", res.KeywordScore),
		"channel=" + string(res.Candidate.Channel),
	}
	if len(b.ProperNouns) > 0 {
		parts = append(parts, "names="+strings.Join(b.ProperNouns, ","))
	}
	if len(b.Years) > 0 {
		parts = append(parts, "years="+strings.Join(b.Years, ","))
	}
	if b.Trigger {
		parts = append(parts, "trigger")
	}
	if len(b.Important) > 0 {
		parts = append(parts, "important="+strings.Join(b.Important, ","))
	}
	return strings.Join(parts, " ")
}
