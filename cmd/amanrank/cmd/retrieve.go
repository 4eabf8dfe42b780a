package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/internal/search"
)

func newRetrieveCmd(a *app) *cobra.Command {
	var (
		topK       int
		vectorOnly bool
		format     string
	)

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Show retrieval candidates without reranking",
		Long: `Run only the retrieval stage: the hybrid kNN + match + phrase query, or
with --vector-only the kNN fallback query. Useful to inspect what the
reranker is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown format %q (supported: text, json)", format)
			}
			ctx := cmd.Context()
			_, r, err := a.openRanker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			query := strings.Join(args, " ")
			candidates := r.Retrieve(ctx, query, topK, vectorOnly)

			if format == formatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(candidates)
			}
			writeCandidates(output.New(cmd.OutOrStdout()), candidates)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Candidates to retrieve (default search.search_top_k)")
	cmd.Flags().BoolVar(&vectorOnly, "vector-only", false, "Use the kNN-only query")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func writeCandidates(out *output.Writer, candidates []search.Candidate) {
	if len(candidates) == 0 {
		out.Warning("No candidates retrieved")
		return
	}
	out.Header(fmt.Sprintf("%d candidates", len(candidates)))
	out.Newline()
	for i, c := range candidates {
		out.Passage(i+1, fmt.Sprintf("score=%.4f channel=%s", c.RawScore, c.Channel), c.Text, wrapWidth)
	}
}
