package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and model health",
		Long: `Check that the index exists, count its passages and report which
embedding and reranking models are loaded and reachable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, r, err := a.openRanker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			st := r.Status(ctx)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			writeStatus(output.New(cmd.OutOrStdout()), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func writeStatus(out *output.Writer, st ranker.Status) {
	out.Header("amanrank status")
	out.Newline()

	switch {
	case st.Error != "":
		out.Errorf("Index unreachable: %s", st.Error)
	case !st.IndexExists:
		out.Warning("Index does not exist. Run 'amanrank index <file>' first.")
	default:
		out.Successf("Index ready with %d passages", st.Documents)
	}
	out.KeyValue("Backend", st.Backend)
	if st.IndexExists {
		out.KeyValue("Dimensions", st.Dimensions)
		if st.IndexModel != "" {
			out.KeyValue("Index model", st.IndexModel)
		}
	}
	if st.Breaker != "" {
		out.KeyValue("Circuit breaker", st.Breaker)
	}
	out.KeyValue("Embedder", availability(st.Embedder, st.EmbedderAvailable))
	out.KeyValue("Reranker", availability(st.Reranker, st.RerankerAvailable))
}

func availability(model string, ok bool) string {
	if ok {
		return model + " (available)"
	}
	return model + " (unavailable)"
}
