package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/index"
	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		recreate    bool
		batchSize   int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Load pre-chunked passages into the index",
		Long: `Embed passages and write them to the configured index.

The file holds one passage per line, or JSON lines of the form {"text": "..."}.
Use "-" to read from stdin. The index is created with the embedder's
dimension when missing. An existing index built with another model is an
error unless --recreate is given.`,
		Example: `  amanrank index passages.jsonl
  amanrank index passages.txt --recreate
  cat passages.jsonl | amanrank index -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passages, err := readPassagesFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			_, r, err := a.openRanker(ctx, ranker.WithoutIndexCheck())
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			out := output.New(cmd.OutOrStdout())
			out.Statusf("📂", "Loaded %d passages from %s", len(passages), args[0])

			res, err := r.Index(ctx, passages, index.LoaderConfig{
				Recreate:    recreate,
				BatchSize:   batchSize,
				Concurrency: concurrency,
				Progress: func(done, total int) {
					out.Progress(done, total, "Indexing passages")
				},
			})
			if err != nil {
				return err
			}

			out.Successf("Indexed %d passages in %s", res.Passages, res.Duration.Round(time.Millisecond))
			out.KeyValue("Model", res.Model)
			out.KeyValue("Dimensions", res.Dimensions)
			if res.Skipped > 0 {
				out.KeyValue("Skipped (blank)", res.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "Delete and recreate the index first")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Passages per embedding and bulk batch (default index.bulk_size)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Batches embedded in parallel")

	return cmd
}

// readPassagesFile reads passages from path, or from stdin when path is "-".
func readPassagesFile(stdin io.Reader, path string) ([]string, error) {
	if path == "-" {
		return index.ReadPassages(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return index.ReadPassages(f)
}
