package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrank/pkg/ranker"
)

// batchLine is one JSONL output record of the batch command.
type batchLine struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
	Message  string   `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		concurrency int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Rank passages for many queries",
		Long: `Answer every query of a file and write one JSON line per query, in input
order. The file holds one query per line, or JSON lines {"query": "..."}.
Use "-" to read from stdin. A failing query is reported in its line and
does not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueriesFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			_, r, err := a.openRanker(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			lines := make([]batchLine, len(queries))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for i, q := range queries {
				g.Go(func() error {
					lines[i] = batchLine{Query: q, Passages: []string{}}
					passages, err := r.Rank(gctx, q, limit)
					switch {
					case err != nil:
						lines[i].Error = err.Error()
					case len(passages) == 0:
						lines[i].Message = ranker.NoResultsMessage
					default:
						lines[i].Passages = passages
					}
					return nil
				})
			}
			_ = g.Wait()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, line := range lines {
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Queries ranked in parallel")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Passages per query (default search.top_k)")

	return cmd
}

// readQueriesFile reads queries from path, or from stdin when path is "-".
func readQueriesFile(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return readQueries(r)
}

// readQueries parses plain lines or {"query": ...} JSON lines. Blank lines
// are skipped.
func readQueries(r io.Reader) ([]string, error) {
	var queries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var q struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal([]byte(line), &q); err != nil {
				return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
			}
			line = strings.TrimSpace(q.Query)
			if line == "" {
				continue
			}
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	return queries, nil
}
