package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/internal/search"
)

func newRerankWebCmd(a *app) *cobra.Command {
	var (
		query  string
		topK   int
		format string
	)

	cmd := &cobra.Command{
		Use:   "rerank-web <file>",
		Short: "Rerank web search results by relevance and source quality",
		Long: `Order web search results by 0.4 relevance + 0.3 quality + 0.1 freshness +
0.2 domain authority. The file is a JSON array or JSON lines of
{"title", "url", "description", "content", "published"}; "-" reads stdin.
No index or model is needed.`,
		Example: `  amanrank rerank-web results.json --query "Thaco ô tô" -n 3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown format %q (supported: text, json)", format)
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			results, err := readWebResultsFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			if topK <= 0 {
				topK = cfg.Search.RerankTopK
			}
			ranked := search.NewSourceReranker(search.DefaultSourceWeights()).Rerank(query, results, topK)

			if format == formatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ranked)
			}
			out := output.New(cmd.OutOrStdout())
			for _, r := range ranked {
				scores := fmt.Sprintf("combined=%.3f relevance=%.3f quality=%.3f freshness=%.3f authority=%.3f",
					r.CombinedScore, r.Relevance, r.Quality, r.Freshness, r.Authority)
				out.Passage(r.RankPosition, scores, r.Result.Title+" "+r.Result.URL, wrapWidth)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "The search query the results answer")
	cmd.Flags().IntVarP(&topK, "limit", "n", 0, "Results to keep (default search.rerank_top_k)")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func readWebResultsFile(stdin io.Reader, path string) ([]search.WebResult, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseWebResults(data)
}

// parseWebResults accepts a JSON array or JSON lines.
func parseWebResults(data []byte) ([]search.WebResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var results []search.WebResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return results, nil
	}

	var results []search.WebResult
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r search.WebResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
		}
		results = append(results, r)
	}
	return results, scanner.Err()
}
