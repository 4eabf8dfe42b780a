package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/pkg/version"
)

// backendModules are the dependencies worth naming in `version --verbose`:
// they decide which index and model backends a binary can talk to.
var backendModules = []string{
	"github.com/blevesearch/bleve/v2",
	"github.com/coder/hnsw",
	"github.com/opensearch-project/opensearch-go/v4",
	"github.com/sashabaranov/go-openai",
	"modernc.org/sqlite",
}

func newVersionCmd() *cobra.Command {
	var asJSON, short, verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the amanrank version.

--short prints the bare version, --json the full build record, and
--verbose adds the index and model backends compiled into this binary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case short:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case asJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			case verbose:
				writeVersionDetails(output.New(w), version.GetInfo(), linkedBackends())
				return nil
			}
			_, err := io.WriteString(w, version.String()+"\n")
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the build record as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also list the linked index and model backends")
	cmd.MarkFlagsMutuallyExclusive("json", "short", "verbose")

	return cmd
}

func writeVersionDetails(out *output.Writer, info version.BuildInfo, backends map[string]string) {
	out.Header("amanrank " + info.Version)
	commit := info.Commit
	if info.Modified {
		commit += " (modified)"
	}
	out.KeyValue("Commit", commit)
	out.KeyValue("Built", info.Date)
	out.KeyValue("Go", info.GoVersion)
	out.KeyValue("Platform", info.OS+"/"+info.Arch)

	out.Newline()
	out.Header("Backends")
	for _, path := range backendModules {
		v, ok := backends[path]
		if !ok {
			v = "not linked"
		}
		out.KeyValue(shortModule(path), v)
	}
}

// linkedBackends maps backend module paths to the versions in the build
// record. Test binaries carry no dependency versions.
func linkedBackends() map[string]string {
	found := make(map[string]string)
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return found
	}
	for _, dep := range bi.Deps {
		v := dep.Version
		if dep.Replace != nil {
			v = dep.Replace.Version
		}
		found[dep.Path] = v
	}
	return found
}

// shortModule drops the host and a trailing major-version element:
// github.com/blevesearch/bleve/v2 becomes blevesearch/bleve.
func shortModule(path string) string {
	parts := strings.Split(path, "/")
	if n := len(parts); n > 1 && strings.HasPrefix(parts[n-1], "v") && len(parts[n-1]) > 1 && parts[n-1][1] >= '0' && parts[n-1][1] <= '9' {
		parts = parts[:n-1]
	}
	if len(parts) > 1 && strings.Contains(parts[0], ".") {
		parts = parts[1:]
	}
	return strings.Join(parts, "/")
}
