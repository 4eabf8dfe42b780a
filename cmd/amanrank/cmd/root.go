// Package cmd provides the CLI commands for amanrank.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/config"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/logging"
	"github.com/Aman-CERP/amanrank/internal/profiling"
	"github.com/Aman-CERP/amanrank/pkg/ranker"
	"github.com/Aman-CERP/amanrank/pkg/version"
)

// newRanker builds the ranker for commands that query the index. Tests
// replace it to inject in-memory dependencies.
var newRanker = ranker.New

// app holds the persistent flags and per-run state shared by subcommands.
type app struct {
	debug     bool
	configDir string
	profile   profiling.Options

	session        *profiling.Session
	loggingCleanup func()
}

// NewRootCmd creates the root command for amanrank CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "amanrank",
		Short: "Hybrid passage retrieval and reranking for Vietnamese RAG",
		Long: `amanrank finds the passages that best support an answer to a question.

It retrieves candidates from an OpenSearch or local index with a hybrid
kNN + match + phrase query, then ranks them by fusing a cross-encoder score
with a keyword heuristic tuned for Vietnamese names, dates and titles.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.start,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.stop()
		},
	}

	cmd.SetVersionTemplate("amanrank version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.amanrank/logs/")
	cmd.PersistentFlags().StringVar(&a.configDir, "config-dir", ".", "Directory searched for .amanrank.yaml")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newRetrieveCmd(a))
	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newBatchCmd(a))
	cmd.AddCommand(newRerankWebCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. Errors carrying a code are printed with
// their hint.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	err := root.Execute()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		_, _ = fmt.Fprint(w, amerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", err)
}

// start sets up logging and profiling. The CLI only logs warnings to
// stderr unless --debug is set.
func (a *app) start(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = "warn"
	if a.debug {
		logCfg = logging.DebugConfig()
	}
	if err := a.setupLogging(logCfg); err != nil {
		return err
	}

	if a.profile.Enabled() {
		s, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.session = s
	}
	return nil
}

// setupLogging installs cfg as the default logger, replacing any earlier
// setup of this run.
func (a *app) setupLogging(cfg logging.Config) error {
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
	}
	a.loggingCleanup = cleanup
	if a.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

func (a *app) stop() error {
	err := a.session.Stop()
	a.session = nil
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
	return err
}

// loadConfig loads the effective configuration for --config-dir.
func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.configDir)
}

// openRanker loads the configuration and builds a ranker from it.
func (a *app) openRanker(ctx context.Context, opts ...ranker.Option) (*config.Config, *ranker.Ranker, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	r, err := newRanker(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, r, nil
}
