package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/logging"
	"github.com/Aman-CERP/amanrank/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ranked passages over MCP",
		Long: `Start an MCP server exposing the rank_passages and index_status tools.

stdout carries JSON-RPC only: logs go to ~/.amanrank/logs/amanrank.log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")

	return cmd
}

func runServe(ctx context.Context, a *app, transport string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.ServeConfig(cfg.Logging.Level)
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if a.debug {
		logCfg.Level = "debug"
	}
	if err := a.setupLogging(logCfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRanker(ctx, cfg)
	if err != nil {
		slog.Error("serve_startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = r.Close() }()

	srv, err := mcp.NewServer(r)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transport)
}
