// Package cmd is the CLI: serve runs the HTTP API, sync runs a
// Readwise sync, mcp runs the streaming TCP server.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"rvdb/internal/app"
	"rvdb/internal/config"
	"rvdb/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "rvdb",
	Short: "Readwise highlight sync and semantic search",
	Long:  "Syncs Readwise highlights into Postgres with pgvector embeddings and serves semantic search over HTTP and a streaming TCP protocol.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, installs the JSON logger, and bootstraps the
// database. Shared by every subcommand.
func setup() (*config.Config, *app.Dependencies, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	deps, err := app.Bootstrap(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap failed: %w", err)
	}
	return cfg, deps, nil
}
