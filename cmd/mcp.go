package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rvdb/internal/app"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the streaming TCP search server",
	Long:  "Serves newline-delimited JSON-RPC 2.0 search requests over TCP, streaming one response per result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, deps, err := setup()
		if err != nil {
			return err
		}
		defer deps.DB.Close()

		application, err := app.New(cfg, deps.DB)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return application.RunMCP(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
