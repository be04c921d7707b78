package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rvdb/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP search API",
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

		return application.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
