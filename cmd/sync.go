package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rvdb/features/sync"
	"rvdb/internal/app"
)

var (
	syncBackfill bool
	syncSince    string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync highlights from Readwise",
	Long:  "Runs an incremental sync by default, resuming from the persisted cursor. --backfill fetches the full history; --since overrides the incremental window.",
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

		var summary sync.Summary
		switch {
		case syncBackfill:
			summary, err = application.SyncService.RunBackfill(ctx)
		case syncSince != "":
			since, parseErr := parseSince(syncSince)
			if parseErr != nil {
				return parseErr
			}
			summary, err = application.SyncService.RunIncremental(ctx, &since)
		default:
			summary, err = application.SyncService.RunIncremental(ctx, nil)
		}

		slog.Info("sync finished",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
		)
		return err
	},
}

func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q, want RFC 3339 or YYYY-MM-DD", raw)
}

func init() {
	syncCmd.Flags().BoolVar(&syncBackfill, "backfill", false, "fetch the full highlight history, resuming from any persisted page cursor")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "sync highlights updated after this time (RFC 3339 or YYYY-MM-DD)")
	syncCmd.MarkFlagsMutuallyExclusive("backfill", "since")
	rootCmd.AddCommand(syncCmd)
}
