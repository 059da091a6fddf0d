package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claude/healthlens/internal/upload"
)

var (
	pushAPIKey    string
	pushStateDir  string
	pushBatchSize int
	pushDryRun    bool
	pushForce     bool
)

var pushCmd = &cobra.Command{
	Use:   "push <dir>",
	Short: "Send local daily tables to a remote server's ingest API.",
	Long:  `Walk a directory of .csv/.parquet daily tables and POST their rows to --server. Files already pushed with the same content are skipped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		log := newLogger(os.Stdout)
		if remoteURL == "" && !pushDryRun {
			return fmt.Errorf("--server is required")
		}
		if pushAPIKey == "" {
			pushAPIKey = os.Getenv("HEALTHLENS_AUTH_API_KEY")
		}

		ctx, stop := signalContext()
		defer stop()

		var state *upload.StateDB
		if !pushForce && !pushDryRun {
			var err error
			state, err = upload.OpenStateDB(ctx, pushStateDir)
			if err != nil {
				return err
			}
			defer state.Close()
		}

		client := upload.NewClient(remoteURL, pushAPIKey)
		stats, err := upload.New(client, state, args[0], pushDryRun, pushBatchSize, log).Run(ctx)
		if stats != nil {
			log.Info("push stats",
				"files_total", stats.FilesTotal,
				"files_uploaded", stats.FilesUploaded,
				"files_skipped", stats.FilesSkipped,
				"files_errored", stats.FilesErrored,
				"points_sent", stats.PointsSent,
				"rows_upserted", stats.RowsUpserted,
			)
			if len(stats.RejectedMetrics) > 0 {
				log.Warn("rejected metrics (not in server catalog)", "metrics", stats.RejectedMetrics)
			}
		}
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushAPIKey, "api-key", "", "ingest API key (default $HEALTHLENS_AUTH_API_KEY)")
	pushCmd.Flags().StringVar(&pushStateDir, "state-dir", ".healthlens", "directory for the push state database")
	pushCmd.Flags().IntVar(&pushBatchSize, "batch-size", upload.DefaultBatchSize, "points per ingest request")
	pushCmd.Flags().BoolVar(&pushDryRun, "dry-run", false, "read and count rows without sending")
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "resend files even if already pushed")
	rootCmd.AddCommand(pushCmd)
}
