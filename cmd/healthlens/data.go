package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claude/healthlens/internal/config"
	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/models"
	"github.com/claude/healthlens/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit.",
	RunE: func(_ *cobra.Command, _ []string) error {
		log := newLogger(os.Stdout)
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := storage.RunMigrations(cfg.Database.Driver, cfg.Database.DSN(), migrationsDir); err != nil {
			return err
		}
		log.Info("migrations applied", "driver", cfg.Database.Driver)
		return nil
	},
}

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import daily metric tables (.csv, .csv.gz, .parquet).",
	Long:  `Import a file, or every supported file under a directory. Rows are upserted by (metric_key, date), so re-importing replaces earlier values.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		log := newLogger(os.Stdout)
		ctx, stop := signalContext()
		defer stop()

		_, store, err := openStore(ctx, log)
		if err != nil {
			return err
		}
		defer store.Close()

		if importDryRun {
			log.Info("dry run: nothing will be written")
		}
		stats, err := importer.New(store, log, importDryRun).ImportPath(ctx, args[0])
		if stats != nil {
			log.Info("import stats",
				"files_processed", stats.FilesProcessed,
				"files_errored", stats.FilesErrored,
				"rows_received", stats.RowsReceived,
				"rows_upserted", stats.RowsUpserted,
				"rows_skipped", stats.RowsSkipped,
			)
			if len(stats.RejectedMetrics) > 0 {
				log.Warn("rejected metrics (not in catalog)", "metrics", stats.RejectedMetrics)
			}
		}
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		log.Info("import complete")
		return nil
	},
}

var (
	exportStart string
	exportEnd   string
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export stored daily metrics to .csv or .parquet.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		log := newLogger(os.Stderr)
		ctx, stop := signalContext()
		defer stop()

		_, store, err := openStore(ctx, log)
		if err != nil {
			return err
		}
		defer store.Close()

		latest, err := store.LatestDate(ctx)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("no data stored")
		}
		start, end := models.Day(latest.AddDate(-10, 0, 0)), *latest
		if exportStart != "" {
			if start, err = models.ParseDate(exportStart); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
		}
		if exportEnd != "" {
			if end, err = models.ParseDate(exportEnd); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
		}

		var points []models.MetricPoint
		for _, info := range models.Catalog() {
			pts, err := store.DailyMetrics(ctx, info.MetricKey, start, end)
			if err != nil {
				return fmt.Errorf("reading %s: %w", info.MetricKey, err)
			}
			points = append(points, pts...)
		}

		path := args[0]
		switch strings.ToLower(filepath.Ext(path)) {
		case ".parquet":
			err = importer.WriteParquetFile(path, points)
		case ".csv":
			err = writeCSVFile(path, points)
		default:
			return fmt.Errorf("unsupported export type: %s", filepath.Base(path))
		}
		if err != nil {
			return err
		}
		log.Info("export complete", "file", path, "rows", len(points))
		return nil
	},
}

func writeCSVFile(path string, points []models.MetricPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := importer.WriteCSV(f, points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "report counts without writing to the database")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "first day to export (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "last day to export (YYYY-MM-DD)")
	rootCmd.AddCommand(migrateCmd, importCmd, exportCmd)
}
