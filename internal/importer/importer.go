// Package importer loads already-aggregated daily metric tables (CSV or
// Parquet) into storage and records each run in the import log.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claude/healthlens/internal/models"
	"github.com/claude/healthlens/internal/storage"
)

// Writer is the storage surface an import needs.
type Writer interface {
	UpsertDailyMetrics(ctx context.Context, points []models.MetricPoint) (int64, error)
	InsertImportLog(ctx context.Context, log storage.ImportLog) (int64, error)
	UpdateImportLog(ctx context.Context, id int64, log storage.ImportLog) error
}

// Stats tracks import progress.
type Stats struct {
	BatchID        string `json:"batch_id"`
	FilesProcessed int    `json:"files_processed,omitempty"`
	FilesErrored   int    `json:"files_errored,omitempty"`

	RowsReceived int   `json:"rows_received"`
	RowsUpserted int64 `json:"rows_upserted"`
	RowsSkipped  int   `json:"rows_skipped"`

	// RejectedMetrics lists keys that are not in the catalog.
	RejectedMetrics []string `json:"rejected_metrics,omitempty"`
}

// Importer validates daily rows and upserts them. Re-importing the same
// (metric_key, date) replaces the stored row.
type Importer struct {
	store  Writer
	log    *slog.Logger
	dryRun bool
}

// New creates a new Importer.
func New(store Writer, log *slog.Logger, dryRun bool) *Importer {
	return &Importer{store: store, log: log, dryRun: dryRun}
}

// Ingest validates points and upserts the accepted ones as one batch.
// source names the origin in the import log ("api", a file name).
func (imp *Importer) Ingest(ctx context.Context, source string, points []models.MetricPoint) (*Stats, error) {
	stats := &Stats{BatchID: uuid.NewString(), RowsReceived: len(points)}
	accepted, rejected := normalize(points)
	stats.RowsSkipped = len(points) - len(accepted)
	stats.RejectedMetrics = rejected

	if imp.dryRun {
		stats.RowsUpserted = int64(len(accepted))
		return stats, nil
	}

	start := time.Now()
	logID, err := imp.store.InsertImportLog(ctx, storage.ImportLog{
		BatchID:      stats.BatchID,
		Source:       source,
		Status:       storage.ImportRunning,
		RowsReceived: stats.RowsReceived,
	})
	if err != nil {
		// the import itself can still proceed
		imp.log.Warn("failed to create import log", "batch", stats.BatchID, "error", err)
	}

	upserted, upsertErr := imp.store.UpsertDailyMetrics(ctx, accepted)
	stats.RowsUpserted = upserted

	if logID != 0 {
		ms := int(time.Since(start).Milliseconds())
		entry := storage.ImportLog{
			Status:       storage.ImportSuccess,
			RowsReceived: stats.RowsReceived,
			RowsUpserted: upserted,
			RowsSkipped:  stats.RowsSkipped,
			DurationMs:   &ms,
		}
		if upsertErr != nil {
			msg := upsertErr.Error()
			entry.Status = storage.ImportError
			entry.ErrorMessage = &msg
		}
		if err := imp.store.UpdateImportLog(ctx, logID, entry); err != nil {
			imp.log.Warn("failed to update import log", "batch", stats.BatchID, "error", err)
		}
	}

	if upsertErr != nil {
		return stats, fmt.Errorf("upserting daily metrics: %w", upsertErr)
	}
	imp.log.Info("import batch stored",
		"batch", stats.BatchID,
		"source", source,
		"received", stats.RowsReceived,
		"upserted", stats.RowsUpserted,
		"skipped", stats.RowsSkipped,
	)
	return stats, nil
}

// ImportFile reads one .csv or .parquet file (optionally .gz compressed
// for CSV) and ingests its rows.
func (imp *Importer) ImportFile(ctx context.Context, path string) (*Stats, error) {
	points, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	stats, err := imp.Ingest(ctx, filepath.Base(path), points)
	if stats != nil && err == nil {
		stats.FilesProcessed = 1
	}
	return stats, err
}

// ImportPath imports a single file, or every supported file under a
// directory in lexical order. Unreadable files are counted and skipped.
func (imp *Importer) ImportPath(ctx context.Context, path string) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !info.IsDir() {
		return imp.ImportFile(ctx, path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path, err)
	}
	sort.Strings(files)

	total := &Stats{BatchID: uuid.NewString()}
	rejected := map[string]bool{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		s, err := imp.ImportFile(ctx, f)
		if err != nil {
			imp.log.Warn("import failed", "file", f, "error", err)
			total.FilesErrored++
			continue
		}
		total.FilesProcessed++
		total.RowsReceived += s.RowsReceived
		total.RowsUpserted += s.RowsUpserted
		total.RowsSkipped += s.RowsSkipped
		for _, k := range s.RejectedMetrics {
			if !rejected[k] {
				rejected[k] = true
				total.RejectedMetrics = append(total.RejectedMetrics, k)
			}
		}
	}
	sort.Strings(total.RejectedMetrics)
	return total, nil
}

// ReadFile parses a daily metric table, choosing the format by extension.
func ReadFile(path string) ([]models.MetricPoint, error) {
	switch format(path) {
	case ".csv":
		f, err := openInput(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		points, err := ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
		return points, nil
	case ".parquet":
		points, err := ReadParquetFile(path)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
		return points, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Base(path))
	}
}

func format(path string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".gz")))
}

// Supported reports whether path has an importable extension.
func Supported(path string) bool {
	switch format(path) {
	case ".csv":
		return true
	case ".parquet":
		return !strings.HasSuffix(path, ".gz")
	}
	return false
}

// normalize drops rows with unknown metrics, missing dates or non-finite
// values, truncates dates to the day and fills empty units from the catalog.
// When a batch repeats a (metric, date) pair the last row wins.
func normalize(points []models.MetricPoint) ([]models.MetricPoint, []string) {
	type key struct {
		metric string
		date   time.Time
	}
	index := make(map[key]int, len(points))
	out := make([]models.MetricPoint, 0, len(points))
	rejected := map[string]bool{}

	for _, p := range points {
		info, ok := models.LookupMetric(p.MetricKey)
		if !ok {
			rejected[p.MetricKey] = true
			continue
		}
		if p.Date.IsZero() {
			continue
		}
		if p.Value != nil && (math.IsNaN(*p.Value) || math.IsInf(*p.Value, 0)) {
			continue
		}
		p.Date = models.Day(p.Date)
		if p.Unit == "" {
			p.Unit = info.Unit
		}
		k := key{p.MetricKey, p.Date}
		if i, dup := index[k]; dup {
			out[i] = p
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}

	keys := make([]string, 0, len(rejected))
	for k := range rejected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys
}
