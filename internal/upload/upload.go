// Package upload pushes local daily metric tables to a remote HealthLens
// server through its ingest API.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/models"
)

// DefaultBatchSize bounds the points sent per ingest request.
const DefaultBatchSize = 2000

// Stats tracks upload progress.
type Stats struct {
	FilesTotal    int
	FilesUploaded int
	FilesSkipped  int
	FilesErrored  int

	PointsSent   int
	RowsUpserted int64

	RejectedMetrics []string
}

// Uploader walks a directory of .csv/.parquet tables and POSTs their rows to
// the server in batches.
type Uploader struct {
	client    *Client
	state     *StateDB
	dir       string
	dryRun    bool
	batchSize int
	log       *slog.Logger
	stats     Stats
	rejected  map[string]bool
}

// New creates a new Uploader. state may be nil to resend every file.
func New(client *Client, state *StateDB, dir string, dryRun bool, batchSize int, log *slog.Logger) *Uploader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Uploader{
		client:    client,
		state:     state,
		dir:       dir,
		dryRun:    dryRun,
		batchSize: batchSize,
		log:       log,
		rejected:  map[string]bool{},
	}
}

// Run executes the upload pipeline.
func (u *Uploader) Run(ctx context.Context) (*Stats, error) {
	// dry runs accept the local catalog so no server is needed
	accepted := make(map[string]bool)
	if u.dryRun {
		for _, k := range models.CatalogKeys() {
			accepted[k] = true
		}
	} else {
		var err error
		accepted, err = u.client.FetchCatalog(ctx)
		if err != nil {
			return &u.stats, err
		}
		u.log.Info("fetched catalog", "metrics", len(accepted))
	}

	files, err := u.listFiles()
	if err != nil {
		return &u.stats, err
	}
	u.stats.FilesTotal = len(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return &u.stats, err
		}
		if err := u.processFile(ctx, path, accepted); err != nil {
			u.log.Warn("push failed", "file", path, "error", err)
			u.stats.FilesErrored++
		}
	}

	sort.Strings(u.stats.RejectedMetrics)
	return &u.stats, nil
}

func (u *Uploader) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(u.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && importer.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", u.dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (u *Uploader) processFile(ctx context.Context, path string, accepted map[string]bool) error {
	rel, err := filepath.Rel(u.dir, path)
	if err != nil {
		rel = path
	}
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	if u.state != nil {
		pushed, err := u.state.IsPushed(ctx, rel, hash)
		if err != nil {
			return fmt.Errorf("checking state: %w", err)
		}
		if pushed {
			u.stats.FilesSkipped++
			return nil
		}
	}

	points, err := importer.ReadFile(path)
	if err != nil {
		return err
	}
	points = u.filter(points, accepted)

	if u.dryRun {
		u.log.Info("dry run", "file", rel, "points", len(points))
		u.stats.PointsSent += len(points)
		u.stats.FilesUploaded++
		return nil
	}

	for start := 0; start < len(points); start += u.batchSize {
		end := min(start+u.batchSize, len(points))
		res, err := u.client.SendBatch(ctx, points[start:end])
		if err != nil {
			return err
		}
		u.stats.PointsSent += end - start
		u.stats.RowsUpserted += res.RowsUpserted
	}

	if u.state != nil {
		if err := u.state.MarkPushed(ctx, rel, hash, len(points)); err != nil {
			return fmt.Errorf("recording state: %w", err)
		}
	}
	u.stats.FilesUploaded++
	u.log.Info("pushed", "file", rel, "points", len(points))
	return nil
}

// filter drops rows for metrics the server does not accept.
func (u *Uploader) filter(points []models.MetricPoint, accepted map[string]bool) []models.MetricPoint {
	out := points[:0]
	for _, p := range points {
		if !accepted[p.MetricKey] {
			if !u.rejected[p.MetricKey] {
				u.rejected[p.MetricKey] = true
				u.stats.RejectedMetrics = append(u.stats.RejectedMetrics, p.MetricKey)
			}
			continue
		}
		out = append(out, p)
	}
	return out
}
