package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/claude/healthlens/internal/models"
)

// upsertBatchSize keeps each statement well under Postgres' 65535 parameter limit.
const upsertBatchSize = 1000

// UpsertDailyMetrics writes daily metric rows in one transaction, replacing
// any existing row for the same (metric_key, date), and bumps the data
// version. Returns the number of rows written.
func (db *DB) UpsertDailyMetrics(ctx context.Context, points []models.MetricPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		n, err := upsertBatch(ctx, tx, points[start:end])
		if err != nil {
			return 0, err
		}
		total += n
	}
	if _, err := tx.Exec(ctx, bumpDataVersion); err != nil {
		return 0, fmt.Errorf("bumping data version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return total, nil
}

// bumpDataVersion is shared by both backends.
const bumpDataVersion = `UPDATE data_version SET version = version + 1 WHERE id = 1`

// DataVersion returns a counter that increases with every committed upsert.
func (db *DB) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := db.Pool.QueryRow(ctx, `SELECT version FROM data_version WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("querying data version: %w", err)
	}
	return v, nil
}

func upsertBatch(ctx context.Context, tx pgx.Tx, points []models.MetricPoint) (int64, error) {
	query := `INSERT INTO daily_metrics (date, metric_key, value, unit, sample_count)
VALUES `
	args := make([]any, 0, len(points)*5)
	valueStrings := make([]string, 0, len(points))

	for i, p := range points {
		base := i * 5
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, models.Day(p.Date), p.MetricKey, p.Value, p.Unit, p.SampleCount)
	}

	query += strings.Join(valueStrings, ",") + `
ON CONFLICT (metric_key, date) DO UPDATE SET
	value = EXCLUDED.value,
	unit = EXCLUDED.unit,
	sample_count = EXCLUDED.sample_count,
	updated_at = NOW()`

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upserting daily metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DailyMetrics returns the stored rows for metricKey with start <= date <= end,
// oldest first. Rows with a NULL value are returned as gaps.
func (db *DB) DailyMetrics(ctx context.Context, metricKey string, start, end time.Time) ([]models.MetricPoint, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT date, metric_key, value, unit, sample_count
		 FROM daily_metrics
		 WHERE metric_key = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`,
		metricKey, models.Day(start), models.Day(end))
	if err != nil {
		return nil, fmt.Errorf("querying daily metrics: %w", err)
	}
	defer rows.Close()

	return scanMetricPoints(rows)
}

// LatestDate returns the most recent date with any stored row, or nil when
// the table is empty.
func (db *DB) LatestDate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	if err := db.Pool.QueryRow(ctx, `SELECT MAX(date) FROM daily_metrics`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("querying latest date: %w", err)
	}
	if latest != nil {
		d := models.Day(*latest)
		latest = &d
	}
	return latest, nil
}

func scanMetricPoints(rows pgx.Rows) ([]models.MetricPoint, error) {
	var result []models.MetricPoint
	for rows.Next() {
		var p models.MetricPoint
		if err := rows.Scan(&p.Date, &p.MetricKey, &p.Value, &p.Unit, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("scanning daily metric row: %w", err)
		}
		p.Date = models.Day(p.Date)
		result = append(result, p)
	}
	return result, rows.Err()
}
