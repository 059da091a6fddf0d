package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claude/healthlens/internal/models"
)

// sqliteTimeLayout is how SQLite stores created_at/updated_at.
const sqliteTimeLayout = "2006-01-02T15:04:05Z"

// SQLite is a single-file Store for local use. Dates are stored as
// YYYY-MM-DD text so lexical order matches calendar order.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() {
	s.db.Close()
}

// UpsertDailyMetrics writes daily metric rows inside one transaction,
// replacing any existing row for the same (metric_key, date), and bumps the
// data version.
func (s *SQLite) UpsertDailyMetrics(ctx context.Context, points []models.MetricPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_metrics (date, metric_key, value, unit, sample_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (metric_key, date) DO UPDATE SET
			value = excluded.value,
			unit = excluded.unit,
			sample_count = excluded.sample_count,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, p := range points {
		res, err := stmt.ExecContext(ctx, models.FormatDate(p.Date), p.MetricKey, p.Value, p.Unit, p.SampleCount)
		if err != nil {
			return 0, fmt.Errorf("upserting %s on %s: %w", p.MetricKey, models.FormatDate(p.Date), err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if _, err := tx.ExecContext(ctx, bumpDataVersion); err != nil {
		return 0, fmt.Errorf("bumping data version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return total, nil
}

// DataVersion returns a counter that increases with every committed upsert.
func (s *SQLite) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM data_version WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("querying data version: %w", err)
	}
	return v, nil
}

// DailyMetrics returns the stored rows for metricKey with start <= date <= end,
// oldest first.
func (s *SQLite) DailyMetrics(ctx context.Context, metricKey string, start, end time.Time) ([]models.MetricPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, metric_key, value, unit, sample_count
		 FROM daily_metrics
		 WHERE metric_key = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC`,
		metricKey, models.FormatDate(start), models.FormatDate(end))
	if err != nil {
		return nil, fmt.Errorf("querying daily metrics: %w", err)
	}
	defer rows.Close()

	var result []models.MetricPoint
	for rows.Next() {
		var (
			p       models.MetricPoint
			date    string
			value   sql.NullFloat64
			samples sql.NullInt64
		)
		if err := rows.Scan(&date, &p.MetricKey, &value, &p.Unit, &samples); err != nil {
			return nil, fmt.Errorf("scanning daily metric row: %w", err)
		}
		if p.Date, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("scanning daily metric row: %w", err)
		}
		if value.Valid {
			p.Value = &value.Float64
		}
		if samples.Valid {
			n := int(samples.Int64)
			p.SampleCount = &n
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// LatestDate returns the most recent stored date, or nil for an empty table.
func (s *SQLite) LatestDate(ctx context.Context) (*time.Time, error) {
	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM daily_metrics`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("querying latest date: %w", err)
	}
	return parseNullDate(latest)
}

// GetDataStats returns row counts and the covered date range per metric.
func (s *SQLite) GetDataStats(ctx context.Context) (*DataStats, error) {
	stats := &DataStats{}
	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) - COUNT(value), MIN(date), MAX(date) FROM daily_metrics`,
	).Scan(&stats.TotalRows, &stats.TotalGaps, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("counting daily metrics: %w", err)
	}
	if stats.EarliestData, err = parseNullDate(earliest); err != nil {
		return nil, err
	}
	if stats.LatestData, err = parseNullDate(latest); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_key, COUNT(*), COUNT(value), MIN(date), MAX(date)
		 FROM daily_metrics
		 GROUP BY metric_key
		 ORDER BY metric_key`)
	if err != nil {
		return nil, fmt.Errorf("querying metric stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m MetricStat
		var lo, hi sql.NullString
		if err := rows.Scan(&m.MetricKey, &m.Rows, &m.WithValue, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scanning metric stat: %w", err)
		}
		if m.Earliest, err = parseNullDate(lo); err != nil {
			return nil, err
		}
		if m.Latest, err = parseNullDate(hi); err != nil {
			return nil, err
		}
		stats.Metrics = append(stats.Metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// InsertImportLog creates a new import log entry and returns its ID.
func (s *SQLite) InsertImportLog(ctx context.Context, log ImportLog) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO import_logs (batch_id, source, status, rows_received, rows_upserted,
		 rows_skipped, duration_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.BatchID, log.Source, log.Status, log.RowsReceived, log.RowsUpserted,
		log.RowsSkipped, log.DurationMs, log.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("inserting import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading import log id: %w", err)
	}
	return id, nil
}

// UpdateImportLog updates an existing import log entry.
func (s *SQLite) UpdateImportLog(ctx context.Context, id int64, log ImportLog) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_logs SET
		 status = ?, rows_received = ?, rows_upserted = ?,
		 rows_skipped = ?, duration_ms = ?, error_message = ?
		 WHERE id = ?`,
		log.Status, log.RowsReceived, log.RowsUpserted,
		log.RowsSkipped, log.DurationMs, log.ErrorMessage, id)
	if err != nil {
		return fmt.Errorf("updating import log %d: %w", id, err)
	}
	return nil
}

// QueryImportLogs returns the most recent import logs.
func (s *SQLite) QueryImportLogs(ctx context.Context, limit int) ([]ImportLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, created_at, source, status, rows_received, rows_upserted,
		 rows_skipped, duration_ms, error_message
		 FROM import_logs
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import logs: %w", err)
	}
	defer rows.Close()

	var result []ImportLog
	for rows.Next() {
		var (
			l        ImportLog
			created  string
			duration sql.NullInt64
			errMsg   sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.BatchID, &created, &l.Source, &l.Status,
			&l.RowsReceived, &l.RowsUpserted, &l.RowsSkipped, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning import log: %w", err)
		}
		if t, err := time.Parse(sqliteTimeLayout, created); err == nil {
			l.CreatedAt = t
		}
		if duration.Valid {
			d := int(duration.Int64)
			l.DurationMs = &d
		}
		if errMsg.Valid {
			l.ErrorMessage = &errMsg.String
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	d, err := models.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date: %w", err)
	}
	return &d, nil
}
