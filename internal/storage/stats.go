package storage

import (
	"context"
	"fmt"
	"time"
)

// DataStats holds aggregate statistics about all stored data.
type DataStats struct {
	TotalRows    int64        `json:"total_rows"`
	TotalGaps    int64        `json:"total_gaps"`
	EarliestData *time.Time   `json:"earliest_data"`
	LatestData   *time.Time   `json:"latest_data"`
	Metrics      []MetricStat `json:"metrics"`
}

// MetricStat holds summary stats for a single metric.
type MetricStat struct {
	MetricKey string     `json:"metric_key"`
	Rows      int64      `json:"rows"`
	WithValue int64      `json:"with_value"`
	Earliest  *time.Time `json:"earliest"`
	Latest    *time.Time `json:"latest"`
}

// GetDataStats returns row counts and the covered date range per metric.
func (db *DB) GetDataStats(ctx context.Context) (*DataStats, error) {
	stats := &DataStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE value IS NULL), MIN(date), MAX(date)
		 FROM daily_metrics`,
	).Scan(&stats.TotalRows, &stats.TotalGaps, &stats.EarliestData, &stats.LatestData)
	if err != nil {
		return nil, fmt.Errorf("counting daily metrics: %w", err)
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT metric_key, COUNT(*), COUNT(value), MIN(date), MAX(date)
		 FROM daily_metrics
		 GROUP BY metric_key
		 ORDER BY metric_key`)
	if err != nil {
		return nil, fmt.Errorf("querying metric stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s MetricStat
		if err := rows.Scan(&s.MetricKey, &s.Rows, &s.WithValue, &s.Earliest, &s.Latest); err != nil {
			return nil, fmt.Errorf("scanning metric stat: %w", err)
		}
		stats.Metrics = append(stats.Metrics, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
