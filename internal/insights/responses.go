package insights

import (
	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/models"
)

// MetricsResponse lists the metric catalog.
type MetricsResponse struct {
	Metrics []models.MetricInfo `json:"metrics"`
	Count   int                 `json:"count"`
}

// DailyMetricResponse is one metric's chart series.
type DailyMetricResponse struct {
	MetricKey   string                       `json:"metric_key"`
	DisplayName string                       `json:"display_name"`
	Unit        string                       `json:"unit"`
	StartDate   string                       `json:"start_date"`
	EndDate     string                       `json:"end_date"`
	Data        []analytics.DailyMetricPoint `json:"data"`
	Count       int                          `json:"count"`
}

// OverviewResponse holds the dashboard tiles.
type OverviewResponse struct {
	AsOfDate *string                  `json:"as_of_date"`
	Tiles    []analytics.OverviewTile `json:"tiles"`
}

// AnomaliesResponse lists flagged days, newest first.
type AnomaliesResponse struct {
	StartDate string              `json:"start_date"`
	EndDate   string              `json:"end_date"`
	MinLevel  string              `json:"min_level"`
	Anomalies []analytics.Anomaly `json:"anomalies"`
	Count     int                 `json:"count"`
}

// CorrelationsResponse lists significant lagged correlations.
type CorrelationsResponse struct {
	AsOfDate     *string                 `json:"as_of_date"`
	WindowDays   int                     `json:"window_days"`
	Correlations []analytics.Correlation `json:"correlations"`
	Count        int                     `json:"count"`
}

// ScoresResponse holds daily recovery/strain scores.
type ScoresResponse struct {
	StartDate   string                 `json:"start_date"`
	EndDate     string                 `json:"end_date"`
	Scores      []analytics.DailyScore `json:"scores"`
	DataQuality analytics.DataQuality  `json:"data_quality"`
}

// RecoveryVsStrainResponse is the quadrant plot.
type RecoveryVsStrainResponse struct {
	StartDate string                          `json:"start_date"`
	EndDate   string                          `json:"end_date"`
	Points    []analytics.RecoveryStrainPoint `json:"points"`
	Count     int                             `json:"count"`
}

// EffortCompositionResponse holds effort buckets.
type EffortCompositionResponse struct {
	StartDate   string                   `json:"start_date"`
	EndDate     string                   `json:"end_date"`
	Granularity analytics.Granularity    `json:"granularity"`
	Buckets     []analytics.EffortBucket `json:"buckets"`
}

// ReadinessTimelineResponse holds one entry per day.
type ReadinessTimelineResponse struct {
	StartDate string                  `json:"start_date"`
	EndDate   string                  `json:"end_date"`
	Days      []analytics.TimelineDay `json:"days"`
}
