package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/claude/healthlens/internal/models"
)

// chartPointLimit bounds the chart-context time series to the latest points.
const chartPointLimit = 90

// recentAnomalyLimit bounds the anomalies listed in a chart context.
const recentAnomalyLimit = 10

// DataQuality reports how much of a date range actually has data.
type DataQuality struct {
	TotalDays       int      `json:"total_days"`
	DaysWithData    int      `json:"days_with_data"`
	CoveragePercent float64  `json:"coverage_percent"`
	AvgSampleCount  *float64 `json:"avg_sample_count,omitempty"`
}

// NewDataQuality computes coverage for daysWithData out of totalDays.
func NewDataQuality(totalDays, daysWithData int) DataQuality {
	dq := DataQuality{TotalDays: totalDays, DaysWithData: daysWithData}
	if totalDays > 0 {
		dq.CoveragePercent = round1(100 * float64(daysWithData) / float64(totalDays))
	}
	return dq
}

// ScoresQuality counts a day as covered when it has either score.
func ScoresQuality(scores []DailyScore, totalDays int) DataQuality {
	var withRecovery, withStrain int
	for _, s := range scores {
		if s.RecoveryScore != nil {
			withRecovery++
		}
		if s.StrainScore != nil {
			withStrain++
		}
	}
	return NewDataQuality(totalDays, max(withRecovery, withStrain))
}

// TimeSeriesSummary is the chart's recent values with simple stats.
type TimeSeriesSummary struct {
	LastNDays int        `json:"last_n_days"`
	Values    []*float64 `json:"values"`
	Dates     []string   `json:"dates"`
	MinValue  *float64   `json:"min_value"`
	MaxValue  *float64   `json:"max_value"`
	MeanValue *float64   `json:"mean_value"`
}

// BaselineSummary is the baseline band at the chart's focus date.
type BaselineSummary struct {
	CurrentMedian *float64 `json:"current_median"`
	CurrentP25    *float64 `json:"current_p25"`
	CurrentP75    *float64 `json:"current_p75"`
	HasBaseline   bool     `json:"has_baseline"`
}

// AnomalySummary counts anomalies in range and lists the most recent ones.
type AnomalySummary struct {
	TotalCount      int       `json:"total_count"`
	MildCount       int       `json:"mild_count"`
	StrongCount     int       `json:"strong_count"`
	RecentAnomalies []Anomaly `json:"recent_anomalies"`
}

// ChartContext is the structured description of one chart handed to the
// chat layer. It holds numbers only; no text is generated here beyond the
// anomaly reasons and correlation interpretations.
type ChartContext struct {
	MetricKey    string                `json:"metric_key"`
	DisplayName  string                `json:"display_name"`
	Unit         string                `json:"unit"`
	Category     models.MetricCategory `json:"category"`
	StartDate    string                `json:"start_date"`
	EndDate      string                `json:"end_date"`
	FocusDate    *string               `json:"focus_date"`
	TimeSeries   TimeSeriesSummary     `json:"time_series"`
	Baseline     BaselineSummary       `json:"baseline"`
	Anomalies    AnomalySummary        `json:"anomalies"`
	Correlations []Correlation         `json:"correlations"`
	DataQuality  DataQuality           `json:"data_quality"`
}

// ChartContext assembles the context for info over [start, end]. history must
// include the baseline lookback before start. focus, when nil, defaults to the
// last stored day in range (or end). corrs should already be ranked.
func (v ViewBuilder) ChartContext(info models.MetricInfo, history []models.MetricPoint, start, end time.Time, focus *time.Time, corrs []Correlation) ChartContext {
	start, end = models.Day(start), models.Day(end)
	inRange := pointsInRange(history, start, end)

	cc := ChartContext{
		MetricKey:   info.MetricKey,
		DisplayName: info.DisplayName,
		Unit:        info.Unit,
		Category:    info.Category,
		StartDate:   models.FormatDate(start),
		EndDate:     models.FormatDate(end),
		TimeSeries:  summarize(inRange),
		Anomalies:   AnomalySummary{RecentAnomalies: []Anomaly{}},
	}

	baselineDay := end
	if n := len(inRange); n > 0 {
		baselineDay = models.Day(inRange[n-1].Date)
	}
	if focus != nil {
		f := models.FormatDate(*focus)
		cc.FocusDate = &f
		baselineDay = models.Day(*focus)
	}
	if info.HasBaseline() {
		b := v.Baselines.Compute(info.MetricKey, baselineDay, history)
		cc.Baseline = BaselineSummary{
			CurrentMedian: b.Median,
			CurrentP25:    b.P25,
			CurrentP75:    b.P75,
			HasBaseline:   b.Available(),
		}
	}

	if info.SupportsAnomalies {
		idx := BaselineIndex(v.Baselines.Series(info.MetricKey, history, start, end))
		found := v.Classifier.Detect(inRange, idx, AnomalyMild)
		for _, a := range found {
			if a.Level == AnomalyStrong {
				cc.Anomalies.StrongCount++
			} else {
				cc.Anomalies.MildCount++
			}
		}
		cc.Anomalies.TotalCount = len(found)
		for i := len(found) - 1; i >= 0 && len(cc.Anomalies.RecentAnomalies) < recentAnomalyLimit; i-- {
			cc.Anomalies.RecentAnomalies = append(cc.Anomalies.RecentAnomalies, found[i])
		}
	}

	cc.Correlations = Involving(corrs, info.MetricKey)
	if len(cc.Correlations) > 5 {
		cc.Correlations = cc.Correlations[:5]
	}
	if cc.Correlations == nil {
		cc.Correlations = []Correlation{}
	}

	cc.DataQuality = PointsQuality(inRange, models.DaysBetween(start, end)+1)
	return cc
}

// PointsQuality counts days with a value and averages the reported sample
// counts over [start, end] points.
func PointsQuality(points []models.MetricPoint, totalDays int) DataQuality {
	var withData, samples, sampleDays int
	for _, p := range points {
		if p.Value != nil {
			withData++
		}
		if p.SampleCount != nil {
			samples += *p.SampleCount
			sampleDays++
		}
	}
	dq := NewDataQuality(totalDays, withData)
	if sampleDays > 0 {
		avg := round1(float64(samples) / float64(sampleDays))
		dq.AvgSampleCount = &avg
	}
	return dq
}

func summarize(points []models.MetricPoint) TimeSeriesSummary {
	if len(points) > chartPointLimit {
		points = points[len(points)-chartPointLimit:]
	}
	ts := TimeSeriesSummary{
		LastNDays: len(points),
		Values:    make([]*float64, 0, len(points)),
		Dates:     make([]string, 0, len(points)),
	}
	var sum float64
	var n int
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		ts.Values = append(ts.Values, p.Value)
		ts.Dates = append(ts.Dates, models.FormatDate(p.Date))
		if p.Value == nil {
			continue
		}
		sum += *p.Value
		n++
		lo = math.Min(lo, *p.Value)
		hi = math.Max(hi, *p.Value)
	}
	if n > 0 {
		mean := sum / float64(n)
		ts.MinValue, ts.MaxValue, ts.MeanValue = &lo, &hi, &mean
	}
	return ts
}

// pointsInRange returns the points dated within [start, end] in date order.
func pointsInRange(history []models.MetricPoint, start, end time.Time) []models.MetricPoint {
	var out []models.MetricPoint
	for _, p := range SortByDate(history) {
		d := models.Day(p.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SortByDate returns a date-ordered copy of points.
func SortByDate(points []models.MetricPoint) []models.MetricPoint {
	out := make([]models.MetricPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
