package analytics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/models"
)

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func point(key, date string, v float64) models.MetricPoint {
	return models.MetricPoint{Date: day(date), MetricKey: key, Value: models.Float(v)}
}

func gap(key, date string) models.MetricPoint {
	return models.MetricPoint{Date: day(date), MetricKey: key}
}

// window builds an available baseline with the given stats.
func window(key string, median, p25, p75 float64) BaselineWindow {
	return BaselineWindow{
		MetricKey:   key,
		Median:      models.Float(median),
		P25:         models.Float(p25),
		P75:         models.Float(p75),
		SampleCount: 30,
		WindowDays:  DefaultBaselineWindowDays,
	}
}

// dailyRun returns n consecutive points ending the day before end with values
// produced by f(i).
func dailyRun(key string, end time.Time, n int, f func(i int) float64) []models.MetricPoint {
	out := make([]models.MetricPoint, 0, n)
	for i := 0; i < n; i++ {
		d := end.AddDate(0, 0, -n+i)
		out = append(out, models.MetricPoint{Date: d, MetricKey: key, Value: models.Float(f(i))})
	}
	return out
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 3.25},
		{0.5, 5.5},
		{0.75, 7.75},
		{1, 10},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(sorted, tt.p), 1e-9, "p=%v", tt.p)
	}
	assert.Equal(t, 42.0, Percentile([]float64{42}, 0.25))
	assert.True(t, math.IsNaN(Percentile(nil, 0.5)))
}

// TestComputeExcludesAsOfDay checks the window is strictly before as_of.
func TestComputeExcludesAsOfDay(t *testing.T) {
	asOf := day("2024-03-11")
	history := dailyRun(models.MetricHRV, asOf, 10, func(i int) float64 { return float64(i + 1) })
	history = append(history, point(models.MetricHRV, "2024-03-11", 1000))

	b := NewBaselineEngine(90, 5).Compute(models.MetricHRV, asOf, history)
	require.True(t, b.Available())
	assert.Equal(t, 10, b.SampleCount)
	assert.InDelta(t, 5.5, *b.Median, 1e-9)
	assert.InDelta(t, 3.25, *b.P25, 1e-9)
	assert.InDelta(t, 7.75, *b.P75, 1e-9)
	assert.Equal(t, asOf, b.AsOf)
}

// TestComputeWindowBoundary keeps as_of-W and drops anything older.
func TestComputeWindowBoundary(t *testing.T) {
	asOf := day("2024-03-11")
	e := NewBaselineEngine(7, 1)
	history := []models.MetricPoint{
		point(models.MetricSteps, "2024-03-03", 999), // 8 days back
		point(models.MetricSteps, "2024-03-04", 10),  // exactly W days back
		point(models.MetricSteps, "2024-03-10", 20),
	}
	b := e.Compute(models.MetricSteps, asOf, history)
	assert.Equal(t, 2, b.SampleCount)
	assert.InDelta(t, 15, *b.Median, 1e-9)
}

// TestComputeBelowMinSamples returns a window with nil stats.
func TestComputeBelowMinSamples(t *testing.T) {
	asOf := day("2024-03-11")
	history := dailyRun(models.MetricHRV, asOf, 4, func(i int) float64 { return 50 })

	b := NewBaselineEngine(90, 5).Compute(models.MetricHRV, asOf, history)
	assert.False(t, b.Available())
	assert.Nil(t, b.Median)
	assert.Nil(t, b.P25)
	assert.Nil(t, b.P75)
	assert.Equal(t, 4, b.SampleCount)
}

// TestComputeSkipsGapsAndOtherMetrics ignores nil values and foreign keys.
func TestComputeSkipsGapsAndOtherMetrics(t *testing.T) {
	asOf := day("2024-03-11")
	history := dailyRun(models.MetricHRV, asOf, 5, func(i int) float64 { return float64(40 + i) })
	history = append(history,
		gap(models.MetricHRV, "2024-03-01"),
		point(models.MetricSteps, "2024-03-02", 9000),
	)
	b := NewBaselineEngine(90, 5).Compute(models.MetricHRV, asOf, history)
	assert.Equal(t, 5, b.SampleCount)
	assert.InDelta(t, 42, *b.Median, 1e-9)
}

// TestComputeQuantileOrder holds p25 <= median <= p75 for irregular data.
func TestComputeQuantileOrder(t *testing.T) {
	asOf := day("2024-06-01")
	vals := []float64{7, 3, 91, 12, 12, 45, 2, 8, 66, 13, 5, 5, 71}
	history := dailyRun(models.MetricRestingHeartRate, asOf, len(vals), func(i int) float64 { return vals[i] })

	b := NewBaselineEngine(0, 0).Compute(models.MetricRestingHeartRate, asOf, history)
	require.True(t, b.Available())
	assert.LessOrEqual(t, *b.P25, *b.Median)
	assert.LessOrEqual(t, *b.Median, *b.P75)
	assert.Equal(t, DefaultBaselineWindowDays, b.WindowDays)
}

// TestSeriesMatchesCompute checks the sliding window agrees with Compute.
func TestSeriesMatchesCompute(t *testing.T) {
	end := day("2024-05-01")
	history := dailyRun(models.MetricSteps, end, 60, func(i int) float64 { return float64((i * 37) % 11) })
	history = append(history, gap(models.MetricSteps, "2024-04-20"))
	e := NewBaselineEngine(14, 5)

	start := day("2024-03-10")
	series := e.Series(models.MetricSteps, history, start, end)
	require.Len(t, series, models.DaysBetween(start, end)+1)
	for _, got := range series {
		want := e.Compute(models.MetricSteps, got.AsOf, history)
		assert.Equal(t, want, got, "as_of %s", models.FormatDate(got.AsOf))
	}
}

func TestSeriesEmptyRange(t *testing.T) {
	e := NewBaselineEngine(0, 0)
	assert.Nil(t, e.Series(models.MetricSteps, nil, day("2024-02-02"), day("2024-02-01")))
}

func TestBaselineWindowJSON(t *testing.T) {
	b := window(models.MetricHRV, 50, 45, 55)
	b.AsOf = day("2024-01-15")
	data, err := b.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"as_of_date":"2024-01-15"`)
	assert.Contains(t, string(data), `"median":50`)

	var back BaselineWindow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b, back)
}
