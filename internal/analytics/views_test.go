package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/models"
)

func defaultViews() ViewBuilder {
	return NewViewBuilder(NewBaselineEngine(0, 0), DefaultClassifier(), DefaultStrainInputs())
}

func intp(v int) *int { return &v }

func TestRecoveryVsStrain(t *testing.T) {
	green := ColorGreen
	scores := []DailyScore{
		{Date: "2024-01-01", RecoveryScore: intp(70), RecoveryColor: &green, StrainScore: intp(40)},
		{Date: "2024-01-02", RecoveryScore: intp(70)},
		{Date: "2024-01-03", StrainScore: intp(20)},
	}
	pts := defaultViews().RecoveryVsStrain(scores)
	require.Len(t, pts, 1)
	assert.Equal(t, RecoveryStrainPoint{Date: "2024-01-01", RecoveryScore: 70, StrainScore: 40, RecoveryColor: "green"}, pts[0])
}

// TestEffortCompositionWeeklyCoversRange checks weekly buckets over 30 days
// are contiguous, non-overlapping and ISO aligned.
func TestEffortCompositionWeeklyCoversRange(t *testing.T) {
	start, end := day("2024-01-03"), day("2024-02-01") // Wednesday .. Thursday
	buckets := defaultViews().EffortComposition(nil, start, end, GranularityWeek)
	require.NotEmpty(t, buckets)

	assert.Equal(t, "2024-01-03", buckets[0].PeriodStart)
	assert.Equal(t, "2024-01-07", buckets[0].PeriodEnd)
	assert.Equal(t, "2024-02-01", buckets[len(buckets)-1].PeriodEnd)

	for i, b := range buckets {
		from, to := day(b.PeriodStart), day(b.PeriodEnd)
		assert.False(t, to.Before(from), "bucket %d inverted", i)
		if i > 0 {
			prevEnd := day(buckets[i-1].PeriodEnd)
			assert.Equal(t, prevEnd.AddDate(0, 0, 1), from, "bucket %d not contiguous", i)
			assert.Equal(t, time.Monday, from.Weekday())
		}
		if i < len(buckets)-1 {
			assert.Equal(t, time.Sunday, to.Weekday())
		}
	}
}

func TestEffortCompositionMonthly(t *testing.T) {
	buckets := defaultViews().EffortComposition(nil, day("2024-01-15"), day("2024-03-10"), GranularityMonth)
	require.Len(t, buckets, 3)
	assert.Equal(t, []string{"2024-01-15", "2024-02-01", "2024-03-01"},
		[]string{buckets[0].PeriodStart, buckets[1].PeriodStart, buckets[2].PeriodStart})
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-10"},
		[]string{buckets[0].PeriodEnd, buckets[1].PeriodEnd, buckets[2].PeriodEnd})
}

// TestEffortCompositionSums aggregates additive metrics, maxes heart rate and
// leaves percentages unset for empty buckets.
func TestEffortCompositionSums(t *testing.T) {
	series := map[string][]models.MetricPoint{
		models.MetricSteps: {
			point(models.MetricSteps, "2024-01-01", 600),
			point(models.MetricSteps, "2024-01-02", 200),
			gap(models.MetricSteps, "2024-01-03"),
		},
		models.MetricActiveEnergy: {
			point(models.MetricActiveEnergy, "2024-01-02", 200),
		},
		models.MetricHeartRateMax: {
			point(models.MetricHeartRateMax, "2024-01-01", 150),
			point(models.MetricHeartRateMax, "2024-01-02", 171),
		},
	}
	buckets := defaultViews().EffortComposition(series, day("2024-01-01"), day("2024-01-10"), GranularityWeek)
	require.Len(t, buckets, 2)

	first := buckets[0]
	assert.Equal(t, 800.0, *first.Steps)
	assert.Equal(t, 200.0, *first.ActiveEnergy)
	assert.Nil(t, first.FlightsClimbed)
	assert.Equal(t, 171.0, *first.HeartRateMax)
	assert.Equal(t, 80.0, *first.StepsPct)
	assert.Equal(t, 20.0, *first.EnergyPct)
	assert.Equal(t, 0.0, *first.FlightsPct)

	second := buckets[1]
	assert.Nil(t, second.Steps)
	assert.Nil(t, second.StepsPct)
	assert.Nil(t, second.HeartRateMax)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityDay, g)
	_, err = ParseGranularity("year")
	assert.Error(t, err)
}

func TestAnnotationCap(t *testing.T) {
	tests := []struct{ days, want int }{
		{1, 1}, {2, 3}, {7, 3}, {8, 6}, {31, 6}, {32, 10}, {365, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnnotationCap(tt.days), "days %d", tt.days)
	}
}

// lowHRVDay is a day with HRV far below its band.
func lowHRVDay(date string) DayContext {
	return DayContext{
		Date:      day(date),
		Score:     DailyScore{Date: date, RecoveryScore: intp(40)},
		Values:    map[string]*float64{models.MetricHRV: models.Float(20)},
		Baselines: map[string]BaselineWindow{models.MetricHRV: window(models.MetricHRV, 50, 45, 55)},
	}
}

// TestReadinessTimelineCap keeps only the three most recent notes in a week.
func TestReadinessTimelineCap(t *testing.T) {
	var days []DayContext
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-06", "2024-01-07"} {
		days = append(days, lowHRVDay(d))
	}
	timeline := defaultViews().ReadinessTimeline(days, nil)
	require.Len(t, timeline, 7)

	var annotated []string
	for _, e := range timeline {
		if e.Annotation != nil {
			annotated = append(annotated, e.Date)
			assert.Equal(t, AnnotationLowHRV, *e.AnnotationType)
		}
	}
	assert.Equal(t, []string{"2024-01-05", "2024-01-06", "2024-01-07"}, annotated)
}

// TestReadinessTimelinePriority checks the combined HRV/RHR note beats strain
// and a lone strain note beats a recovery swing.
func TestReadinessTimelinePriority(t *testing.T) {
	combo := lowHRVDay("2024-01-01")
	combo.Values[models.MetricRestingHeartRate] = models.Float(80)
	combo.Baselines[models.MetricRestingHeartRate] = window(models.MetricRestingHeartRate, 55, 50, 60)
	combo.Values[models.MetricSteps] = models.Float(30000)
	combo.Baselines[models.MetricSteps] = window(models.MetricSteps, 8000, 6000, 10000)

	strain := DayContext{
		Date:      day("2024-01-02"),
		Score:     DailyScore{Date: "2024-01-02", RecoveryScore: intp(90)},
		Values:    map[string]*float64{models.MetricExerciseTime: models.Float(200)},
		Baselines: map[string]BaselineWindow{models.MetricExerciseTime: window(models.MetricExerciseTime, 30, 20, 40)},
	}

	timeline := defaultViews().ReadinessTimeline([]DayContext{combo, strain}, nil)
	require.Len(t, timeline, 2)
	require.NotNil(t, timeline[0].Annotation)
	assert.Equal(t, AnnotationLowHRV, *timeline[0].AnnotationType)
	assert.Equal(t, "HRV dipped and resting HR elevated", *timeline[0].Annotation)
	require.NotNil(t, timeline[1].Annotation)
	assert.Equal(t, AnnotationHighStrain, *timeline[1].AnnotationType)
}

// TestReadinessTimelineRecoveryDelta uses the day before the range for the
// first comparison; a change of exactly 15 counts.
func TestReadinessTimelineRecoveryDelta(t *testing.T) {
	plain := func(date string, score int) DayContext {
		return DayContext{Date: day(date), Score: DailyScore{Date: date, RecoveryScore: intp(score)}}
	}
	days := []DayContext{
		plain("2024-01-01", 70), // +20 vs prior 50
		plain("2024-01-02", 60), // -10
		plain("2024-01-03", 45), // -15
		{Date: day("2024-01-04"), Score: DailyScore{Date: "2024-01-04"}},
	}
	timeline := defaultViews().ReadinessTimeline(days, intp(50))
	require.Len(t, timeline, 4)

	require.NotNil(t, timeline[0].AnnotationType)
	assert.Equal(t, AnnotationRecoveryUp, *timeline[0].AnnotationType)
	assert.Nil(t, timeline[1].AnnotationType)
	require.NotNil(t, timeline[2].AnnotationType)
	assert.Equal(t, AnnotationRecoveryDown, *timeline[2].AnnotationType)
	assert.Nil(t, timeline[3].AnnotationType)
	assert.Nil(t, timeline[3].RecoveryScore)
}

// TestReadinessTimelineHighRHRAbove ignores strong RHR anomalies below the median.
func TestReadinessTimelineHighRHRAbove(t *testing.T) {
	low := DayContext{
		Date:      day("2024-01-01"),
		Values:    map[string]*float64{models.MetricRestingHeartRate: models.Float(30)},
		Baselines: map[string]BaselineWindow{models.MetricRestingHeartRate: window(models.MetricRestingHeartRate, 55, 50, 60)},
	}
	timeline := defaultViews().ReadinessTimeline([]DayContext{low}, nil)
	assert.Nil(t, timeline[0].Annotation)
}

func TestReadinessTimelineDeterministic(t *testing.T) {
	days := []DayContext{lowHRVDay("2024-01-01"), lowHRVDay("2024-01-02")}
	v := defaultViews()
	assert.Equal(t, v.ReadinessTimeline(days, intp(10)), v.ReadinessTimeline(days, intp(10)))
}

// TestOverviewTiles covers latest value, baseline delta and trend.
func TestOverviewTiles(t *testing.T) {
	asOf := day("2024-02-15")
	var steps []models.MetricPoint
	for i := 0; i < 14; i++ {
		v := 10000.0
		if i >= 7 {
			v = 12000
		}
		steps = append(steps, models.MetricPoint{
			Date:      asOf.AddDate(0, 0, -13+i),
			MetricKey: models.MetricSteps,
			Value:     models.Float(v),
		})
	}
	steps = append(steps, point(models.MetricSteps, "2024-02-20", 1)) // after asOf
	series := map[string][]models.MetricPoint{
		models.MetricSteps:  steps,
		models.MetricVO2Max: {point(models.MetricVO2Max, "2024-02-01", 44)},
	}

	tiles := defaultViews().OverviewTiles(asOf, series)
	require.Len(t, tiles, 2)

	st := tiles[0]
	assert.Equal(t, models.MetricSteps, st.MetricKey)
	assert.Equal(t, 12000.0, *st.LatestValue)
	assert.Equal(t, "2024-02-15", *st.LatestDate)
	assert.Equal(t, TrendUp, st.Trend7d)
	require.NotNil(t, st.BaselineMedian)
	// 7 days at 10000 and 6 at 12000 precede asOf
	assert.Equal(t, 10000.0, *st.BaselineMedian)
	assert.Equal(t, 2000.0, *st.DeltaVsBaseline)
	assert.Equal(t, 20.0, *st.DeltaPercent)
	assert.Equal(t, AnomalyNone, st.AnomalyLevel)

	vo2 := tiles[1]
	assert.Equal(t, models.MetricVO2Max, vo2.MetricKey)
	assert.Nil(t, vo2.BaselineMedian)
	assert.Nil(t, vo2.DeltaPercent)
	assert.Equal(t, TrendFlat, vo2.Trend7d)
	assert.Equal(t, AnomalyNone, vo2.AnomalyLevel)
}

func TestTrendFlatWithinEpsilon(t *testing.T) {
	var hist []reading
	for i := 0; i < 14; i++ {
		v := 100.0
		if i >= 7 {
			v = 101.5
		}
		hist = append(hist, reading{date: day("2024-01-01").AddDate(0, 0, i), value: v})
	}
	v := defaultViews()
	assert.Equal(t, TrendFlat, v.trend(hist))
	assert.Equal(t, TrendFlat, v.trend(hist[7:]))

	hist[13].value = 50
	assert.Equal(t, TrendDown, v.trend(hist))
}

// TestDailySeriesKeepsGaps returns stored rows only, gaps included.
func TestDailySeriesKeepsGaps(t *testing.T) {
	info, _ := models.LookupMetric(models.MetricHRV)
	end := day("2024-03-01")
	history := dailyRun(models.MetricHRV, end, 20, func(i int) float64 { return 50 + float64(i%3) })
	history = append(history, gap(models.MetricHRV, "2024-03-01"))

	pts := defaultViews().DailySeries(info, history, day("2024-02-27"), end)
	require.Len(t, pts, 4)
	assert.Equal(t, "2024-02-27", pts[0].Date)
	assert.NotNil(t, pts[0].BaselineMedian)
	assert.Equal(t, "ms", pts[0].Unit)
	assert.Equal(t, "2024-03-01", pts[3].Date)
	assert.Nil(t, pts[3].Value)
	assert.Equal(t, AnomalyNone, pts[3].AnomalyLevel)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRecoveryStrainPointJSON(t *testing.T) {
	p := RecoveryStrainPoint{Date: "2024-01-01", RecoveryScore: 70, StrainScore: 40, RecoveryColor: "green"}
	assert.JSONEq(t, `{"date":"2024-01-01","recovery_score":70,"strain_score":40,"recovery_color":"green"}`, mustJSON(t, p))

	assert.Equal(t, "[]", mustJSON(t, defaultViews().RecoveryVsStrain(nil)))
}

// TestEffortBucketJSONKeepsNulls renders unset sums and shares as null, not
// as missing keys or zeros.
func TestEffortBucketJSONKeepsNulls(t *testing.T) {
	buckets := defaultViews().EffortComposition(nil, day("2024-01-01"), day("2024-01-07"), GranularityWeek)
	require.Len(t, buckets, 1)
	out := mustJSON(t, buckets[0])
	for _, field := range []string{"steps", "flights_climbed", "active_energy", "exercise_time", "heart_rate_max", "steps_pct", "energy_pct"} {
		assert.Contains(t, out, `"`+field+`":null`)
	}
}

// TestViewsJSONStable renders each view twice from the same inputs and
// expects identical bytes.
func TestViewsJSONStable(t *testing.T) {
	asOf := day("2024-01-10")
	series := map[string][]models.MetricPoint{}
	for i := 0; i < 30; i++ {
		d := models.FormatDate(asOf.AddDate(0, 0, -i))
		series[models.MetricSteps] = append(series[models.MetricSteps], point(models.MetricSteps, d, float64(8000+100*(i%7))))
		series[models.MetricActiveEnergy] = append(series[models.MetricActiveEnergy], point(models.MetricActiveEnergy, d, float64(400+10*(i%5))))
		series[models.MetricFlightsClimbed] = append(series[models.MetricFlightsClimbed], point(models.MetricFlightsClimbed, d, float64(i%4)))
		series[models.MetricHRV] = append(series[models.MetricHRV], point(models.MetricHRV, d, float64(45+i%6)))
	}
	series[models.MetricRestingHeartRate] = []models.MetricPoint{gap(models.MetricRestingHeartRate, "2024-01-09")}
	v := defaultViews()

	for _, g := range []Granularity{GranularityWeek, GranularityMonth} {
		first := mustJSON(t, v.EffortComposition(series, asOf.AddDate(0, 0, -29), asOf, g))
		second := mustJSON(t, v.EffortComposition(series, asOf.AddDate(0, 0, -29), asOf, g))
		assert.Equal(t, first, second, "effort composition by %s", g)
	}

	tiles := mustJSON(t, v.OverviewTiles(asOf, series))
	assert.Equal(t, tiles, mustJSON(t, v.OverviewTiles(asOf, series)))
	assert.Contains(t, tiles, `"metric_key":"steps"`)

	days := []DayContext{lowHRVDay("2024-01-01"), lowHRVDay("2024-01-02"), lowHRVDay("2024-01-03")}
	assert.Equal(t, mustJSON(t, v.ReadinessTimeline(days, intp(60))), mustJSON(t, v.ReadinessTimeline(days, intp(60))))
}
