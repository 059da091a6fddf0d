package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/claude/healthlens/internal/models"
)

// Granularity is the effort composition bucket size.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParseGranularity validates a granularity name; empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return GranularityDay, nil
	case GranularityDay, GranularityWeek, GranularityMonth:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("granularity must be day, week, or month, got %q", s)
}

// TrendDirection summarizes the recent 7-value movement of a metric.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// AnnotationType tags a readiness timeline note.
type AnnotationType string

const (
	AnnotationHighStrain   AnnotationType = "high_strain"
	AnnotationLowHRV       AnnotationType = "low_hrv"
	AnnotationHighRHR      AnnotationType = "high_rhr"
	AnnotationRecoveryUp   AnnotationType = "recovery_up"
	AnnotationRecoveryDown AnnotationType = "recovery_down"
)

const (
	DefaultTrendEpsilon           = 0.02
	DefaultRecoveryDeltaThreshold = 15
	trendWindow                   = 7
)

// ViewBuilder derives dashboard views from scores and raw series.
type ViewBuilder struct {
	Baselines  BaselineEngine
	Classifier Classifier
	// StrainMetrics are checked for high strain days.
	StrainMetrics []string
	// TrendEpsilon is the relative change below which a trend is flat.
	TrendEpsilon float64
	// RecoveryDelta is the day-over-day change that earns an up/down note.
	RecoveryDelta int
}

// NewViewBuilder wires a builder with default trend and delta thresholds.
func NewViewBuilder(baselines BaselineEngine, classifier Classifier, strain []StrainInput) ViewBuilder {
	keys := make([]string, len(strain))
	for i, in := range strain {
		keys[i] = in.MetricKey
	}
	return ViewBuilder{
		Baselines:     baselines,
		Classifier:    classifier,
		StrainMetrics: keys,
		TrendEpsilon:  DefaultTrendEpsilon,
		RecoveryDelta: DefaultRecoveryDeltaThreshold,
	}
}

// DayContext is everything the timeline needs about one date.
type DayContext struct {
	Date      time.Time
	Score     DailyScore
	Values    map[string]*float64
	Baselines map[string]BaselineWindow
}

// RecoveryStrainPoint is one quadrant-plot point.
type RecoveryStrainPoint struct {
	Date          string `json:"date"`
	RecoveryScore int    `json:"recovery_score"`
	StrainScore   int    `json:"strain_score"`
	RecoveryColor string `json:"recovery_color"`
}

// RecoveryVsStrain keeps only the days where both scores exist.
func (v ViewBuilder) RecoveryVsStrain(scores []DailyScore) []RecoveryStrainPoint {
	points := make([]RecoveryStrainPoint, 0, len(scores))
	for _, s := range scores {
		if s.RecoveryScore == nil || s.StrainScore == nil {
			continue
		}
		color := ""
		if s.RecoveryColor != nil {
			color = *s.RecoveryColor
		}
		points = append(points, RecoveryStrainPoint{
			Date:          s.Date,
			RecoveryScore: *s.RecoveryScore,
			StrainScore:   *s.StrainScore,
			RecoveryColor: color,
		})
	}
	return points
}

// EffortBucket is one period of effort composition.
type EffortBucket struct {
	PeriodStart    string   `json:"period_start"`
	PeriodEnd      string   `json:"period_end"`
	Steps          *float64 `json:"steps"`
	FlightsClimbed *float64 `json:"flights_climbed"`
	ActiveEnergy   *float64 `json:"active_energy"`
	ExerciseTime   *float64 `json:"exercise_time"`
	HeartRateMax   *float64 `json:"heart_rate_max"`
	StepsPct       *float64 `json:"steps_pct"`
	FlightsPct     *float64 `json:"flights_pct"`
	EnergyPct      *float64 `json:"energy_pct"`
	ExercisePct    *float64 `json:"exercise_pct"`
}

// EffortComposition sums steps, flights, active energy and exercise time into
// calendar-aligned buckets over [start, end]. Every period in the range gets a
// bucket; edge buckets are clipped to the range so buckets never overlap.
func (v ViewBuilder) EffortComposition(series map[string][]models.MetricPoint, start, end time.Time, g Granularity) []EffortBucket {
	start, end = models.Day(start), models.Day(end)
	if end.Before(start) {
		return nil
	}

	var buckets []EffortBucket
	for from := start; !from.After(end); {
		to := periodEnd(from, g)
		if to.After(end) {
			to = end
		}
		b := EffortBucket{
			PeriodStart:    models.FormatDate(from),
			PeriodEnd:      models.FormatDate(to),
			Steps:          sumInRange(series[models.MetricSteps], from, to),
			FlightsClimbed: sumInRange(series[models.MetricFlightsClimbed], from, to),
			ActiveEnergy:   sumInRange(series[models.MetricActiveEnergy], from, to),
			ExerciseTime:   sumInRange(series[models.MetricExerciseTime], from, to),
			HeartRateMax:   maxInRange(series[models.MetricHeartRateMax], from, to),
		}
		total := deref(b.Steps) + deref(b.FlightsClimbed) + deref(b.ActiveEnergy) + deref(b.ExerciseTime)
		if total > 0 {
			b.StepsPct = share(b.Steps, total)
			b.FlightsPct = share(b.FlightsClimbed, total)
			b.EnergyPct = share(b.ActiveEnergy, total)
			b.ExercisePct = share(b.ExerciseTime, total)
		}
		buckets = append(buckets, b)
		from = to.AddDate(0, 0, 1)
	}
	return buckets
}

// periodEnd returns the last day of the period containing d: the same day,
// the Sunday closing its ISO week, or the last day of its month.
func periodEnd(d time.Time, g Granularity) time.Time {
	switch g {
	case GranularityWeek:
		// ISO weeks run Monday..Sunday
		offset := (7 - int(d.Weekday())) % 7
		return d.AddDate(0, 0, offset)
	case GranularityMonth:
		return time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	default:
		return d
	}
}

// TimelineDay is one readiness timeline entry.
type TimelineDay struct {
	Date           string          `json:"date"`
	RecoveryScore  *int            `json:"recovery_score"`
	Annotation     *string         `json:"annotation"`
	AnnotationType *AnnotationType `json:"annotation_type"`
}

// AnnotationCap returns how many annotated days a range of n days may show.
func AnnotationCap(days int) int {
	switch {
	case days <= 1:
		return 1
	case days <= 7:
		return 3
	case days <= 31:
		return 6
	default:
		return 10
	}
}

// ReadinessTimeline annotates each day with at most one note and keeps only
// the most recent AnnotationCap(len(days)) annotated days. prevRecovery is the
// recovery score of the day before the first entry, if known.
func (v ViewBuilder) ReadinessTimeline(days []DayContext, prevRecovery *int) []TimelineDay {
	timeline := make([]TimelineDay, len(days))
	annotated := make([]int, 0, len(days))

	prev := prevRecovery
	for i, d := range days {
		timeline[i] = TimelineDay{
			Date:          models.FormatDate(d.Date),
			RecoveryScore: d.Score.RecoveryScore,
		}
		if typ, text, ok := v.annotate(d, prev); ok {
			timeline[i].Annotation = &text
			timeline[i].AnnotationType = &typ
			annotated = append(annotated, i)
		}
		prev = d.Score.RecoveryScore
	}

	limit := AnnotationCap(len(days))
	if len(annotated) > limit {
		for _, i := range annotated[:len(annotated)-limit] {
			timeline[i].Annotation = nil
			timeline[i].AnnotationType = nil
		}
	}
	return timeline
}

// annotate picks the single note for a day. The HRV+RHR combination beats any
// single-factor flag, which beats a recovery swing.
func (v ViewBuilder) annotate(d DayContext, prev *int) (AnnotationType, string, bool) {
	lowHRV := v.strongSide(d, models.MetricHRV, -1)
	highRHR := v.strongSide(d, models.MetricRestingHeartRate, 1)

	switch {
	case lowHRV && highRHR:
		return AnnotationLowHRV, "HRV dipped and resting HR elevated", true
	case v.highStrain(d):
		return AnnotationHighStrain, "High strain day", true
	case lowHRV:
		return AnnotationLowHRV, "HRV dipped below usual", true
	case highRHR:
		return AnnotationHighRHR, "Resting HR elevated", true
	}

	cur := d.Score.RecoveryScore
	if cur == nil || prev == nil {
		return "", "", false
	}
	threshold := v.RecoveryDelta
	if threshold <= 0 {
		threshold = DefaultRecoveryDeltaThreshold
	}
	switch delta := *cur - *prev; {
	case delta >= threshold:
		return AnnotationRecoveryUp, "Recovery improved", true
	case delta <= -threshold:
		return AnnotationRecoveryDown, "Recovery dropped", true
	}
	return "", "", false
}

func (v ViewBuilder) highStrain(d DayContext) bool {
	for _, key := range v.StrainMetrics {
		if v.strongSide(d, key, 1) {
			return true
		}
	}
	return false
}

// strongSide reports a strong anomaly for key on the given side of the
// median (+1 above, -1 below).
func (v ViewBuilder) strongSide(d DayContext, key string, side float64) bool {
	val := d.Values[key]
	b, ok := d.Baselines[key]
	if val == nil || !ok || !b.Available() {
		return false
	}
	if v.Classifier.Classify(val, b) != AnomalyStrong {
		return false
	}
	return side*(*val-*b.Median) > 0
}

// OverviewTile summarizes one metric for the dashboard.
type OverviewTile struct {
	MetricKey       string         `json:"metric_key"`
	DisplayName     string         `json:"display_name"`
	LatestValue     *float64       `json:"latest_value"`
	LatestDate      *string        `json:"latest_date"`
	Unit            string         `json:"unit"`
	BaselineMedian  *float64       `json:"baseline_median"`
	DeltaVsBaseline *float64       `json:"delta_vs_baseline"`
	DeltaPercent    *float64       `json:"delta_percent"`
	Trend7d         TrendDirection `json:"trend_7d"`
	AnomalyLevel    AnomalyLevel   `json:"anomaly_level"`
}

// OverviewTiles builds one tile per catalog metric that has a reading on or
// before asOf. series is keyed by metric.
func (v ViewBuilder) OverviewTiles(asOf time.Time, series map[string][]models.MetricPoint) []OverviewTile {
	asOf = models.Day(asOf)
	var tiles []OverviewTile
	for _, info := range models.Catalog() {
		hist := sortedReadings(info.MetricKey, series[info.MetricKey])
		n := 0
		for n < len(hist) && !hist[n].date.After(asOf) {
			n++
		}
		if n == 0 {
			continue
		}
		hist = hist[:n]
		latest := hist[n-1]
		latestDate := models.FormatDate(latest.date)
		value := latest.value

		tile := OverviewTile{
			MetricKey:    info.MetricKey,
			DisplayName:  info.DisplayName,
			LatestValue:  &value,
			LatestDate:   &latestDate,
			Unit:         info.Unit,
			Trend7d:      v.trend(hist),
			AnomalyLevel: AnomalyNone,
		}
		if info.HasBaseline() {
			b := v.Baselines.Compute(info.MetricKey, latest.date, series[info.MetricKey])
			if b.Available() {
				delta := value - *b.Median
				tile.BaselineMedian = b.Median
				tile.DeltaVsBaseline = &delta
				tile.DeltaPercent = PercentDeviation(value, *b.Median)
				if info.SupportsAnomalies {
					tile.AnomalyLevel = v.Classifier.Classify(&value, b)
				}
			}
		}
		tiles = append(tiles, tile)
	}
	return tiles
}

// trend compares the mean of the last 7 readings with the 7 before them.
func (v ViewBuilder) trend(hist []reading) TrendDirection {
	n := len(hist)
	recentFrom := max(0, n-trendWindow)
	prevFrom := max(0, recentFrom-trendWindow)
	recent, prior := hist[recentFrom:], hist[prevFrom:recentFrom]
	if len(recent) == 0 || len(prior) == 0 {
		return TrendFlat
	}
	r, p := meanReadings(recent), meanReadings(prior)

	eps := v.TrendEpsilon
	if eps <= 0 {
		eps = DefaultTrendEpsilon
	}
	var rel float64
	if p == 0 {
		rel = r // any movement off a zero mean counts in full
	} else {
		rel = (r - p) / math.Abs(p)
	}
	switch {
	case rel >= eps:
		return TrendUp
	case rel <= -eps:
		return TrendDown
	default:
		return TrendFlat
	}
}

// DailyMetricPoint is one chart point with its baseline band.
type DailyMetricPoint struct {
	Date           string       `json:"date"`
	Value          *float64     `json:"value"`
	Unit           string       `json:"unit"`
	BaselineP25    *float64     `json:"baseline_p25"`
	BaselineP75    *float64     `json:"baseline_p75"`
	BaselineMedian *float64     `json:"baseline_median"`
	AnomalyLevel   AnomalyLevel `json:"anomaly_level"`
}

// DailySeries returns the stored points of one metric in [start, end] with the
// baseline band for each day. Missing days stay missing; gaps keep nil values.
func (v ViewBuilder) DailySeries(info models.MetricInfo, history []models.MetricPoint, start, end time.Time) []DailyMetricPoint {
	start, end = models.Day(start), models.Day(end)
	var idx map[time.Time]BaselineWindow
	if info.HasBaseline() {
		idx = BaselineIndex(v.Baselines.Series(info.MetricKey, history, start, end))
	}

	var out []DailyMetricPoint
	for _, p := range SortByDate(history) {
		d := models.Day(p.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		unit := p.Unit
		if unit == "" {
			unit = info.Unit
		}
		pt := DailyMetricPoint{
			Date:         models.FormatDate(d),
			Value:        p.Value,
			Unit:         unit,
			AnomalyLevel: AnomalyNone,
		}
		if b, ok := idx[d]; ok && b.Available() {
			pt.BaselineP25, pt.BaselineMedian, pt.BaselineP75 = b.P25, b.Median, b.P75
			if info.SupportsAnomalies {
				pt.AnomalyLevel = v.Classifier.Classify(p.Value, b)
			}
		}
		out = append(out, pt)
	}
	return out
}

func sumInRange(points []models.MetricPoint, from, to time.Time) *float64 {
	var sum float64
	found := false
	for _, p := range points {
		d := models.Day(p.Date)
		if p.Value == nil || d.Before(from) || d.After(to) {
			continue
		}
		sum += *p.Value
		found = true
	}
	if !found {
		return nil
	}
	return &sum
}

func maxInRange(points []models.MetricPoint, from, to time.Time) *float64 {
	var out *float64
	for _, p := range points {
		d := models.Day(p.Date)
		if p.Value == nil || d.Before(from) || d.After(to) {
			continue
		}
		if out == nil || *p.Value > *out {
			v := *p.Value
			out = &v
		}
	}
	return out
}

func share(part *float64, total float64) *float64 {
	v := round1(100 * deref(part) / total)
	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func meanReadings(rs []reading) float64 {
	var sum float64
	for _, r := range rs {
		sum += r.value
	}
	return sum / float64(len(rs))
}
