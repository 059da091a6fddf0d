// Package analytics turns daily health metrics into personal baselines,
// anomaly flags, recovery/strain scores and the derived dashboard views.
// Everything here is a pure function of its inputs: no I/O, no shared state.
package analytics

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/claude/healthlens/internal/models"
)

const (
	DefaultBaselineWindowDays = 90
	DefaultMinSamples         = 5
)

// BaselineWindow holds rolling personal statistics for one metric as of a day.
// The window covers [AsOf-WindowDays, AsOf); AsOf itself is never included.
// Median, P25 and P75 are either all set or all nil.
type BaselineWindow struct {
	MetricKey   string    `json:"metric_key"`
	AsOf        time.Time `json:"-"`
	Median      *float64  `json:"median"`
	P25         *float64  `json:"p25"`
	P75         *float64  `json:"p75"`
	SampleCount int       `json:"sample_count"`
	WindowDays  int       `json:"window_days"`
}

// Available reports whether the window has enough samples to claim a baseline.
func (b BaselineWindow) Available() bool {
	return b.Median != nil && b.P25 != nil && b.P75 != nil
}

// IQR returns p75-p25, or 0 when the baseline is unavailable.
func (b BaselineWindow) IQR() float64 {
	if !b.Available() {
		return 0
	}
	return *b.P75 - *b.P25
}

// MarshalJSON renders AsOf as YYYY-MM-DD under as_of_date.
func (b BaselineWindow) MarshalJSON() ([]byte, error) {
	type alias BaselineWindow
	return json.Marshal(struct {
		alias
		AsOfDate string `json:"as_of_date"`
	}{alias(b), models.FormatDate(b.AsOf)})
}

// UnmarshalJSON reads the shape written by MarshalJSON.
func (b *BaselineWindow) UnmarshalJSON(data []byte) error {
	type alias BaselineWindow
	var raw struct {
		alias
		AsOfDate string `json:"as_of_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BaselineWindow(raw.alias)
	if raw.AsOfDate != "" {
		d, err := models.ParseDate(raw.AsOfDate)
		if err != nil {
			return err
		}
		b.AsOf = d
	}
	return nil
}

// BaselineEngine computes trailing-window baselines.
type BaselineEngine struct {
	WindowDays int
	MinSamples int
}

// NewBaselineEngine returns an engine, substituting defaults for non-positive values.
func NewBaselineEngine(windowDays, minSamples int) BaselineEngine {
	if windowDays <= 0 {
		windowDays = DefaultBaselineWindowDays
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return BaselineEngine{WindowDays: windowDays, MinSamples: minSamples}
}

// Compute returns the baseline for metricKey as of asOf from history. Points on
// or after asOf and older than the window are ignored, as are gaps. It never
// fails: sparse history yields a window with nil statistics.
func (e BaselineEngine) Compute(metricKey string, asOf time.Time, history []models.MetricPoint) BaselineWindow {
	asOf = models.Day(asOf)
	from := asOf.AddDate(0, 0, -e.WindowDays)

	values := make([]float64, 0, len(history))
	for _, p := range history {
		if p.Value == nil || (p.MetricKey != "" && p.MetricKey != metricKey) {
			continue
		}
		d := models.Day(p.Date)
		if d.Before(from) || !d.Before(asOf) {
			continue
		}
		values = append(values, *p.Value)
	}
	return e.fromValues(metricKey, asOf, values)
}

// Series computes one baseline per day in [start, end] using a sliding window
// over history. Results match calling Compute for each day.
func (e BaselineEngine) Series(metricKey string, history []models.MetricPoint, start, end time.Time) []BaselineWindow {
	start, end = models.Day(start), models.Day(end)
	if end.Before(start) {
		return nil
	}

	pts := sortedReadings(metricKey, history)
	var out []BaselineWindow
	lo, hi := 0, 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		from := day.AddDate(0, 0, -e.WindowDays)
		for hi < len(pts) && pts[hi].date.Before(day) {
			hi++
		}
		for lo < hi && pts[lo].date.Before(from) {
			lo++
		}
		values := make([]float64, 0, hi-lo)
		for _, p := range pts[lo:hi] {
			values = append(values, p.value)
		}
		out = append(out, e.fromValues(metricKey, day, values))
	}
	return out
}

func (e BaselineEngine) fromValues(metricKey string, asOf time.Time, values []float64) BaselineWindow {
	w := BaselineWindow{
		MetricKey:   metricKey,
		AsOf:        asOf,
		SampleCount: len(values),
		WindowDays:  e.WindowDays,
	}
	if len(values) < e.MinSamples || len(values) == 0 {
		return w
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	p25 := Percentile(sorted, 0.25)
	med := Percentile(sorted, 0.50)
	p75 := Percentile(sorted, 0.75)
	w.P25, w.Median, w.P75 = &p25, &med, &p75
	return w
}

// Percentile returns the p-th quantile (0..1) of an ascending slice using
// linear interpolation between closest ranks. Returns NaN for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i >= n-1 {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

type reading struct {
	date  time.Time
	value float64
}

// sortedReadings returns the non-nil readings for metricKey ordered by date.
func sortedReadings(metricKey string, history []models.MetricPoint) []reading {
	pts := make([]reading, 0, len(history))
	for _, p := range history {
		if p.Value == nil || (p.MetricKey != "" && p.MetricKey != metricKey) {
			continue
		}
		pts = append(pts, reading{date: models.Day(p.Date), value: *p.Value})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].date.Before(pts[j].date) })
	return pts
}
