package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/claude/healthlens/internal/models"
)

const (
	DefaultMaxLag            = 3
	DefaultMinCorrelationN   = 30
	DefaultMinAbsCorrelation = 0.2
	DefaultCorrelationWindow = 90
)

// MetricPair is an ordered pair of metrics tested for lagged correlation.
type MetricPair struct {
	A string
	B string
}

// DefaultPairs are the pairs worth testing: sleep, load and activity against
// the recovery markers.
func DefaultPairs() []MetricPair {
	return []MetricPair{
		{models.MetricSleepDuration, models.MetricHRV},
		{models.MetricSleepDuration, models.MetricRestingHeartRate},
		{models.MetricPhysicalEffortLoad, models.MetricRestingHeartRate},
		{models.MetricPhysicalEffortLoad, models.MetricHRV},
		{models.MetricSteps, models.MetricSleepDuration},
		{models.MetricSteps, models.MetricActiveEnergy},
		{models.MetricActiveEnergy, models.MetricRestingHeartRate},
		{models.MetricExerciseTime, models.MetricHRV},
		{models.MetricSteps, models.MetricRestingHeartRate},
		{models.MetricActiveEnergy, models.MetricHRV},
	}
}

// Correlation is one significant lagged correlation.
type Correlation struct {
	MetricA        string  `json:"metric_a"`
	MetricB        string  `json:"metric_b"`
	MetricADisplay string  `json:"metric_a_display"`
	MetricBDisplay string  `json:"metric_b_display"`
	LagDays        int     `json:"lag_days"`
	Corr           float64 `json:"corr"`
	N              int     `json:"n"`
	Interpretation string  `json:"interpretation"`
}

// Correlator finds lagged Pearson correlations between metric pairs.
type Correlator struct {
	MaxLag int
	MinN   int
	MinAbs float64
}

// DefaultCorrelator tests lags -3..3 and keeps n >= 30, |r| >= 0.2.
func DefaultCorrelator() Correlator {
	return Correlator{MaxLag: DefaultMaxLag, MinN: DefaultMinCorrelationN, MinAbs: DefaultMinAbsCorrelation}
}

// Find tests every pair at every lag and returns the significant results
// ordered by |r| descending. A positive lag pairs A on day t with B on day
// t+lag, so A leads B. series is keyed by metric.
func (c Correlator) Find(pairs []MetricPair, series map[string][]models.MetricPoint) []Correlation {
	var out []Correlation
	for _, pair := range pairs {
		a := byDay(pair.A, series[pair.A])
		b := byDay(pair.B, series[pair.B])
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		for lag := -c.MaxLag; lag <= c.MaxLag; lag++ {
			r, n, ok := laggedPearson(a, b, lag)
			if !ok || n < c.MinN || math.Abs(r) < c.MinAbs {
				continue
			}
			out = append(out, Correlation{
				MetricA:        pair.A,
				MetricB:        pair.B,
				MetricADisplay: models.DisplayName(pair.A),
				MetricBDisplay: models.DisplayName(pair.B),
				LagDays:        lag,
				Corr:           math.Round(r*1000) / 1000,
				N:              n,
				Interpretation: Interpret(r, pair.A, pair.B, lag),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Corr) > math.Abs(out[j].Corr)
	})
	return out
}

// Involving filters correlations to those touching metricKey.
func Involving(corrs []Correlation, metricKey string) []Correlation {
	var out []Correlation
	for _, c := range corrs {
		if c.MetricA == metricKey || c.MetricB == metricKey {
			out = append(out, c)
		}
	}
	return out
}

// Interpret renders a correlation in words.
func Interpret(r float64, a, b string, lag int) string {
	strength := "weak"
	switch abs := math.Abs(r); {
	case abs >= 0.6:
		strength = "strong"
	case abs >= 0.4:
		strength = "moderate"
	}
	direction := "negative"
	if r > 0 {
		direction = "positive"
	}
	head := strings.ToUpper(strength[:1]) + strength[1:] + " " + direction
	aName, bName := models.DisplayName(a), models.DisplayName(b)

	switch {
	case lag == 0:
		return fmt.Sprintf("%s correlation between %s and %s", head, aName, bName)
	case lag > 0:
		return fmt.Sprintf("%s correlation: %s leads %s by %d day(s)", head, aName, bName, lag)
	default:
		return fmt.Sprintf("%s correlation: %s leads %s by %d day(s)", head, bName, aName, -lag)
	}
}

// Pearson returns the sample correlation of xs and ys, false when either
// side has zero variance or fewer than two pairs.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0, false
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

func laggedPearson(a, b map[time.Time]float64, lag int) (float64, int, bool) {
	days := make([]time.Time, 0, len(a))
	for d := range a {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	xs := make([]float64, 0, len(days))
	ys := make([]float64, 0, len(days))
	for _, d := range days {
		bv, ok := b[d.AddDate(0, 0, lag)]
		if !ok {
			continue
		}
		xs = append(xs, a[d])
		ys = append(ys, bv)
	}
	r, ok := Pearson(xs, ys)
	return r, len(xs), ok
}

func byDay(metricKey string, points []models.MetricPoint) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(points))
	for _, r := range sortedReadings(metricKey, points) {
		out[r.date] = r.value
	}
	return out
}
