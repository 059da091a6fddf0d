package analytics

import (
	"math"
	"time"

	"github.com/claude/healthlens/internal/models"
)

// Recovery and strain bands shared with the dashboard. Scores at or above
// BandHigh are green/high, at or above BandMid yellow/moderate, else red/low.
const (
	BandHigh = 67
	BandMid  = 34
)

const (
	LabelReady   = "Ready"
	LabelCaution = "Caution"
	LabelRecover = "Recover"

	ColorGreen  = "green"
	ColorYellow = "yellow"
	ColorRed    = "red"

	StrainHigh     = "High"
	StrainModerate = "Moderate"
	StrainLow      = "Low"
)

// StrainInput is one effort metric feeding the strain score.
type StrainInput struct {
	MetricKey string  `json:"metric"`
	Weight    float64 `json:"weight"`
}

// ScoringConfig pins the recovery/strain formula.
type ScoringConfig struct {
	HRVWeight    float64
	RHRWeight    float64
	EffortWeight float64
	SigmoidSlope float64
	ZCap         float64
	// EffortMetric is the prior-day load that lowers next-day recovery.
	EffortMetric string
	// StrainInputs are in tie-break priority order.
	StrainInputs []StrainInput
}

// DefaultScoringConfig returns the locked production weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		HRVWeight:    0.50,
		RHRWeight:    0.30,
		EffortWeight: 0.20,
		SigmoidSlope: 0.7,
		ZCap:         3.0,
		EffortMetric: models.MetricActiveEnergy,
		StrainInputs: DefaultStrainInputs(),
	}
}

// DefaultStrainInputs lists strain metrics in priority order:
// exercise_time, active_energy, steps, flights_climbed.
func DefaultStrainInputs() []StrainInput {
	return []StrainInput{
		{MetricKey: models.MetricExerciseTime, Weight: 0.35},
		{MetricKey: models.MetricActiveEnergy, Weight: 0.30},
		{MetricKey: models.MetricSteps, Weight: 0.20},
		{MetricKey: models.MetricFlightsClimbed, Weight: 0.15},
	}
}

// Contributors are recovery-oriented percent deviations from each metric's own
// baseline median: positive helps recovery, negative hurts it. HRV keeps the
// sign of its raw deviation; RHR and prior effort are negated. They are not
// normalized against each other.
type Contributors struct {
	HRVPct    *float64 `json:"hrv_pct"`
	RHRPct    *float64 `json:"rhr_pct"`
	EffortPct *float64 `json:"effort_pct"`
}

// DailyScore is the composed recovery and strain result for one day.
type DailyScore struct {
	Date                string       `json:"date"`
	RecoveryScore       *int         `json:"recovery_score"`
	RecoveryLabel       *string      `json:"recovery_label"`
	RecoveryColor       *string      `json:"recovery_color"`
	StrainScore         *int         `json:"strain_score"`
	StrainLabel         *string      `json:"strain_label"`
	StrainPrimaryMetric *string      `json:"strain_primary_metric"`
	Contributors        Contributors `json:"contributors"`
}

// Composer builds DailyScores.
type Composer struct {
	Scoring    ScoringConfig
	Classifier Classifier
}

// NewComposer returns a composer with the given formula and band guard.
func NewComposer(scoring ScoringConfig, classifier Classifier) Composer {
	return Composer{Scoring: scoring, Classifier: classifier}
}

// ComposeRecovery scores recovery for date. baselines is keyed by metric; the
// prior effort entry must be the window as of the effort point's own day. The
// score is nil when neither HRV nor RHR can be compared to a baseline.
func (c Composer) ComposeRecovery(date time.Time, hrv, rhr, priorEffort *models.MetricPoint, baselines map[string]BaselineWindow) DailyScore {
	ds := DailyScore{Date: models.FormatDate(date)}

	hrvPct, hrvComp := c.driver(hrv, baselines, 1)
	rhrPct, rhrComp := c.driver(rhr, baselines, -1)
	effPct, effComp := c.driver(priorEffort, baselines, -1)

	ds.Contributors = Contributors{
		HRVPct:    orient(hrvPct, 1),
		RHRPct:    orient(rhrPct, -1),
		EffortPct: orient(effPct, -1),
	}

	if hrvComp == nil && rhrComp == nil {
		return ds
	}

	var sum, weights float64
	for _, part := range []struct {
		comp   *float64
		weight float64
	}{
		{hrvComp, c.Scoring.HRVWeight},
		{rhrComp, c.Scoring.RHRWeight},
		{effComp, c.Scoring.EffortWeight},
	} {
		if part.comp == nil || part.weight <= 0 {
			continue
		}
		sum += part.weight * *part.comp
		weights += part.weight
	}
	if weights == 0 {
		return ds
	}

	score := clampScore(100 * sum / weights)
	label, color := RecoveryBand(score)
	ds.RecoveryScore = &score
	ds.RecoveryLabel = &label
	ds.RecoveryColor = &color
	return ds
}

// ComposeStrain scores the day's effort. points and baselines are keyed by
// metric and must refer to the same day. Returns nil score when no strain
// input has both a reading and a baseline.
func (c Composer) ComposeStrain(points map[string]*models.MetricPoint, baselines map[string]BaselineWindow) (score *int, label *string, primary *string) {
	var sum, weights float64
	bestShare := math.Inf(-1)
	var best string

	for _, in := range c.Scoring.StrainInputs {
		_, comp := c.driver(points[in.MetricKey], baselines, 1)
		if comp == nil || in.Weight <= 0 {
			continue
		}
		sum += in.Weight * *comp
		weights += in.Weight
		// strict > keeps the earlier (higher priority) metric on ties
		if *comp > bestShare {
			bestShare = *comp
			best = in.MetricKey
		}
	}
	if weights == 0 {
		return nil, nil, nil
	}
	s := clampScore(100 * sum / weights)
	l := StrainBand(s)
	return &s, &l, &best
}

// Compose produces the full DailyScore for a day.
func (c Composer) Compose(date time.Time, in DayInputs) DailyScore {
	ds := c.ComposeRecovery(date, in.HRV, in.RHR, in.PriorEffort, in.RecoveryBaselines)
	ds.StrainScore, ds.StrainLabel, ds.StrainPrimaryMetric = c.ComposeStrain(in.Effort, in.EffortBaselines)
	return ds
}

// DayInputs bundles one day's scoring inputs.
type DayInputs struct {
	HRV               *models.MetricPoint
	RHR               *models.MetricPoint
	PriorEffort       *models.MetricPoint
	RecoveryBaselines map[string]BaselineWindow
	Effort            map[string]*models.MetricPoint
	EffortBaselines   map[string]BaselineWindow
}

// driver returns the raw percent deviation and the sigmoid component of p
// against its baseline. direction is +1 when higher is better for the score
// and -1 when higher is worse.
func (c Composer) driver(p *models.MetricPoint, baselines map[string]BaselineWindow, direction float64) (pct, comp *float64) {
	if p == nil || p.Value == nil {
		return nil, nil
	}
	b, ok := baselines[p.MetricKey]
	if !ok || !b.Available() {
		return nil, nil
	}
	pct = PercentDeviation(*p.Value, *b.Median)
	if pct == nil {
		// a zero median gives no usable deviation; treat as unavailable
		return nil, nil
	}

	z := (*p.Value - *b.Median) / c.Classifier.Band(b)
	z = clamp(z, -c.Scoring.ZCap, c.Scoring.ZCap)
	v := sigmoid(c.Scoring.SigmoidSlope * direction * z)
	return pct, &v
}

// PercentDeviation returns (value-median)/median*100, or nil for a zero median.
func PercentDeviation(value, median float64) *float64 {
	if median == 0 {
		return nil
	}
	v := (value - median) / median * 100
	return &v
}

// RecoveryBand maps a recovery score to its label and color.
func RecoveryBand(score int) (label, color string) {
	switch {
	case score >= BandHigh:
		return LabelReady, ColorGreen
	case score >= BandMid:
		return LabelCaution, ColorYellow
	default:
		return LabelRecover, ColorRed
	}
}

// StrainBand maps a strain score to its label.
func StrainBand(score int) string {
	switch {
	case score >= BandHigh:
		return StrainHigh
	case score >= BandMid:
		return StrainModerate
	default:
		return StrainLow
	}
}

func orient(pct *float64, direction float64) *float64 {
	if pct == nil {
		return nil
	}
	v := round1(direction * *pct)
	return &v
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampScore(v float64) int {
	return int(clamp(math.Round(v), 0, 100))
}

func round1(v float64) float64 {
	r := math.Round(v*10) / 10
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}
