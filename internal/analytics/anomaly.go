package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/claude/healthlens/internal/models"
)

// AnomalyLevel buckets how far a value sits outside its baseline band.
type AnomalyLevel string

const (
	AnomalyNone   AnomalyLevel = "none"
	AnomalyMild   AnomalyLevel = "mild"
	AnomalyStrong AnomalyLevel = "strong"
)

// Rank orders levels: none < mild < strong.
func (l AnomalyLevel) Rank() int {
	switch l {
	case AnomalyMild:
		return 1
	case AnomalyStrong:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as floor.
func (l AnomalyLevel) AtLeast(floor AnomalyLevel) bool {
	return l.Rank() >= floor.Rank()
}

// ParseAnomalyLevel parses a level name.
func ParseAnomalyLevel(s string) (AnomalyLevel, bool) {
	switch AnomalyLevel(s) {
	case AnomalyNone, AnomalyMild, AnomalyStrong:
		return AnomalyLevel(s), true
	}
	return "", false
}

const (
	DefaultMildFence        = 1.0
	DefaultStrongFence      = 1.5
	DefaultFlatBandFraction = 0.01

	// minBand keeps the band positive when both the IQR and the median are zero.
	minBand = 1e-9
)

// Classifier applies modified Tukey fences around the [p25, p75] band.
// A value more than StrongFence×IQR outside the band is strong, more than
// MildFence×IQR is mild.
type Classifier struct {
	MildFence        float64
	StrongFence      float64
	FlatBandFraction float64
}

// DefaultClassifier returns the 1.0/1.5 fence convention.
func DefaultClassifier() Classifier {
	return Classifier{
		MildFence:        DefaultMildFence,
		StrongFence:      DefaultStrongFence,
		FlatBandFraction: DefaultFlatBandFraction,
	}
}

// Band returns the baseline spread used for fences and z-scores. Flat data
// (IQR of zero) falls back to a fraction of the median.
func (c Classifier) Band(b BaselineWindow) float64 {
	band := b.IQR()
	if band <= 0 && b.Median != nil {
		band = c.FlatBandFraction * math.Abs(*b.Median)
	}
	if band <= 0 {
		band = minBand
	}
	return band
}

// Classify compares value against baseline. A missing value or baseline is
// never an anomaly.
func (c Classifier) Classify(value *float64, b BaselineWindow) AnomalyLevel {
	if value == nil || !b.Available() {
		return AnomalyNone
	}
	v := *value
	var outside float64
	switch {
	case v < *b.P25:
		outside = *b.P25 - v
	case v > *b.P75:
		outside = v - *b.P75
	default:
		return AnomalyNone
	}

	band := c.Band(b)
	switch {
	case outside > c.StrongFence*band:
		return AnomalyStrong
	case outside > c.MildFence*band:
		return AnomalyMild
	default:
		return AnomalyNone
	}
}

// Describe returns a short human reason for a non-none level.
func Describe(metricKey string, value float64, b BaselineWindow, level AnomalyLevel) string {
	if level == AnomalyNone || b.Median == nil {
		return ""
	}
	med := *b.Median
	var word string
	switch {
	case level == AnomalyStrong && value >= med:
		word = "unusually high"
	case level == AnomalyStrong:
		word = "unusually low"
	case value >= med:
		word = "elevated"
	default:
		word = "reduced"
	}
	return fmt.Sprintf("%s %s (%.1f vs baseline %.1f)", metricKey, word, value, med)
}

// Anomaly is one flagged (metric, day).
type Anomaly struct {
	Date           string       `json:"date"`
	MetricKey      string       `json:"metric_key"`
	DisplayName    string       `json:"display_name"`
	Value          float64      `json:"value"`
	BaselineMedian *float64     `json:"baseline_median"`
	Level          AnomalyLevel `json:"anomaly_level"`
	Reason         string       `json:"reason"`
}

// Detect classifies each point against the baseline for the same day and
// returns the points at or above minLevel in input order. baselines is keyed
// by day and must come from the same metric.
func (c Classifier) Detect(points []models.MetricPoint, baselines map[time.Time]BaselineWindow, minLevel AnomalyLevel) []Anomaly {
	if minLevel == AnomalyNone {
		minLevel = AnomalyMild
	}
	var out []Anomaly
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		day := models.Day(p.Date)
		b, ok := baselines[day]
		if !ok {
			continue
		}
		level := c.Classify(p.Value, b)
		if !level.AtLeast(minLevel) {
			continue
		}
		out = append(out, Anomaly{
			Date:           models.FormatDate(day),
			MetricKey:      p.MetricKey,
			DisplayName:    models.DisplayName(p.MetricKey),
			Value:          *p.Value,
			BaselineMedian: b.Median,
			Level:          level,
			Reason:         Describe(p.MetricKey, *p.Value, b, level),
		})
	}
	return out
}

// BaselineIndex keys a baseline series by day.
func BaselineIndex(series []BaselineWindow) map[time.Time]BaselineWindow {
	idx := make(map[time.Time]BaselineWindow, len(series))
	for _, b := range series {
		idx[models.Day(b.AsOf)] = b
	}
	return idx
}
