package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// MetricPoint is one day's aggregated reading for a metric. A nil Value is a
// gap (no reading that day) and is never imputed.
type MetricPoint struct {
	Date        time.Time `json:"-"`
	MetricKey   string    `json:"metric_key"`
	Value       *float64  `json:"value"`
	Unit        string    `json:"unit"`
	SampleCount *int      `json:"sample_count,omitempty"`
}

// metricPointJSON is the wire shape of MetricPoint with a YYYY-MM-DD date.
type metricPointJSON struct {
	Date        string   `json:"date"`
	MetricKey   string   `json:"metric_key"`
	Value       *float64 `json:"value"`
	Unit        string   `json:"unit"`
	SampleCount *int     `json:"sample_count,omitempty"`
}

// MarshalJSON renders Date as YYYY-MM-DD.
func (p MetricPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricPointJSON{
		Date:        FormatDate(p.Date),
		MetricKey:   p.MetricKey,
		Value:       p.Value,
		Unit:        p.Unit,
		SampleCount: p.SampleCount,
	})
}

// UnmarshalJSON accepts a YYYY-MM-DD or RFC3339 date.
func (p *MetricPoint) UnmarshalJSON(data []byte) error {
	var raw metricPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}
	*p = MetricPoint{
		Date:        d,
		MetricKey:   raw.MetricKey,
		Value:       raw.Value,
		Unit:        raw.Unit,
		SampleCount: raw.SampleCount,
	}
	return nil
}

// HasValue reports whether the point carries a reading.
func (p MetricPoint) HasValue() bool {
	return p.Value != nil
}

// Day truncates t to UTC midnight of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string (or RFC3339 timestamp) into a UTC day.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// FormatDate renders a day as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
