// Package report renders analytics responses for the terminal as tables,
// JSON or CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/insights"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Options controls rendering.
type Options struct {
	Format    string
	UseColors bool
}

// palette maps dashboard colors to terminal colors, or to plain text when
// colors are off.
type palette struct {
	green, yellow, red, dim func(...any) string
}

func newPalette(useColors bool) palette {
	if !useColors {
		return palette{fmt.Sprint, fmt.Sprint, fmt.Sprint, fmt.Sprint}
	}
	return palette{
		green:  color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		red:    color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:    color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (p palette) band(c string, v any) string {
	switch c {
	case analytics.ColorGreen:
		return p.green(v)
	case analytics.ColorYellow:
		return p.yellow(v)
	case analytics.ColorRed:
		return p.red(v)
	}
	return fmt.Sprint(v)
}

func (p palette) level(l analytics.AnomalyLevel, v any) string {
	switch l {
	case analytics.AnomalyStrong:
		return p.red(v)
	case analytics.AnomalyMild:
		return p.yellow(v)
	}
	return fmt.Sprint(v)
}

// WriteScores renders daily recovery and strain scores.
func WriteScores(w io.Writer, resp *insights.ScoresResponse, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return writeJSON(w, resp)
	case FormatCSV:
		rows := make([][]string, 0, len(resp.Scores))
		for _, s := range resp.Scores {
			rows = append(rows, []string{
				s.Date, intOrEmpty(s.RecoveryScore), strOrEmpty(s.RecoveryLabel),
				pctOrEmpty(s.Contributors.HRVPct), pctOrEmpty(s.Contributors.RHRPct), pctOrEmpty(s.Contributors.EffortPct),
				intOrEmpty(s.StrainScore), strOrEmpty(s.StrainLabel), strOrEmpty(s.StrainPrimaryMetric),
			})
		}
		return writeCSV(w, []string{"date", "recovery", "label", "hrv_pct", "rhr_pct", "effort_pct", "strain", "strain_label", "primary"}, rows)
	}

	p := newPalette(opts.UseColors)
	rows := make([][]string, 0, len(resp.Scores))
	for _, s := range resp.Scores {
		recovery, label := p.dim("-"), ""
		if s.RecoveryScore != nil {
			c := strOrEmpty(s.RecoveryColor)
			recovery = p.band(c, *s.RecoveryScore)
			label = p.band(c, strOrEmpty(s.RecoveryLabel))
		}
		rows = append(rows, []string{
			s.Date,
			recovery,
			label,
			signedPct(s.Contributors.HRVPct),
			signedPct(s.Contributors.RHRPct),
			signedPct(s.Contributors.EffortPct),
			orDash(intOrEmpty(s.StrainScore)),
			strOrEmpty(s.StrainLabel),
			strOrEmpty(s.StrainPrimaryMetric),
		})
	}
	headers := []string{"Date", "Recovery", "Band", "HRV", "RHR", "Effort", "Strain", "Load", "Driver"}
	if err := writeTable(w, headers, rows); err != nil {
		return err
	}
	q := resp.DataQuality
	_, err := fmt.Fprintf(w, "%s to %s: %d of %d days scored (%.1f%%)\n",
		resp.StartDate, resp.EndDate, q.DaysWithData, q.TotalDays, q.CoveragePercent)
	return err
}

// WriteTimeline renders the readiness timeline, one line per day.
func WriteTimeline(w io.Writer, resp *insights.ReadinessTimelineResponse, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return writeJSON(w, resp)
	case FormatCSV:
		rows := make([][]string, 0, len(resp.Days))
		for _, d := range resp.Days {
			typ := ""
			if d.AnnotationType != nil {
				typ = string(*d.AnnotationType)
			}
			rows = append(rows, []string{d.Date, intOrEmpty(d.RecoveryScore), typ, strOrEmpty(d.Annotation)})
		}
		return writeCSV(w, []string{"date", "recovery", "annotation_type", "annotation"}, rows)
	}

	p := newPalette(opts.UseColors)
	rows := make([][]string, 0, len(resp.Days))
	for _, d := range resp.Days {
		note := ""
		if d.Annotation != nil {
			note = *d.Annotation
			if d.AnnotationType != nil && *d.AnnotationType == analytics.AnnotationRecoveryUp {
				note = p.green(note)
			} else {
				note = p.yellow(note)
			}
		}
		rows = append(rows, []string{d.Date, orDash(intOrEmpty(d.RecoveryScore)), note})
	}
	return writeTable(w, []string{"Date", "Recovery", "Note"}, rows)
}

// WriteAnomalies renders flagged days.
func WriteAnomalies(w io.Writer, resp *insights.AnomaliesResponse, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return writeJSON(w, resp)
	case FormatCSV:
		rows := make([][]string, 0, len(resp.Anomalies))
		for _, a := range resp.Anomalies {
			rows = append(rows, []string{a.Date, a.MetricKey, formatFloat(a.Value), floatOrEmpty(a.BaselineMedian), string(a.Level), a.Reason})
		}
		return writeCSV(w, []string{"date", "metric_key", "value", "baseline_median", "level", "reason"}, rows)
	}

	p := newPalette(opts.UseColors)
	rows := make([][]string, 0, len(resp.Anomalies))
	for _, a := range resp.Anomalies {
		rows = append(rows, []string{
			a.Date, a.DisplayName, formatFloat(a.Value), orDash(floatOrEmpty(a.BaselineMedian)),
			p.level(a.Level, string(a.Level)), a.Reason,
		})
	}
	if err := writeTable(w, []string{"Date", "Metric", "Value", "Median", "Level", "Reason"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d anomalies at or above %s\n", resp.Count, resp.MinLevel)
	return err
}

// WriteOverview renders dashboard tiles.
func WriteOverview(w io.Writer, resp *insights.OverviewResponse, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return writeJSON(w, resp)
	case FormatCSV:
		rows := make([][]string, 0, len(resp.Tiles))
		for _, t := range resp.Tiles {
			rows = append(rows, []string{
				t.MetricKey, floatOrEmpty(t.LatestValue), strOrEmpty(t.LatestDate), t.Unit,
				floatOrEmpty(t.BaselineMedian), floatOrEmpty(t.DeltaPercent), string(t.Trend7d), string(t.AnomalyLevel),
			})
		}
		return writeCSV(w, []string{"metric_key", "latest_value", "latest_date", "unit", "baseline_median", "delta_percent", "trend_7d", "anomaly_level"}, rows)
	}

	p := newPalette(opts.UseColors)
	rows := make([][]string, 0, len(resp.Tiles))
	for _, t := range resp.Tiles {
		rows = append(rows, []string{
			t.DisplayName,
			orDash(floatOrEmpty(t.LatestValue)) + " " + t.Unit,
			strOrEmpty(t.LatestDate),
			orDash(floatOrEmpty(t.BaselineMedian)),
			signedPct(t.DeltaPercent),
			trendArrow(t.Trend7d),
			p.level(t.AnomalyLevel, string(t.AnomalyLevel)),
		})
	}
	if err := writeTable(w, []string{"Metric", "Latest", "Date", "Median", "Δ", "7d", "Anomaly"}, rows); err != nil {
		return err
	}
	if resp.AsOfDate == nil {
		_, err := fmt.Fprintln(w, "No data stored yet")
		return err
	}
	_, err := fmt.Fprintf(w, "As of %s\n", *resp.AsOfDate)
	return err
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func trendArrow(t analytics.TrendDirection) string {
	switch t {
	case analytics.TrendUp:
		return "▲"
	case analytics.TrendDown:
		return "▼"
	}
	return "–"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatOrEmpty(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func pctOrEmpty(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func signedPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *v)
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
