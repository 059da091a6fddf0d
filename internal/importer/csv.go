package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/claude/healthlens/internal/models"
)

// CSVHeader is the column order WriteCSV emits. ReadCSV matches columns by
// name, so any order is accepted.
var CSVHeader = []string{"date", "metric_key", "value", "unit", "sample_count"}

// ReadCSV parses a daily metric table with a header row. date and
// metric_key are required columns; an empty value cell is a gap.
func ReadCSV(r io.Reader) ([]models.MetricPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "metric_key"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var points []models.MetricPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := models.ParseDate(cell(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := models.MetricPoint{
			Date:      date,
			MetricKey: cell(rec, "metric_key"),
			Unit:      cell(rec, "unit"),
		}
		if v := cell(rec, "value"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q", line, v)
			}
			p.Value = &f
		}
		if v := cell(rec, "sample_count"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid sample_count %q", line, v)
			}
			p.SampleCount = &n
		}
		points = append(points, p)
	}
	return points, nil
}

// WriteCSV writes points with CSVHeader. Gaps are written as empty cells.
func WriteCSV(w io.Writer, points []models.MetricPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{models.FormatDate(p.Date), p.MetricKey, "", p.Unit, ""}
		if p.Value != nil {
			rec[2] = strconv.FormatFloat(*p.Value, 'f', -1, 64)
		}
		if p.SampleCount != nil {
			rec[4] = strconv.Itoa(*p.SampleCount)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
