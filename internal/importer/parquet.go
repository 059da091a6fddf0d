package importer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/claude/healthlens/internal/models"
)

// DailyRow is the Parquet schema of a daily metric table.
type DailyRow struct {
	// Date is YYYY-MM-DD
	Date        string   `parquet:"date,snappy"`
	MetricKey   string   `parquet:"metric_key,snappy"`
	Value       *float64 `parquet:"value,optional,snappy"`
	Unit        *string  `parquet:"unit,optional,snappy"`
	SampleCount *int64   `parquet:"sample_count,optional,snappy"`
}

const parquetReadBatch = 1024

// ReadParquetFile reads every row of a Parquet daily metric table.
func ReadParquetFile(path string) ([]models.MetricPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadParquet(f)
}

// ReadParquet reads rows from r until EOF.
func ReadParquet(r io.ReaderAt) ([]models.MetricPoint, error) {
	reader := parquet.NewGenericReader[DailyRow](r)
	defer reader.Close()

	points := make([]models.MetricPoint, 0, reader.NumRows())
	buf := make([]DailyRow, parquetReadBatch)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			p, perr := row.point()
			if perr != nil {
				return nil, perr
			}
			points = append(points, p)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return points, nil
}

// WriteParquetFile writes points to a new Parquet file at path.
func WriteParquetFile(path string, points []models.MetricPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return WriteParquet(f, points)
}

// WriteParquet encodes points as DailyRows.
func WriteParquet(w io.Writer, points []models.MetricPoint) error {
	rows := make([]DailyRow, len(points))
	for i, p := range points {
		rows[i] = newDailyRow(p)
	}
	writer := parquet.NewGenericWriter[DailyRow](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	return writer.Close()
}

func newDailyRow(p models.MetricPoint) DailyRow {
	row := DailyRow{
		Date:      models.FormatDate(p.Date),
		MetricKey: p.MetricKey,
		Value:     p.Value,
	}
	if p.Unit != "" {
		unit := p.Unit
		row.Unit = &unit
	}
	if p.SampleCount != nil {
		n := int64(*p.SampleCount)
		row.SampleCount = &n
	}
	return row
}

func (r DailyRow) point() (models.MetricPoint, error) {
	date, err := models.ParseDate(r.Date)
	if err != nil {
		return models.MetricPoint{}, fmt.Errorf("row %s/%s: %w", r.MetricKey, r.Date, err)
	}
	// the reader reuses its buffer between batches
	p := models.MetricPoint{Date: date, MetricKey: r.MetricKey}
	if r.Value != nil {
		v := *r.Value
		p.Value = &v
	}
	if r.Unit != nil {
		p.Unit = *r.Unit
	}
	if r.SampleCount != nil {
		n := int(*r.SampleCount)
		p.SampleCount = &n
	}
	return p, nil
}
