package insights

import (
	"errors"
	"fmt"
	"time"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/models"
)

// Caller errors. Handlers map these to 400.
var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidRange       = errors.New("invalid date range")
	ErrRangeTooLong       = errors.New("date range too long")
	ErrUnknownMetric      = errors.New("unknown metric")
	ErrInvalidGranularity = errors.New("invalid granularity")
	ErrInvalidLevel       = errors.New("invalid anomaly level")
	ErrInvalidWindow      = errors.New("invalid window")
)

// IsCallerError reports whether err was caused by bad request input.
func IsCallerError(err error) bool {
	for _, target := range []error{
		ErrInvalidDate, ErrInvalidRange, ErrRangeTooLong, ErrUnknownMetric,
		ErrInvalidGranularity, ErrInvalidLevel, ErrInvalidWindow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ParseDate parses a YYYY-MM-DD query value.
func ParseDate(name, value string) (time.Time, error) {
	d, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidDate, name, err)
	}
	return d, nil
}

func (s *Service) validateRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end_date %s is before start_date %s",
			ErrInvalidRange, models.FormatDate(end), models.FormatDate(start))
	}
	if days := models.DaysBetween(start, end); days > s.maxRangeDays {
		return fmt.Errorf("%w: %d days exceeds the %d day maximum", ErrRangeTooLong, days, s.maxRangeDays)
	}
	return nil
}

func lookupMetric(key string) (models.MetricInfo, error) {
	info, ok := models.LookupMetric(key)
	if !ok {
		return models.MetricInfo{}, fmt.Errorf("%w: %q", ErrUnknownMetric, key)
	}
	return info, nil
}

func parseLevel(s string) (analytics.AnomalyLevel, error) {
	if s == "" {
		return analytics.AnomalyMild, nil
	}
	lvl, ok := analytics.ParseAnomalyLevel(s)
	if !ok {
		return "", fmt.Errorf("%w: %q (want none, mild, or strong)", ErrInvalidLevel, s)
	}
	return lvl, nil
}

func parseGranularity(s string) (analytics.Granularity, error) {
	g, err := analytics.ParseGranularity(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGranularity, err)
	}
	return g, nil
}
