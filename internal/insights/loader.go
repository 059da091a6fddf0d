package insights

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/cache"
	"github.com/claude/healthlens/internal/models"
)

// maxConcurrentLoads bounds parallel store queries per request.
const maxConcurrentLoads = 8

// sharedLoadTimeout bounds a store query shared between requests.
const sharedLoadTimeout = 30 * time.Second

// loadSeries fetches every metric in keys over [start, end] concurrently.
// Identical in-flight loads across requests share one store query.
func (s *Service) loadSeries(ctx context.Context, keys []string, start, end time.Time) (map[string][]models.MetricPoint, error) {
	var mu sync.Mutex
	out := make(map[string][]models.MetricPoint, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for _, key := range dedupe(keys) {
		g.Go(func() error {
			points, err := s.loadOne(gctx, key, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = points
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadOne runs a shared flight detached from any single caller's context, so
// one cancelled request does not fail the others waiting on the same query.
// Each caller still stops waiting when its own context ends.
func (s *Service) loadOne(ctx context.Context, key string, start, end time.Time) ([]models.MetricPoint, error) {
	flight := fmt.Sprintf("%s:%s:%s", key, models.FormatDate(start), models.FormatDate(end))
	ch := s.flights.DoChan(flight, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return s.store.DailyMetrics(qctx, key, start, end)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loading %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("loading %s: %w", key, res.Err)
		}
		// callers must not mutate shared results
		return res.Val.([]models.MetricPoint), nil
	}
}

// DataVersioner is implemented by stores that bump a counter on every write.
type DataVersioner interface {
	DataVersion(ctx context.Context) (int64, error)
}

// dataVersion identifies the current stored data for cache keys. Stores
// without a write counter fall back to the latest stored date, which catches
// new days but not backfills of older ones.
func (s *Service) dataVersion(ctx context.Context) (string, error) {
	if v, ok := s.store.(DataVersioner); ok {
		n, err := v.DataVersion(ctx)
		if err != nil {
			return "", err
		}
		return "v" + strconv.FormatInt(n, 10), nil
	}
	latest, err := s.store.LatestDate(ctx)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "empty", nil
	}
	return "d" + models.FormatDate(*latest), nil
}

// baselineSeries returns one baseline per day in [start, end], keyed by day.
// Windows for days before today come from the cache when present for the
// current data version; any miss computes the whole range once and
// back-fills the cache.
func (s *Service) baselineSeries(ctx context.Context, metricKey string, history []models.MetricPoint, start, end time.Time) map[time.Time]analytics.BaselineWindow {
	start, end = models.Day(start), models.Day(end)
	out := make(map[time.Time]analytics.BaselineWindow, models.DaysBetween(start, end)+1)
	today := s.today()

	useCache := s.cache != nil
	var version string
	if useCache {
		var err error
		if version, err = s.dataVersion(ctx); err != nil {
			s.log.Warn("data version lookup failed, skipping baseline cache", "metric", metricKey, "error", err)
			useCache = false
		}
	}

	missed := !useCache
	if !missed {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if !d.Before(today) {
				missed = true
				continue
			}
			w, ok, err := s.cache.Get(ctx, s.cacheKey(metricKey, d, version))
			if err != nil {
				s.log.Warn("baseline cache get failed", "metric", metricKey, "error", err)
			}
			if !ok {
				missed = true
				continue
			}
			out[d] = w
		}
	}
	if !missed {
		return out
	}

	for _, w := range s.baselines.Series(metricKey, history, start, end) {
		d := models.Day(w.AsOf)
		if _, ok := out[d]; ok {
			continue
		}
		out[d] = w
		if useCache && d.Before(today) {
			if err := s.cache.Set(ctx, s.cacheKey(metricKey, d, version), w); err != nil {
				s.log.Warn("baseline cache set failed", "metric", metricKey, "error", err)
			}
		}
	}
	return out
}

// baselineAt returns the single window for metricKey as of day.
func (s *Service) baselineAt(ctx context.Context, metricKey string, history []models.MetricPoint, day time.Time) analytics.BaselineWindow {
	return s.baselineSeries(ctx, metricKey, history, day, day)[models.Day(day)]
}

func (s *Service) cacheKey(metricKey string, asOf time.Time, version string) cache.Key {
	return cache.Key{MetricKey: metricKey, AsOf: asOf, WindowDays: s.baselines.WindowDays, Version: version}
}

func (s *Service) today() time.Time {
	return models.Day(s.now())
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
