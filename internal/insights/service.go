// Package insights answers dashboard and chat queries: it validates the
// request, loads the needed daily series from a MetricStore and runs the
// analytics engine over them.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/cache"
	"github.com/claude/healthlens/internal/models"
)

const (
	DefaultMaxRangeDays = 730
	// defaultRangeDays is used when a caller omits start_date.
	defaultRangeDays = 30
)

// MetricStore is the read side of storage the service needs.
type MetricStore interface {
	DailyMetrics(ctx context.Context, metricKey string, start, end time.Time) ([]models.MetricPoint, error)
	LatestDate(ctx context.Context) (*time.Time, error)
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	BaselineWindowDays    int
	MinSamples            int
	MaxRangeDays          int
	Classifier            analytics.Classifier
	Scoring               analytics.ScoringConfig
	TrendEpsilon          float64
	RecoveryDelta         int
	CorrelationWindowDays int
	Now                   func() time.Time
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		BaselineWindowDays:    analytics.DefaultBaselineWindowDays,
		MinSamples:            analytics.DefaultMinSamples,
		MaxRangeDays:          DefaultMaxRangeDays,
		Classifier:            analytics.DefaultClassifier(),
		Scoring:               analytics.DefaultScoringConfig(),
		TrendEpsilon:          analytics.DefaultTrendEpsilon,
		RecoveryDelta:         analytics.DefaultRecoveryDeltaThreshold,
		CorrelationWindowDays: analytics.DefaultCorrelationWindow,
	}
}

// Service is safe for concurrent use. Its only shared mutable state is the
// baseline cache.
type Service struct {
	store        MetricStore
	cache        cache.BaselineCache
	log          *slog.Logger
	now          func() time.Time
	maxRangeDays int
	corrWindow   int

	baselines  analytics.BaselineEngine
	classifier analytics.Classifier
	composer   analytics.Composer
	views      analytics.ViewBuilder
	correlator analytics.Correlator

	flights singleflight.Group
}

// New creates a Service. bc may be nil to disable baseline caching.
func New(store MetricStore, bc cache.BaselineCache, log *slog.Logger, opts Options) *Service {
	def := DefaultOptions()
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = def.MaxRangeDays
	}
	if opts.CorrelationWindowDays <= 0 {
		opts.CorrelationWindowDays = def.CorrelationWindowDays
	}
	if opts.Classifier.StrongFence <= 0 {
		opts.Classifier = def.Classifier
	}
	if len(opts.Scoring.StrainInputs) == 0 {
		opts.Scoring = def.Scoring
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baselines := analytics.NewBaselineEngine(opts.BaselineWindowDays, opts.MinSamples)
	views := analytics.NewViewBuilder(baselines, opts.Classifier, opts.Scoring.StrainInputs)
	if opts.TrendEpsilon > 0 {
		views.TrendEpsilon = opts.TrendEpsilon
	}
	if opts.RecoveryDelta > 0 {
		views.RecoveryDelta = opts.RecoveryDelta
	}

	return &Service{
		store:        store,
		cache:        bc,
		log:          log,
		now:          opts.Now,
		maxRangeDays: opts.MaxRangeDays,
		corrWindow:   opts.CorrelationWindowDays,
		baselines:    baselines,
		classifier:   opts.Classifier,
		composer:     analytics.NewComposer(opts.Scoring, opts.Classifier),
		views:        views,
		correlator:   analytics.DefaultCorrelator(),
	}
}

// DefaultRange returns the 30 days ending at the latest stored date, or at
// today when the store is empty.
func (s *Service) DefaultRange(ctx context.Context) (start, end time.Time, err error) {
	return s.ResolveRange(ctx, nil, nil)
}

// ResolveRange fills in omitted bounds: a missing end becomes the latest
// stored date (or today), a missing start the 30 days ending at end.
func (s *Service) ResolveRange(ctx context.Context, start, end *time.Time) (time.Time, time.Time, error) {
	var from, to time.Time
	if end != nil {
		to = models.Day(*end)
	} else {
		latest, err := s.latestOrToday(ctx)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = latest
	}
	if start != nil {
		from = models.Day(*start)
	} else {
		from = to.AddDate(0, 0, -(defaultRangeDays - 1))
	}
	return from, to, nil
}

// Metrics returns the catalog.
func (s *Service) Metrics() MetricsResponse {
	m := models.Catalog()
	return MetricsResponse{Metrics: m, Count: len(m)}
}

// Baseline returns the window for metricKey as of asOf.
func (s *Service) Baseline(ctx context.Context, metricKey string, asOf time.Time) (analytics.BaselineWindow, error) {
	info, err := lookupMetric(metricKey)
	if err != nil {
		return analytics.BaselineWindow{}, err
	}
	asOf = models.Day(asOf)
	if !info.HasBaseline() {
		return analytics.BaselineWindow{MetricKey: metricKey, AsOf: asOf, WindowDays: s.baselines.WindowDays}, nil
	}
	series, err := s.loadSeries(ctx, []string{metricKey}, s.lookback(asOf), asOf)
	if err != nil {
		return analytics.BaselineWindow{}, err
	}
	return s.baselineAt(ctx, metricKey, series[metricKey], asOf), nil
}

// DailyMetric returns one metric's stored days in range with baseline bands.
func (s *Service) DailyMetric(ctx context.Context, metricKey string, start, end time.Time) (*DailyMetricResponse, error) {
	info, err := lookupMetric(metricKey)
	if err != nil {
		return nil, err
	}
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	series, err := s.loadSeries(ctx, []string{metricKey}, s.lookback(start), end)
	if err != nil {
		return nil, err
	}

	data := s.views.DailySeries(info, series[metricKey], start, end)
	if data == nil {
		data = []analytics.DailyMetricPoint{}
	}
	return &DailyMetricResponse{
		MetricKey:   info.MetricKey,
		DisplayName: info.DisplayName,
		Unit:        info.Unit,
		StartDate:   models.FormatDate(start),
		EndDate:     models.FormatDate(end),
		Data:        data,
		Count:       len(data),
	}, nil
}

// Overview builds the dashboard tiles as of asOf, or as of the latest stored
// date when asOf is nil.
func (s *Service) Overview(ctx context.Context, asOf *time.Time) (*OverviewResponse, error) {
	var day time.Time
	if asOf != nil {
		day = models.Day(*asOf)
	} else {
		latest, err := s.store.LatestDate(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying latest date: %w", err)
		}
		if latest == nil {
			return &OverviewResponse{Tiles: []analytics.OverviewTile{}}, nil
		}
		day = models.Day(*latest)
	}

	// two windows back so a stale latest reading still gets a full baseline
	from := day.AddDate(0, 0, -2*s.baselines.WindowDays)
	series, err := s.loadSeries(ctx, models.CatalogKeys(), from, day)
	if err != nil {
		return nil, err
	}

	tiles := s.views.OverviewTiles(day, series)
	if tiles == nil {
		tiles = []analytics.OverviewTile{}
	}
	d := models.FormatDate(day)
	return &OverviewResponse{AsOfDate: &d, Tiles: tiles}, nil
}

// Anomalies lists flagged (metric, day) pairs in range at or above minLevel,
// newest first. metricKey, when non-empty, restricts to one metric.
func (s *Service) Anomalies(ctx context.Context, start, end time.Time, minLevel, metricKey string) (*AnomaliesResponse, error) {
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	level, err := parseLevel(minLevel)
	if err != nil {
		return nil, err
	}

	var keys []string
	if metricKey != "" {
		info, err := lookupMetric(metricKey)
		if err != nil {
			return nil, err
		}
		if info.SupportsAnomalies {
			keys = append(keys, info.MetricKey)
		}
	} else {
		for _, info := range models.Catalog() {
			if info.SupportsAnomalies {
				keys = append(keys, info.MetricKey)
			}
		}
	}

	series, err := s.loadSeries(ctx, keys, s.lookback(start), end)
	if err != nil {
		return nil, err
	}

	found := []analytics.Anomaly{}
	for _, key := range keys {
		history := series[key]
		idx := s.baselineSeries(ctx, key, history, start, end)
		found = append(found, s.classifier.Detect(inRange(history, start, end), idx, level)...)
	}
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Level != b.Level {
			return a.Level.Rank() > b.Level.Rank()
		}
		return a.MetricKey < b.MetricKey
	})

	return &AnomaliesResponse{
		StartDate: models.FormatDate(start),
		EndDate:   models.FormatDate(end),
		MinLevel:  string(level),
		Anomalies: found,
		Count:     len(found),
	}, nil
}

// Correlations tests the default metric pairs over the trailing windowDays
// ending at the latest stored date. metricKey, when non-empty, keeps only
// pairs that include it.
func (s *Service) Correlations(ctx context.Context, metricKey string, windowDays int) (*CorrelationsResponse, error) {
	if windowDays == 0 {
		windowDays = s.corrWindow
	}
	if windowDays < 1 || windowDays > s.maxRangeDays {
		return nil, fmt.Errorf("%w: window_days must be between 1 and %d", ErrInvalidWindow, s.maxRangeDays)
	}
	if metricKey != "" {
		if _, err := lookupMetric(metricKey); err != nil {
			return nil, err
		}
	}

	resp := &CorrelationsResponse{WindowDays: windowDays, Correlations: []analytics.Correlation{}}
	latest, err := s.store.LatestDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying latest date: %w", err)
	}
	if latest == nil {
		return resp, nil
	}
	end := models.Day(*latest)
	d := models.FormatDate(end)
	resp.AsOfDate = &d

	corrs, err := s.correlate(ctx, metricKey, end, windowDays)
	if err != nil {
		return nil, err
	}
	resp.Correlations = corrs
	resp.Count = len(corrs)
	return resp, nil
}

func (s *Service) correlate(ctx context.Context, metricKey string, end time.Time, windowDays int) ([]analytics.Correlation, error) {
	var pairs []analytics.MetricPair
	var keys []string
	for _, p := range analytics.DefaultPairs() {
		if metricKey != "" && p.A != metricKey && p.B != metricKey {
			continue
		}
		pairs = append(pairs, p)
		keys = append(keys, p.A, p.B)
	}
	if len(pairs) == 0 {
		return []analytics.Correlation{}, nil
	}

	start := end.AddDate(0, 0, -(windowDays - 1))
	series, err := s.loadSeries(ctx, keys, start, end)
	if err != nil {
		return nil, err
	}
	corrs := s.correlator.Find(pairs, series)
	if corrs == nil {
		corrs = []analytics.Correlation{}
	}
	return corrs, nil
}

// ChartContext assembles the structured context for one chart.
func (s *Service) ChartContext(ctx context.Context, metricKey string, start, end time.Time, focus *time.Time) (*analytics.ChartContext, error) {
	info, err := lookupMetric(metricKey)
	if err != nil {
		return nil, err
	}
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	if focus != nil {
		f := models.Day(*focus)
		focus = &f
	}

	series, err := s.loadSeries(ctx, []string{metricKey}, s.lookback(start), end)
	if err != nil {
		return nil, err
	}
	corrs, err := s.correlate(ctx, metricKey, end, s.corrWindow)
	if err != nil {
		return nil, err
	}
	cc := s.views.ChartContext(info, series[metricKey], start, end, focus, corrs)
	return &cc, nil
}

// Scores returns one DailyScore per day in range.
func (s *Service) Scores(ctx context.Context, start, end time.Time) (*ScoresResponse, error) {
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	days, err := s.scoreDays(ctx, start, end)
	if err != nil {
		return nil, err
	}
	scores := make([]analytics.DailyScore, len(days))
	for i, d := range days {
		scores[i] = d.Score
	}
	return &ScoresResponse{
		StartDate:   models.FormatDate(start),
		EndDate:     models.FormatDate(end),
		Scores:      scores,
		DataQuality: analytics.ScoresQuality(scores, len(days)),
	}, nil
}

// RecoveryVsStrain returns the days with both scores.
func (s *Service) RecoveryVsStrain(ctx context.Context, start, end time.Time) (*RecoveryVsStrainResponse, error) {
	resp, err := s.Scores(ctx, start, end)
	if err != nil {
		return nil, err
	}
	pts := s.views.RecoveryVsStrain(resp.Scores)
	return &RecoveryVsStrainResponse{
		StartDate: resp.StartDate,
		EndDate:   resp.EndDate,
		Points:    pts,
		Count:     len(pts),
	}, nil
}

// EffortComposition buckets effort metrics by granularity.
func (s *Service) EffortComposition(ctx context.Context, start, end time.Time, granularity string) (*EffortCompositionResponse, error) {
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	g, err := parseGranularity(granularity)
	if err != nil {
		return nil, err
	}
	keys := []string{
		models.MetricSteps, models.MetricFlightsClimbed, models.MetricActiveEnergy,
		models.MetricExerciseTime, models.MetricHeartRateMax,
	}
	series, err := s.loadSeries(ctx, keys, start, end)
	if err != nil {
		return nil, err
	}
	return &EffortCompositionResponse{
		StartDate:   models.FormatDate(start),
		EndDate:     models.FormatDate(end),
		Granularity: g,
		Buckets:     s.views.EffortComposition(series, start, end, g),
	}, nil
}

// ReadinessTimeline returns one annotated entry per day in range.
func (s *Service) ReadinessTimeline(ctx context.Context, start, end time.Time) (*ReadinessTimelineResponse, error) {
	start, end = models.Day(start), models.Day(end)
	if err := s.validateRange(start, end); err != nil {
		return nil, err
	}
	// one extra leading day gives the first entry its recovery delta
	days, err := s.scoreDays(ctx, start.AddDate(0, 0, -1), end)
	if err != nil {
		return nil, err
	}
	prev := days[0].Score.RecoveryScore
	return &ReadinessTimelineResponse{
		StartDate: models.FormatDate(start),
		EndDate:   models.FormatDate(end),
		Days:      s.views.ReadinessTimeline(days[1:], prev),
	}, nil
}

// scoreDays composes the score and the timeline context for every day in
// [start, end].
func (s *Service) scoreDays(ctx context.Context, start, end time.Time) ([]analytics.DayContext, error) {
	scoring := s.composer.Scoring
	effortKey := scoring.EffortMetric
	keys := []string{models.MetricHRV, models.MetricRestingHeartRate, effortKey}
	for _, in := range scoring.StrainInputs {
		keys = append(keys, in.MetricKey)
	}
	keys = dedupe(keys)

	// effort is read on D-1 with its baseline as of D-1
	first := start.AddDate(0, 0, -1)
	series, err := s.loadSeries(ctx, keys, s.lookback(first), end)
	if err != nil {
		return nil, err
	}

	values := make(map[string]map[time.Time]models.MetricPoint, len(keys))
	baselines := make(map[string]map[time.Time]analytics.BaselineWindow, len(keys))
	for _, key := range keys {
		byDay := make(map[time.Time]models.MetricPoint, len(series[key]))
		for _, p := range series[key] {
			byDay[models.Day(p.Date)] = p
		}
		values[key] = byDay
		baselines[key] = s.baselineSeries(ctx, key, series[key], first, end)
	}

	pointOn := func(key string, d time.Time) *models.MetricPoint {
		p, ok := values[key][d]
		if !ok {
			return nil
		}
		return &p
	}

	var days []analytics.DayContext
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		prior := d.AddDate(0, 0, -1)
		in := analytics.DayInputs{
			HRV:         pointOn(models.MetricHRV, d),
			RHR:         pointOn(models.MetricRestingHeartRate, d),
			PriorEffort: pointOn(effortKey, prior),
			RecoveryBaselines: map[string]analytics.BaselineWindow{
				models.MetricHRV:              baselines[models.MetricHRV][d],
				models.MetricRestingHeartRate: baselines[models.MetricRestingHeartRate][d],
				effortKey:                     baselines[effortKey][prior],
			},
			Effort:          make(map[string]*models.MetricPoint, len(scoring.StrainInputs)),
			EffortBaselines: make(map[string]analytics.BaselineWindow, len(scoring.StrainInputs)),
		}
		dc := analytics.DayContext{
			Date:      d,
			Values:    make(map[string]*float64, len(keys)),
			Baselines: make(map[string]analytics.BaselineWindow, len(keys)),
		}
		for _, strain := range scoring.StrainInputs {
			in.Effort[strain.MetricKey] = pointOn(strain.MetricKey, d)
			in.EffortBaselines[strain.MetricKey] = baselines[strain.MetricKey][d]
		}
		for _, key := range keys {
			if p := pointOn(key, d); p != nil {
				dc.Values[key] = p.Value
			}
			dc.Baselines[key] = baselines[key][d]
		}
		dc.Score = s.composer.Compose(d, in)
		days = append(days, dc)
	}
	return days, nil
}

// lookback returns the first day whose readings feed the baseline for day.
func (s *Service) lookback(day time.Time) time.Time {
	return models.Day(day).AddDate(0, 0, -s.baselines.WindowDays)
}

func (s *Service) latestOrToday(ctx context.Context) (time.Time, error) {
	latest, err := s.store.LatestDate(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest date: %w", err)
	}
	if latest == nil {
		return s.today(), nil
	}
	return models.Day(*latest), nil
}

func inRange(points []models.MetricPoint, start, end time.Time) []models.MetricPoint {
	var out []models.MetricPoint
	for _, p := range points {
		d := models.Day(p.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}
