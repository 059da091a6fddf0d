package mcp

import (
	"context"
	"time"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/insights"
)

// Range is an optional date window. Nil bounds are resolved by the source:
// end to the latest stored date, start to 30 days before end.
type Range struct {
	Start *time.Time
	End   *time.Time
}

// DataSource abstracts the analytics layer for MCP tools. Both Local (in
// process) and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	Metrics(ctx context.Context) (*insights.MetricsResponse, error)
	DailyMetric(ctx context.Context, metricKey string, r Range) (*insights.DailyMetricResponse, error)
	Overview(ctx context.Context, asOf *time.Time) (*insights.OverviewResponse, error)
	Anomalies(ctx context.Context, r Range, minLevel, metricKey string) (*insights.AnomaliesResponse, error)
	Correlations(ctx context.Context, metricKey string, windowDays int) (*insights.CorrelationsResponse, error)
	ChartContext(ctx context.Context, metricKey string, r Range, focus *time.Time) (*analytics.ChartContext, error)
	Scores(ctx context.Context, r Range) (*insights.ScoresResponse, error)
	RecoveryVsStrain(ctx context.Context, r Range) (*insights.RecoveryVsStrainResponse, error)
	EffortComposition(ctx context.Context, r Range, granularity string) (*insights.EffortCompositionResponse, error)
	ReadinessTimeline(ctx context.Context, r Range) (*insights.ReadinessTimelineResponse, error)
}

// Local serves tools straight from an in-process insights.Service.
type Local struct {
	svc *insights.Service
}

// Compile-time check: Local satisfies DataSource.
var _ DataSource = (*Local)(nil)

// NewLocal wraps svc.
func NewLocal(svc *insights.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) Metrics(context.Context) (*insights.MetricsResponse, error) {
	resp := l.svc.Metrics()
	return &resp, nil
}

func (l *Local) DailyMetric(ctx context.Context, metricKey string, r Range) (*insights.DailyMetricResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.DailyMetric(ctx, metricKey, start, end)
}

func (l *Local) Overview(ctx context.Context, asOf *time.Time) (*insights.OverviewResponse, error) {
	return l.svc.Overview(ctx, asOf)
}

func (l *Local) Anomalies(ctx context.Context, r Range, minLevel, metricKey string) (*insights.AnomaliesResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.Anomalies(ctx, start, end, minLevel, metricKey)
}

func (l *Local) Correlations(ctx context.Context, metricKey string, windowDays int) (*insights.CorrelationsResponse, error) {
	return l.svc.Correlations(ctx, metricKey, windowDays)
}

func (l *Local) ChartContext(ctx context.Context, metricKey string, r Range, focus *time.Time) (*analytics.ChartContext, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.ChartContext(ctx, metricKey, start, end, focus)
}

func (l *Local) Scores(ctx context.Context, r Range) (*insights.ScoresResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.Scores(ctx, start, end)
}

func (l *Local) RecoveryVsStrain(ctx context.Context, r Range) (*insights.RecoveryVsStrainResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.RecoveryVsStrain(ctx, start, end)
}

func (l *Local) EffortComposition(ctx context.Context, r Range, granularity string) (*insights.EffortCompositionResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.EffortComposition(ctx, start, end, granularity)
}

func (l *Local) ReadinessTimeline(ctx context.Context, r Range) (*insights.ReadinessTimelineResponse, error) {
	start, end, err := l.svc.ResolveRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return l.svc.ReadinessTimeline(ctx, start, end)
}
