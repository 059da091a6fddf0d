package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/healthlens/internal/models"
)

// parseDateArg reads an optional YYYY-MM-DD argument.
func parseDateArg(req mcp.CallToolRequest, name string) (*time.Time, error) {
	s := req.GetString(name, "")
	if s == "" {
		return nil, nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// rangeArgs reads start_date and end_date.
func rangeArgs(req mcp.CallToolRequest) (Range, error) {
	start, err := parseDateArg(req, "start_date")
	if err != nil {
		return Range{}, err
	}
	end, err := parseDateArg(req, "end_date")
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed")
	}
	return result
}

// --- Tool definitions ---

var (
	startDateArg = mcp.WithString("start_date", mcp.Description("Start date (YYYY-MM-DD). Defaults to 30 days before end_date."))
	endDateArg   = mcp.WithString("end_date", mcp.Description("End date (YYYY-MM-DD), inclusive. Defaults to the latest day with data."))
)

var toolListMetrics = mcp.NewTool("list_metrics",
	mcp.WithDescription("List every daily health metric with its unit, category, aggregation, and whether it supports anomalies and correlations."),
)

var toolGetDailyMetric = mcp.NewTool("get_daily_metric",
	mcp.WithDescription("Daily values of one metric with its personal baseline band (p25/median/p75 of the prior 90 days) and an anomaly level per day."),
	mcp.WithString("metric_key", mcp.Required(), mcp.Description("Metric key from list_metrics (e.g. hrv_sdnn, resting_heart_rate, steps)")),
	startDateArg,
	endDateArg,
)

var toolGetOverview = mcp.NewTool("get_overview",
	mcp.WithDescription("Dashboard tiles: latest value of each metric, delta vs its baseline median, 7-day trend, and anomaly level."),
	mcp.WithString("end_date", mcp.Description("As-of date (YYYY-MM-DD). Defaults to the latest day with data.")),
)

var toolGetAnomalies = mcp.NewTool("get_anomalies",
	mcp.WithDescription("Days where a metric fell outside its personal baseline, newest first, with a plain-language reason."),
	startDateArg,
	endDateArg,
	mcp.WithString("min_level", mcp.Description("Lowest level to include. Defaults to mild."), mcp.Enum("none", "mild", "strong")),
	mcp.WithString("metric_key", mcp.Description("Restrict to one metric.")),
)

var toolGetCorrelations = mcp.NewTool("get_correlations",
	mcp.WithDescription("Lagged Pearson correlations (lags -3..3 days) between related metrics over a trailing window. Only |r| >= 0.2 with n >= 30 is reported."),
	mcp.WithString("metric_key", mcp.Description("Only pairs involving this metric.")),
	mcp.WithNumber("window_days", mcp.Description("Trailing window length in days. Defaults to 90.")),
)

var toolGetChartContext = mcp.NewTool("get_chart_context",
	mcp.WithDescription("Structured context for explaining one metric's chart: series summary, baseline at the focus date, recent anomalies, top correlations, and data quality."),
	mcp.WithString("metric_key", mcp.Required(), mcp.Description("Metric key from list_metrics")),
	startDateArg,
	endDateArg,
	mcp.WithString("focus_date", mcp.Description("Date the user is asking about (YYYY-MM-DD). Defaults to end_date.")),
)

var toolGetScores = mcp.NewTool("get_scores",
	mcp.WithDescription("Daily recovery (0-100, from HRV, resting HR and prior-day effort vs baseline) and strain (0-100, from exercise time, active energy, steps and flights) scores with contributors."),
	startDateArg,
	endDateArg,
)

var toolGetRecoveryVsStrain = mcp.NewTool("get_recovery_vs_strain",
	mcp.WithDescription("Days having both a recovery and a strain score, for quadrant analysis."),
	startDateArg,
	endDateArg,
)

var toolGetEffortComposition = mcp.NewTool("get_effort_composition",
	mcp.WithDescription("Steps, flights, active energy, and exercise time summed per day, ISO week, or month, with each metric's share of the period."),
	startDateArg,
	endDateArg,
	mcp.WithString("granularity", mcp.Description("Bucket size. Defaults to day."), mcp.Enum("day", "week", "month")),
)

var toolGetReadinessTimeline = mcp.NewTool("get_readiness_timeline",
	mcp.WithDescription("One entry per day with the recovery score and, on the most notable days, an annotation (HRV dip, elevated resting HR, high strain, or a large recovery change)."),
	startDateArg,
	endDateArg,
)

// --- Tool handlers ---

func (h *handlers) listMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := h.ds.Metrics(ctx)
	if err != nil {
		return h.queryFailed("list_metrics", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getDailyMetric(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("metric_key")
	if err != nil {
		return mcp.NewToolResultError("metric_key parameter is required"), nil
	}
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.DailyMetric(ctx, key, r)
	if err != nil {
		return h.queryFailed("get_daily_metric", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	asOf, err := parseDateArg(req, "end_date")
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.Overview(ctx, asOf)
	if err != nil {
		return h.queryFailed("get_overview", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getAnomalies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.Anomalies(ctx, r, req.GetString("min_level", ""), req.GetString("metric_key", ""))
	if err != nil {
		return h.queryFailed("get_anomalies", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getCorrelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := h.ds.Correlations(ctx, req.GetString("metric_key", ""), req.GetInt("window_days", 0))
	if err != nil {
		return h.queryFailed("get_correlations", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getChartContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("metric_key")
	if err != nil {
		return mcp.NewToolResultError("metric_key parameter is required"), nil
	}
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	focus, err := parseDateArg(req, "focus_date")
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.ChartContext(ctx, key, r, focus)
	if err != nil {
		return h.queryFailed("get_chart_context", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getScores(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.Scores(ctx, r)
	if err != nil {
		return h.queryFailed("get_scores", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getRecoveryVsStrain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.RecoveryVsStrain(ctx, r)
	if err != nil {
		return h.queryFailed("get_recovery_vs_strain", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getEffortComposition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.EffortComposition(ctx, r, req.GetString("granularity", ""))
	if err != nil {
		return h.queryFailed("get_effort_composition", err), nil
	}
	return jsonResult(resp), nil
}

func (h *handlers) getReadinessTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	resp, err := h.ds.ReadinessTimeline(ctx, r)
	if err != nil {
		return h.queryFailed("get_readiness_timeline", err), nil
	}
	return jsonResult(resp), nil
}

// queryFailed turns a data source error into a tool-level error result so
// the model sees the message instead of a protocol failure.
func (h *handlers) queryFailed(tool string, err error) *mcp.CallToolResult {
	h.log.Error("mcp "+tool, "error", err)
	return mcp.NewToolResultError("query failed: " + err.Error())
}
