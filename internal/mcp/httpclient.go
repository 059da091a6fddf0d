package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/models"
)

// HTTPClient implements DataSource by calling the HealthLens REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// get fetches path and decodes the JSON body into out.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func rangeParams(r Range) url.Values {
	v := url.Values{}
	setDate(v, "start_date", r.Start)
	setDate(v, "end_date", r.End)
	return v
}

func setDate(v url.Values, name string, d *time.Time) {
	if d != nil {
		v.Set(name, models.FormatDate(*d))
	}
}

func setIfNotEmpty(v url.Values, name, value string) {
	if value != "" {
		v.Set(name, value)
	}
}

func (c *HTTPClient) Metrics(ctx context.Context) (*insights.MetricsResponse, error) {
	var resp insights.MetricsResponse
	if err := c.get(ctx, "/api/v1/analytics/metrics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) DailyMetric(ctx context.Context, metricKey string, r Range) (*insights.DailyMetricResponse, error) {
	params := rangeParams(r)
	params.Set("metric_key", metricKey)
	var resp insights.DailyMetricResponse
	if err := c.get(ctx, "/api/v1/analytics/metric/daily", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Overview(ctx context.Context, asOf *time.Time) (*insights.OverviewResponse, error) {
	params := url.Values{}
	setDate(params, "end_date", asOf)
	var resp insights.OverviewResponse
	if err := c.get(ctx, "/api/v1/analytics/overview", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Anomalies(ctx context.Context, r Range, minLevel, metricKey string) (*insights.AnomaliesResponse, error) {
	params := rangeParams(r)
	setIfNotEmpty(params, "min_level", minLevel)
	setIfNotEmpty(params, "metric_key", metricKey)
	var resp insights.AnomaliesResponse
	if err := c.get(ctx, "/api/v1/analytics/anomalies", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Correlations(ctx context.Context, metricKey string, windowDays int) (*insights.CorrelationsResponse, error) {
	params := url.Values{}
	setIfNotEmpty(params, "metric_key", metricKey)
	if windowDays != 0 {
		params.Set("window_days", strconv.Itoa(windowDays))
	}
	var resp insights.CorrelationsResponse
	if err := c.get(ctx, "/api/v1/analytics/correlations", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ChartContext(ctx context.Context, metricKey string, r Range, focus *time.Time) (*analytics.ChartContext, error) {
	params := rangeParams(r)
	params.Set("metric_key", metricKey)
	setDate(params, "focus_date", focus)
	var resp analytics.ChartContext
	if err := c.get(ctx, "/api/v1/analytics/chart-context", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Scores(ctx context.Context, r Range) (*insights.ScoresResponse, error) {
	var resp insights.ScoresResponse
	if err := c.get(ctx, "/api/v1/analytics/scores", rangeParams(r), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) RecoveryVsStrain(ctx context.Context, r Range) (*insights.RecoveryVsStrainResponse, error) {
	var resp insights.RecoveryVsStrainResponse
	if err := c.get(ctx, "/api/v1/analytics/recovery-vs-strain", rangeParams(r), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) EffortComposition(ctx context.Context, r Range, granularity string) (*insights.EffortCompositionResponse, error) {
	params := rangeParams(r)
	setIfNotEmpty(params, "granularity", granularity)
	var resp insights.EffortCompositionResponse
	if err := c.get(ctx, "/api/v1/analytics/effort-composition", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ReadinessTimeline(ctx context.Context, r Range) (*insights.ReadinessTimelineResponse, error) {
	var resp insights.ReadinessTimelineResponse
	if err := c.get(ctx, "/api/v1/analytics/readiness-timeline", rangeParams(r), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
