package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/insights"
)

// newTestServer creates an httptest server that routes requests to handler functions
// keyed by path. Verifies the HTTP client sends correct paths and query params.
func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			assert.Fail(t, "unexpected request path", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

// TestDailyMetric verifies the metric key and dates are sent as query params.
func TestDailyMetric(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/metric/daily": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "hrv_sdnn", q.Get("metric_key"))
			assert.Equal(t, "2024-05-01", q.Get("start_date"))
			assert.False(t, q.Has("end_date"), "end_date should be omitted when unset")
			v := 48.0
			writeTestJSON(t, w, insights.DailyMetricResponse{
				MetricKey: "hrv_sdnn",
				Data:      []analytics.DailyMetricPoint{{Date: "2024-05-01", Value: &v, AnomalyLevel: analytics.AnomalyNone}},
				Count:     1,
			})
		},
	})
	defer ts.Close()

	start := mustDate("2024-05-01")
	resp, err := NewHTTPClient(ts.URL).DailyMetric(context.Background(), "hrv_sdnn", Range{Start: &start})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 48.0, *resp.Data[0].Value)
}

// TestAnomaliesParams verifies optional filters are only sent when set.
func TestAnomaliesParams(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/anomalies": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "strong", q.Get("min_level"))
			assert.False(t, q.Has("metric_key"), "metric_key should be omitted when empty")
			writeTestJSON(t, w, insights.AnomaliesResponse{MinLevel: "strong", Anomalies: []analytics.Anomaly{}})
		},
	})
	defer ts.Close()

	resp, err := NewHTTPClient(ts.URL).Anomalies(context.Background(), Range{}, "strong", "")
	require.NoError(t, err)
	assert.Equal(t, "strong", resp.MinLevel)
}

// TestCorrelationsWindow verifies window_days is forwarded.
func TestCorrelationsWindow(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/correlations": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "60", r.URL.Query().Get("window_days"))
			writeTestJSON(t, w, insights.CorrelationsResponse{
				WindowDays: 60,
				Correlations: []analytics.Correlation{
					{MetricA: "hrv_sdnn", MetricB: "resting_heart_rate", LagDays: 0, Corr: -0.45, N: 60},
				},
				Count: 1,
			})
		},
	})
	defer ts.Close()

	resp, err := NewHTTPClient(ts.URL).Correlations(context.Background(), "", 60)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, -0.45, resp.Correlations[0].Corr)
}

// TestScoresAndTimeline verifies envelope decoding for score-based endpoints.
func TestScoresAndTimeline(t *testing.T) {
	score := 72
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/scores": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, insights.ScoresResponse{
				StartDate: "2024-05-01", EndDate: "2024-05-01",
				Scores: []analytics.DailyScore{{Date: "2024-05-01", RecoveryScore: &score}},
			})
		},
		"/api/v1/analytics/readiness-timeline": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, insights.ReadinessTimelineResponse{
				Days: []analytics.TimelineDay{{Date: "2024-05-01", RecoveryScore: &score}},
			})
		},
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	scores, err := c.Scores(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, scores.Scores, 1)
	assert.Equal(t, 72, *scores.Scores[0].RecoveryScore)
	timeline, err := c.ReadinessTimeline(context.Background(), Range{})
	require.NoError(t, err)
	assert.Len(t, timeline.Days, 1)
}

// TestHTTPClientServerError verifies API error bodies surface in the returned error.
func TestHTTPClientServerError(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/effort-composition": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid granularity: year"}`))
		},
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).EffortComposition(context.Background(), Range{}, "year")
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid granularity: year")
}

// TestHTTPClientTrailingSlash verifies the base URL is normalized.
func TestHTTPClientTrailingSlash(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"/api/v1/analytics/metrics": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, insights.MetricsResponse{Count: 2})
		},
	})
	defer ts.Close()

	resp, err := NewHTTPClient(ts.URL + "/").Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
}
