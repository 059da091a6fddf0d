package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/models"
	"github.com/claude/healthlens/internal/storage"
)

type fakeStore struct {
	points map[string][]models.MetricPoint
	err    error
}

func (f *fakeStore) DailyMetrics(_ context.Context, key string, start, end time.Time) ([]models.MetricPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.MetricPoint
	for _, p := range f.points[key] {
		if !p.Date.Before(start) && !p.Date.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestDate(context.Context) (*time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	var latest *time.Time
	for _, pts := range f.points {
		for _, p := range pts {
			if latest == nil || p.Date.After(*latest) {
				d := p.Date
				latest = &d
			}
		}
	}
	return latest, nil
}

func (f *fakeStore) GetDataStats(context.Context) (*storage.DataStats, error) {
	var total int64
	for _, pts := range f.points {
		total += int64(len(pts))
	}
	return &storage.DataStats{TotalRows: total}, nil
}

func (f *fakeStore) QueryImportLogs(_ context.Context, limit int) ([]storage.ImportLog, error) {
	return []storage.ImportLog{{ID: 1, BatchID: "b1", Source: "api", Status: storage.ImportSuccess}}, nil
}

type fakeIngester struct {
	got []models.MetricPoint
}

func (f *fakeIngester) Ingest(_ context.Context, source string, points []models.MetricPoint) (*importer.Stats, error) {
	f.got = append(f.got, points...)
	return &importer.Stats{BatchID: "batch-1", RowsReceived: len(points), RowsUpserted: int64(len(points))}, nil
}

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// seededStore holds 40 days of HRV ending 2024-05-31.
func seededStore() *fakeStore {
	f := &fakeStore{points: map[string][]models.MetricPoint{}}
	end := date("2024-05-31")
	for i := 39; i >= 0; i-- {
		v := float64(45 + i%3*5)
		f.points[models.MetricHRV] = append(f.points[models.MetricHRV], models.MetricPoint{
			Date: end.AddDate(0, 0, -i), MetricKey: models.MetricHRV, Value: &v, Unit: "ms",
		})
	}
	return f
}

func newTestServer(store *fakeStore, ing *fakeIngester, opts Options) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	iopts := insights.DefaultOptions()
	iopts.Now = func() time.Time { return date("2024-06-01") }
	svc := insights.New(store, nil, log, iopts)
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	return New(svc, ing, store, opts, log)
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// TestHandleMetrics verifies the catalog listing.
func TestHandleMetrics(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	rec := get(t, s, "/api/v1/analytics/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp insights.MetricsResponse
	decode(t, rec, &resp)
	assert.Equal(t, len(models.Catalog()), resp.Count)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "missing request id header")
}

// TestHandleDailyMetricDefaultRange verifies that omitted dates default to
// the 30 days ending at the latest stored date.
func TestHandleDailyMetricDefaultRange(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	rec := get(t, s, "/api/v1/analytics/metric/daily?metric_key=hrv_sdnn")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp insights.DailyMetricResponse
	decode(t, rec, &resp)
	assert.Equal(t, "2024-05-02", resp.StartDate)
	assert.Equal(t, "2024-05-31", resp.EndDate)
	assert.Equal(t, 30, resp.Count)
}

// TestHandleDailyMetricEndOnly verifies a lone end_date keeps the 30-day span.
func TestHandleDailyMetricEndOnly(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	rec := get(t, s, "/api/v1/analytics/metric/daily?metric_key=hrv_sdnn&end_date=2024-05-20")
	var resp insights.DailyMetricResponse
	decode(t, rec, &resp)
	assert.Equal(t, "2024-04-21", resp.StartDate)
	assert.Equal(t, "2024-05-20", resp.EndDate)
}

// TestHandleBadRequests verifies caller errors map to 400.
func TestHandleBadRequests(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	tests := []struct {
		name   string
		target string
	}{
		{"missing metric", "/api/v1/analytics/metric/daily"},
		{"unknown metric", "/api/v1/analytics/metric/daily?metric_key=mood"},
		{"bad date", "/api/v1/analytics/scores?start_date=yesterday&end_date=2024-05-31"},
		{"inverted range", "/api/v1/analytics/scores?start_date=2024-05-31&end_date=2024-05-01"},
		{"range too long", "/api/v1/analytics/scores?start_date=2020-01-01&end_date=2024-05-31"},
		{"bad granularity", "/api/v1/analytics/effort-composition?granularity=hour"},
		{"bad level", "/api/v1/analytics/anomalies?min_level=huge"},
		{"bad window", "/api/v1/analytics/correlations?window_days=abc"},
		{"bad focus", "/api/v1/analytics/chart-context?metric_key=hrv_sdnn&focus_date=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// TestHandleStoreError verifies storage failures map to 500 without leaking details.
func TestHandleStoreError(t *testing.T) {
	store := seededStore()
	store.err = errors.New("connection refused")
	s := newTestServer(store, &fakeIngester{}, Options{})

	rec := get(t, s, "/api/v1/analytics/scores?start_date=2024-05-01&end_date=2024-05-31")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "internal error detail leaked to the client")
}

// TestHandleAnalyticsEndpoints verifies every read route answers 200 on seeded data.
func TestHandleAnalyticsEndpoints(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	for _, target := range []string{
		"/api/v1/analytics/overview",
		"/api/v1/analytics/anomalies?min_level=none",
		"/api/v1/analytics/correlations",
		"/api/v1/analytics/chart-context?metric_key=hrv_sdnn&focus_date=2024-05-20",
		"/api/v1/analytics/scores",
		"/api/v1/analytics/recovery-vs-strain",
		"/api/v1/analytics/effort-composition?granularity=week",
		"/api/v1/analytics/readiness-timeline?start_date=2024-05-25&end_date=2024-05-31",
		"/api/v1/stats",
		"/api/v1/imports",
	} {
		rec := get(t, s, target)
		assert.Equal(t, http.StatusOK, rec.Code, "%s: %s", target, rec.Body.String())
	}
}

// TestHandleReadinessTimeline verifies one entry per requested day.
func TestHandleReadinessTimeline(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{})
	rec := get(t, s, "/api/v1/analytics/readiness-timeline?start_date=2024-05-25&end_date=2024-05-31")
	var resp insights.ReadinessTimelineResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Days, 7)
}

// TestHandleIngest verifies the authenticated ingest path passes parsed points through.
func TestHandleIngest(t *testing.T) {
	ing := &fakeIngester{}
	s := newTestServer(seededStore(), ing, Options{})

	body := `{"metrics":[{"date":"2024-06-01","metric_key":"steps","value":8000,"unit":"count"},
	                     {"date":"2024-06-01","metric_key":"hrv_sdnn","value":null,"unit":"ms"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/", strings.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ing.got, 2)
	assert.True(t, ing.got[0].Date.Equal(date("2024-06-01")))
	assert.Equal(t, 8000.0, *ing.got[0].Value)
	assert.Nil(t, ing.got[1].Value, "null value should stay a gap")
	var stats importer.Stats
	decode(t, rec, &stats)
	assert.Equal(t, "batch-1", stats.BatchID)
}

// TestHandleIngestRejects verifies auth, JSON and rate limit failures.
func TestHandleIngestRejects(t *testing.T) {
	s := newTestServer(seededStore(), &fakeIngester{}, Options{IngestRate: 0.001, IngestBurst: 1})

	post := func(key, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/", strings.NewReader(body))
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("", `{}`), "no key")
	assert.Equal(t, http.StatusForbidden, post("wrong", `{}`), "wrong key")
	assert.Equal(t, http.StatusBadRequest, post("test-key", `{not json`), "bad json")
	assert.Equal(t, http.StatusTooManyRequests, post("test-key", `{"metrics":[]}`), "over limit")
}
