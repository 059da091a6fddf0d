package upload

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/models"
)

// fakeServer records ingest batches and answers the catalog endpoint.
type fakeServer struct {
	mu       sync.Mutex
	batches  [][]models.MetricPoint
	failures int // leading ingest calls that answer with status
	status   int
	keys     []string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics/metrics", func(w http.ResponseWriter, r *http.Request) {
		var metrics []models.MetricInfo
		for _, k := range f.keys {
			metrics = append(metrics, models.MetricInfo{MetricKey: k})
		}
		json.NewEncoder(w).Encode(map[string]any{"metrics": metrics, "count": len(metrics)})
	})
	mux.HandleFunc("POST /api/v1/ingest/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			w.WriteHeader(f.status)
			return
		}
		var body struct {
			Metrics []models.MetricPoint `json:"metrics"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body), "decoding batch")
		f.batches = append(f.batches, body.Metrics)
		json.NewEncoder(w).Encode(importer.Stats{BatchID: "b", RowsUpserted: int64(len(body.Metrics))})
	})
	return mux
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestClient(url, key string) *Client {
	c := NewClient(url, key)
	c.backoff = 0
	return c
}

// TestUploadBatchesAndState verifies batching, catalog filtering, and that a
// second run skips unchanged files.
func TestUploadBatchesAndState(t *testing.T) {
	fs := &fakeServer{keys: []string{"steps", "hrv_sdnn"}}
	ts := httptest.NewServer(fs.handler(t))
	defer ts.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "date,metric_key,value\n2024-03-01,steps,1\n2024-03-02,steps,2\n2024-03-03,steps,3\n2024-03-01,mood,4\n")
	writeFile(t, dir, "skip.txt", "not a table")

	ctx := context.Background()
	state, err := OpenStateDB(ctx, t.TempDir())
	require.NoError(t, err)
	defer state.Close()

	stats, err := New(newTestClient(ts.URL, "secret"), state, dir, false, 2, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesTotal)
	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 3, stats.PointsSent)
	assert.Equal(t, int64(3), stats.RowsUpserted)
	assert.Equal(t, []string{"mood"}, stats.RejectedMetrics)
	require.Len(t, fs.batches, 2)
	assert.Len(t, fs.batches[0], 2)
	assert.Len(t, fs.batches[1], 1)

	again, err := New(newTestClient(ts.URL, "secret"), state, dir, false, 2, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.FilesSkipped)
	assert.Len(t, fs.batches, 2, "unchanged file is not sent again")

	// changed content is pushed again
	writeFile(t, dir, "a.csv", "date,metric_key,value\n2024-03-04,steps,9\n")
	third, err := New(newTestClient(ts.URL, "secret"), state, dir, false, 2, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.FilesUploaded)
	assert.Len(t, fs.batches, 3)
}

// TestUploadDryRun verifies nothing is sent and no server is contacted.
func TestUploadDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "date,metric_key,value\n2024-03-01,steps,1\n2024-03-01,mood,2\n")

	stats, err := New(NewClient("http://127.0.0.1:1", ""), nil, dir, true, 0, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PointsSent)
	assert.Equal(t, 1, stats.FilesUploaded)
}

// TestSendBatchRetries verifies 5xx responses are retried.
func TestSendBatchRetries(t *testing.T) {
	fs := &fakeServer{failures: 2, status: http.StatusServiceUnavailable}
	ts := httptest.NewServer(fs.handler(t))
	defer ts.Close()

	res, err := newTestClient(ts.URL, "secret").SendBatch(context.Background(), []models.MetricPoint{
		{Date: mustDate(t, "2024-03-01"), MetricKey: "steps", Value: models.Float(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsUpserted)
}

// TestSendBatchNoRetryOnAuth verifies a rejected key fails after one attempt.
func TestSendBatchNoRetryOnAuth(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL, "wrong").SendBatch(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}
