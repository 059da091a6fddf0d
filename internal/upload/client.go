package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/models"
)

const maxAttempts = 3

// Client sends daily metrics to a HealthLens server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the HealthLens server.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		backoff: time.Second,
	}
}

// FetchCatalog retrieves the metric keys the server accepts.
func (c *Client) FetchCatalog(ctx context.Context) (map[string]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/v1/analytics/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog request failed (status %d): %s", resp.StatusCode, body)
	}

	var catalog struct {
		Metrics []models.MetricInfo `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	keys := make(map[string]bool, len(catalog.Metrics))
	for _, m := range catalog.Metrics {
		keys[m.MetricKey] = true
	}
	return keys, nil
}

// SendBatch POSTs points to the ingest endpoint. Network errors, 429 and 5xx
// responses are retried with exponential backoff; other statuses fail at once.
func (c *Client) SendBatch(ctx context.Context, points []models.MetricPoint) (*importer.Stats, error) {
	data, err := json.Marshal(map[string]any{"metrics": points})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch: %w", err)
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff << (attempt - 1)):
			}
		}

		stats, retry, err := c.post(ctx, data)
		if err == nil {
			return stats, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, data []byte) (*importer.Stats, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/ingest/", bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("ingest failed (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var stats importer.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, false, fmt.Errorf("decoding ingest response: %w", err)
	}
	return &stats, false, nil
}
