package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/models"
)

func testWindow(asOf time.Time) analytics.BaselineWindow {
	return analytics.BaselineWindow{
		MetricKey:   models.MetricHRV,
		AsOf:        asOf,
		Median:      models.Float(50),
		P25:         models.Float(45),
		P75:         models.Float(55),
		SampleCount: 60,
		WindowDays:  90,
	}
}

func testKey() Key {
	return Key{MetricKey: models.MetricHRV, AsOf: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), WindowDays: 90}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "baseline:hrv_sdnn:2024-01-15:90", testKey().String())

	k := testKey()
	k.Version = "v12"
	assert.Equal(t, "baseline:hrv_sdnn:2024-01-15:90:v12", k.String())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	k := testKey()

	_, ok, err := m.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, k, testWindow(k.AsOf)))
	got, ok, err := m.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testWindow(k.AsOf), got)
	assert.Equal(t, 1, m.Len())

	other := k
	other.WindowDays = 28
	_, ok, _ = m.Get(ctx, other)
	assert.False(t, ok, "window size is part of the key")

	newer := k
	newer.Version = "v2"
	_, ok, _ = m.Get(ctx, newer)
	assert.False(t, ok, "data version is part of the key")
}

// fakeRedis is an in-memory RedisClient.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

// TestRedisRoundTrip restores the as-of day from the key.
func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedis(fake, "healthlens", time.Hour)
	k := testKey()

	_, ok, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, k, testWindow(k.AsOf)))
	assert.Contains(t, fake.data, "healthlens:baseline:hrv_sdnn:2024-01-15:90")
	assert.Equal(t, time.Hour, fake.ttl["healthlens:baseline:hrv_sdnn:2024-01-15:90"])

	got, ok, err := r.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testWindow(k.AsOf), got)
}

func TestRedisErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedis(fake, "", 0)
	k := testKey()

	fake.err = errors.New("connection refused")
	_, _, err := r.Get(ctx, k)
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, r.Set(ctx, k, testWindow(k.AsOf)))

	fake.err = nil
	fake.data[k.String()] = "{not json"
	_, ok, err := r.Get(ctx, k)
	assert.Error(t, err)
	assert.False(t, ok)
}

// TestRedisUnavailableBaseline keeps nil statistics nil.
func TestRedisUnavailableBaseline(t *testing.T) {
	ctx := context.Background()
	r := NewRedis(newFakeRedis(), "", 0)
	k := testKey()
	w := analytics.BaselineWindow{MetricKey: models.MetricHRV, AsOf: k.AsOf, SampleCount: 2, WindowDays: 90}

	require.NoError(t, r.Set(ctx, k, w))
	got, ok, err := r.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Available())
	assert.Equal(t, w, got)
}
