package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/models"
)

// RedisClient is the subset of *redis.Client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis stores baseline windows as JSON strings.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. prefix namespaces keys; a zero ttl keeps entries forever.
func NewRedis(client RedisClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k Key) string {
	if r.prefix == "" {
		return k.String()
	}
	return r.prefix + ":" + k.String()
}

// Get returns the cached window; a missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key Key) (analytics.BaselineWindow, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return analytics.BaselineWindow{}, false, nil
		}
		return analytics.BaselineWindow{}, false, fmt.Errorf("getting baseline %s: %w", key, err)
	}

	var w analytics.BaselineWindow
	if err := json.Unmarshal(data, &w); err != nil {
		return analytics.BaselineWindow{}, false, fmt.Errorf("decoding baseline %s: %w", key, err)
	}
	// as_of_date is rendered for clients but not decoded
	w.AsOf = models.Day(key.AsOf)
	return w, true, nil
}

// Set stores window under key.
func (r *Redis) Set(ctx context.Context, key Key, window analytics.BaselineWindow) error {
	data, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("encoding baseline %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("setting baseline %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity when the client supports it.
func (r *Redis) Ping(ctx context.Context) error {
	p, ok := r.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	if err := p.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}
