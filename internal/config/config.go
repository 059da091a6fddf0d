package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claude/healthlens/internal/analytics"
	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/models"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Cache     CacheConfig     `yaml:"cache"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// IngestRatePerSecond and IngestBurst throttle POST /ingest.
	IngestRatePerSecond float64 `yaml:"ingest_rate_per_second"`
	IngestBurst         int     `yaml:"ingest_burst"`
}

// DatabaseConfig selects the store. Postgres uses the host fields; SQLite
// uses Path.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// CacheConfig picks the baseline cache backend: memory, redis or none.
type CacheConfig struct {
	Type          string        `yaml:"type"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

type AnalyticsConfig struct {
	BaselineWindowDays     int           `yaml:"baseline_window_days"`
	MinSamples             int           `yaml:"min_samples"`
	MaxRangeDays           int           `yaml:"max_range_days"`
	MildFence              float64       `yaml:"mild_fence"`
	StrongFence            float64       `yaml:"strong_fence"`
	FlatBandFraction       float64       `yaml:"flat_band_fraction"`
	TrendEpsilon           float64       `yaml:"trend_epsilon"`
	RecoveryDeltaThreshold int           `yaml:"recovery_delta_threshold"`
	CorrelationWindowDays  int           `yaml:"correlation_window_days"`
	Scoring                ScoringConfig `yaml:"scoring"`
}

type ScoringConfig struct {
	HRVWeight    float64             `yaml:"hrv_weight"`
	RHRWeight    float64             `yaml:"rhr_weight"`
	EffortWeight float64             `yaml:"effort_weight"`
	EffortMetric string              `yaml:"effort_metric"`
	StrainInputs []StrainInputConfig `yaml:"strain_inputs"`
}

type StrainInputConfig struct {
	Metric string  `yaml:"metric"`
	Weight float64 `yaml:"weight"`
}

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Default returns a config with every optional field populated.
func Default() *Config {
	scoring := analytics.DefaultScoringConfig()
	strain := make([]StrainInputConfig, 0, len(scoring.StrainInputs))
	for _, in := range scoring.StrainInputs {
		strain = append(strain, StrainInputConfig{Metric: in.MetricKey, Weight: in.Weight})
	}
	return &Config{
		Server: ServerConfig{
			Host:                "127.0.0.1",
			IngestRatePerSecond: 5,
			IngestBurst:         10,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Tailscale: TailscaleConfig{
			Hostname: "healthlens",
			StateDir: "tsnet-state",
		},
		Cache: CacheConfig{
			Type:   CacheMemory,
			Prefix: "healthlens",
		},
		Analytics: AnalyticsConfig{
			BaselineWindowDays:     analytics.DefaultBaselineWindowDays,
			MinSamples:             analytics.DefaultMinSamples,
			MaxRangeDays:           insights.DefaultMaxRangeDays,
			MildFence:              analytics.DefaultMildFence,
			StrongFence:            analytics.DefaultStrongFence,
			FlatBandFraction:       analytics.DefaultFlatBandFraction,
			TrendEpsilon:           analytics.DefaultTrendEpsilon,
			RecoveryDeltaThreshold: analytics.DefaultRecoveryDeltaThreshold,
			CorrelationWindowDays:  analytics.DefaultCorrelationWindow,
			Scoring: ScoringConfig{
				HRVWeight:    scoring.HRVWeight,
				RHRWeight:    scoring.RHRWeight,
				EffortWeight: scoring.EffortWeight,
				EffortMetric: scoring.EffortMetric,
				StrainInputs: strain,
			},
		},
	}
}

// DSN returns the connection string for the configured driver: a postgres
// URL, or the SQLite file path.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file over Default(), then applies
// environment variable overrides. Env vars use the prefix HEALTHLENS_ and
// underscore-separated paths:
//
//	HEALTHLENS_SERVER_HOST, HEALTHLENS_SERVER_PORT,
//	HEALTHLENS_DB_DRIVER, HEALTHLENS_DB_PATH,
//	HEALTHLENS_DB_HOST, HEALTHLENS_DB_PORT, HEALTHLENS_DB_NAME,
//	HEALTHLENS_DB_USER, HEALTHLENS_DB_PASSWORD, HEALTHLENS_DB_SSLMODE,
//	HEALTHLENS_AUTH_API_KEY,
//	HEALTHLENS_TAILSCALE_ENABLED, HEALTHLENS_TAILSCALE_HOSTNAME,
//	HEALTHLENS_CACHE_TYPE, HEALTHLENS_CACHE_REDIS_ADDR, HEALTHLENS_CACHE_REDIS_PASSWORD,
//	HEALTHLENS_ANALYTICS_BASELINE_WINDOW_DAYS, HEALTHLENS_ANALYTICS_MIN_SAMPLES
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("HEALTHLENS_SERVER_HOST", &cfg.Server.Host)
	num("HEALTHLENS_SERVER_PORT", &cfg.Server.Port)

	str("HEALTHLENS_DB_DRIVER", &cfg.Database.Driver)
	str("HEALTHLENS_DB_PATH", &cfg.Database.Path)
	str("HEALTHLENS_DB_HOST", &cfg.Database.Host)
	num("HEALTHLENS_DB_PORT", &cfg.Database.Port)
	str("HEALTHLENS_DB_NAME", &cfg.Database.Name)
	str("HEALTHLENS_DB_USER", &cfg.Database.User)
	str("HEALTHLENS_DB_PASSWORD", &cfg.Database.Password)
	str("HEALTHLENS_DB_SSLMODE", &cfg.Database.SSLMode)

	str("HEALTHLENS_AUTH_API_KEY", &cfg.Auth.APIKey)

	if v := os.Getenv("HEALTHLENS_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("HEALTHLENS_TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)

	str("HEALTHLENS_CACHE_TYPE", &cfg.Cache.Type)
	str("HEALTHLENS_CACHE_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("HEALTHLENS_CACHE_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	num("HEALTHLENS_ANALYTICS_BASELINE_WINDOW_DAYS", &cfg.Analytics.BaselineWindowDays)
	num("HEALTHLENS_ANALYTICS_MIN_SAMPLES", &cfg.Analytics.MinSamples)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (want postgres or sqlite)", c.Database.Driver)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Cache.Type {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache.type %q is not supported (want memory, redis or none)", c.Cache.Type)
	}

	return c.Analytics.validate()
}

func (a AnalyticsConfig) validate() error {
	if a.BaselineWindowDays < 1 {
		return fmt.Errorf("analytics.baseline_window_days must be positive")
	}
	if a.MinSamples < 1 {
		return fmt.Errorf("analytics.min_samples must be positive")
	}
	if a.MaxRangeDays < 1 {
		return fmt.Errorf("analytics.max_range_days must be positive")
	}
	if a.MildFence <= 0 || a.StrongFence <= a.MildFence {
		return fmt.Errorf("analytics fences must satisfy 0 < mild_fence < strong_fence")
	}
	if a.TrendEpsilon < 0 {
		return fmt.Errorf("analytics.trend_epsilon must not be negative")
	}
	s := a.Scoring
	if s.HRVWeight < 0 || s.RHRWeight < 0 || s.EffortWeight < 0 {
		return fmt.Errorf("analytics.scoring weights must not be negative")
	}
	if s.HRVWeight+s.RHRWeight == 0 {
		return fmt.Errorf("analytics.scoring needs a positive hrv_weight or rhr_weight")
	}
	if _, ok := models.LookupMetric(s.EffortMetric); !ok {
		return fmt.Errorf("analytics.scoring.effort_metric %q is not a known metric", s.EffortMetric)
	}
	if len(s.StrainInputs) == 0 {
		return fmt.Errorf("analytics.scoring.strain_inputs must not be empty")
	}
	for _, in := range s.StrainInputs {
		if _, ok := models.LookupMetric(in.Metric); !ok {
			return fmt.Errorf("analytics.scoring.strain_inputs: %q is not a known metric", in.Metric)
		}
		if in.Weight <= 0 {
			return fmt.Errorf("analytics.scoring.strain_inputs: %s weight must be positive", in.Metric)
		}
	}
	return nil
}

// InsightsOptions converts the analytics section into engine options.
func (c *Config) InsightsOptions() insights.Options {
	a := c.Analytics
	opts := insights.DefaultOptions()
	opts.BaselineWindowDays = a.BaselineWindowDays
	opts.MinSamples = a.MinSamples
	opts.MaxRangeDays = a.MaxRangeDays
	opts.Classifier = analytics.Classifier{
		MildFence:        a.MildFence,
		StrongFence:      a.StrongFence,
		FlatBandFraction: a.FlatBandFraction,
	}
	opts.TrendEpsilon = a.TrendEpsilon
	opts.RecoveryDelta = a.RecoveryDeltaThreshold
	opts.CorrelationWindowDays = a.CorrelationWindowDays

	opts.Scoring.HRVWeight = a.Scoring.HRVWeight
	opts.Scoring.RHRWeight = a.Scoring.RHRWeight
	opts.Scoring.EffortWeight = a.Scoring.EffortWeight
	opts.Scoring.EffortMetric = a.Scoring.EffortMetric
	opts.Scoring.StrainInputs = make([]analytics.StrainInput, 0, len(a.Scoring.StrainInputs))
	for _, in := range a.Scoring.StrainInputs {
		opts.Scoring.StrainInputs = append(opts.Scoring.StrainInputs,
			analytics.StrainInput{MetricKey: in.Metric, Weight: in.Weight})
	}
	return opts
}
