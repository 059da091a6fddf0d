package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/claude/healthlens/internal/cache"
	"github.com/claude/healthlens/internal/config"
	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath    string
	migrationsDir string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:           "healthlens",
	Short:         "Personal health analytics over daily metrics.",
	Long:          `HealthLens stores daily health metrics and turns them into baselines, anomalies, correlations, and recovery/strain scores.`,
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information.",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("healthlens %s (%s)\n", Version, runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "directory holding per-driver migrations")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// newLogger logs to w; stdio transports must pass os.Stderr.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore loads config, applies migrations and connects to the database.
// The caller closes the returned store.
func openStore(ctx context.Context, log *slog.Logger) (*config.Config, storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(cfg.Database.Driver, dsn, migrationsDir); err != nil {
		return nil, nil, err
	}
	log.Info("migrations applied", "driver", cfg.Database.Driver)

	store, err := storage.Open(ctx, cfg.Database.Driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting database: %w", err)
	}
	log.Info("database connected", "driver", cfg.Database.Driver)
	return cfg, store, nil
}

// openCache builds the configured baseline cache. A nil cache disables
// caching.
func openCache(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (cache.BaselineCache, func(), error) {
	switch cfg.Type {
	case config.CacheNone:
		return nil, func() {}, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rc := cache.NewRedis(client, cfg.Prefix, cfg.TTL)
		if err := rc.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info("baseline cache", "type", "redis", "addr", cfg.RedisAddr)
		return rc, func() { _ = client.Close() }, nil
	default:
		log.Info("baseline cache", "type", "memory")
		return cache.NewMemory(), func() {}, nil
	}
}

// openService wires storage and cache into an insights.Service.
func openService(ctx context.Context, log *slog.Logger) (*config.Config, storage.Store, *insights.Service, func(), error) {
	cfg, store, err := openStore(ctx, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	bc, closeCache, err := openCache(ctx, cfg.Cache, log)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}
	svc := insights.New(store, bc, log, cfg.InsightsOptions())
	cleanup := func() {
		closeCache()
		store.Close()
	}
	return cfg, store, svc, cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
