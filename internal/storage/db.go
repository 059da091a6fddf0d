package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claude/healthlens/internal/models"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the persistence surface shared by the Postgres and SQLite backends.
type Store interface {
	UpsertDailyMetrics(ctx context.Context, points []models.MetricPoint) (int64, error)
	DailyMetrics(ctx context.Context, metricKey string, start, end time.Time) ([]models.MetricPoint, error)
	LatestDate(ctx context.Context) (*time.Time, error)
	DataVersion(ctx context.Context) (int64, error)
	GetDataStats(ctx context.Context) (*DataStats, error)
	InsertImportLog(ctx context.Context, log ImportLog) (int64, error)
	UpdateImportLog(ctx context.Context, id int64, log ImportLog) error
	QueryImportLogs(ctx context.Context, limit int) ([]ImportLog, error)
	Close()
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*SQLite)(nil)
)

// Open connects to the configured backend.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverPostgres, "":
		return New(ctx, dsn)
	case DriverSQLite:
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DB wraps a pgxpool.Pool and provides repository methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new DB with a connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations applies all pending migrations for driver from
// migrationsDir/<driver>.
func RunMigrations(driver, dsn, migrationsDir string) error {
	var url string
	switch driver {
	case DriverPostgres, "":
		driver, url = DriverPostgres, dsn
	case DriverSQLite:
		url = "sqlite://" + dsn
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	m, err := migrate.New("file://"+migrationsDir+"/"+driver, url)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
